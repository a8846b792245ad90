package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"rollcall/attendance/internal/attendance"
)

const AdminServiceName = "rollcall.attendance.v1.AttendanceAdminService"

// AdminService is the internal administrative surface. Messages are google.protobuf.Struct.
type AdminService interface {
	Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CourseRates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reconcile", Handler: unaryHandler("Reconcile", AdminService.Reconcile)},
		{MethodName: "CourseRates", Handler: unaryHandler("CourseRates", AdminService.CourseRates)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rollcall/attendance/v1/admin.proto",
}

func RegisterAdminService(s grpc.ServiceRegistrar, srv AdminService) {
	s.RegisterService(&AdminServiceDesc, srv)
}

type adminMethod func(AdminService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, method adminMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + AdminServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(AdminService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return method(srv.(AdminService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type AdminServer struct {
	svc *attendance.Service
}

var _ AdminService = (*AdminServer)(nil)

func NewAdminServer(svc *attendance.Service) *AdminServer {
	return &AdminServer{svc: svc}
}

// Reconcile runs a sweep. {"all": true} covers every course; otherwise "actorId" names the
// instructor whose courses are swept.
func (s *AdminServer) Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	scope := attendance.Scope{All: fields["all"].GetBoolValue()}
	if scope.All {
		scope.Actor = attendance.SystemActor()
	} else {
		actorID := strings.TrimSpace(fields["actorId"].GetStringValue())
		if actorID == "" {
			return nil, status.Error(codes.InvalidArgument, "actorId required")
		}
		scope.Actor = attendance.Actor{ID: actorID}
	}

	result, err := s.svc.Reconciler.Reconcile(ctx, scope)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"sessionsProcessed": result.SessionsProcessed,
		"recordsCreated":    result.RecordsCreated,
		"sessionsFailed":    result.SessionsFailed,
	})
}

func (s *AdminServer) CourseRates(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	courseCode := strings.TrimSpace(fields["courseCode"].GetStringValue())
	if courseCode == "" {
		return nil, status.Error(codes.InvalidArgument, "courseCode required")
	}
	variant, ok := attendance.ParseRateVariant(fields["variant"].GetStringValue())
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "invalid variant")
	}

	rates, err := s.svc.Rates.CourseRates(ctx, attendance.SystemActor(), courseCode, variant)
	if err != nil {
		return nil, toStatus(err)
	}
	items := make([]interface{}, 0, len(rates))
	for _, rate := range rates {
		items = append(items, map[string]interface{}{
			"studentId":      rate.StudentID,
			"attendanceRate": rate.Percentage,
			"totalPresent":   rate.Attended(),
			"totalLate":      rate.Late,
			"totalSessions":  rate.TotalSessions,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"courseCode": courseCode,
		"variant":    string(variant),
		"rates":      items,
	})
}

func toStatus(err error) error {
	switch attendance.CodeOf(err) {
	case "":
		return status.Error(codes.Internal, "server_error")
	case attendance.ErrUnauthorized:
		return status.Error(codes.PermissionDenied, attendance.ErrUnauthorized)
	case attendance.ErrSessionNotFound, attendance.ErrTokenNotFound:
		return status.Error(codes.NotFound, attendance.CodeOf(err))
	default:
		return status.Error(codes.InvalidArgument, attendance.CodeOf(err))
	}
}
