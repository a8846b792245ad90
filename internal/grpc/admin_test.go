package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/db/memory"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/model"
)

const testServiceToken = "svc-token"

func dialTestServer(t *testing.T) (*grpc.ClientConn, *memory.Store, *calendar.Calendar) {
	t.Helper()
	store := memory.NewStore()
	oracle := enrollment.NewStatic("",
		model.EnrollmentFact{UserID: "prof", CourseCode: "GEO101", Role: model.RoleInstructor, IsActive: true},
		model.EnrollmentFact{UserID: "a", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true},
		model.EnrollmentFact{UserID: "b", CourseCode: "GEO101", Role: model.RoleStudent, IsActive: true},
	)
	cal, err := calendar.New("+05:00")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	svc := attendance.NewService(attendance.Deps{Store: store, Oracle: oracle, Calendar: cal, RadiusMeters: 400})

	server, _, err := NewServer(testServiceToken, svc)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, store, cal
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ServiceTokenHeader, token)
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+AdminServiceName+"/"+method, req, out)
	return out, err
}

func TestServiceTokenRequired(t *testing.T) {
	conn, _, _ := dialTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := invoke(ctx, conn, "Reconcile", map[string]interface{}{"all": true})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
	_, err = invoke(withToken(ctx, "wrong"), conn, "Reconcile", map[string]interface{}{"all": true})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestHealthSkipsServiceToken(t *testing.T) {
	conn, _, _ := dialTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: AdminServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}
}

func TestReconcileAndRates(t *testing.T) {
	conn, store, cal := dialTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = withToken(ctx, testServiceToken)

	yesterday := cal.Today().AddDate(0, 0, -1)
	session, err := store.IssueSession(ctx, model.Session{CourseCode: "GEO101", Date: yesterday, Token: "old"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.UpsertRecord(ctx, session.ID, "a", model.StatusLate, model.Instructor("prof")); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	out, err := invoke(ctx, conn, "Reconcile", map[string]interface{}{"all": true})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := out.GetFields()["recordsCreated"].GetNumberValue(); got != 1 {
		t.Fatalf("expected 1 record created, got %v", got)
	}

	_, err = invoke(ctx, conn, "Reconcile", map[string]interface{}{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument without actor, got %v", err)
	}

	out, err = invoke(ctx, conn, "CourseRates", map[string]interface{}{"courseCode": "GEO101", "variant": "weighted"})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	rates := out.GetFields()["rates"].GetListValue().GetValues()
	if len(rates) != 2 {
		t.Fatalf("expected 2 rates, got %d", len(rates))
	}
	first := rates[0].GetStructValue().GetFields()
	if first["studentId"].GetStringValue() != "a" || first["attendanceRate"].GetNumberValue() != 50 {
		t.Fatalf("unexpected rate %v", first)
	}

	_, err = invoke(ctx, conn, "CourseRates", map[string]interface{}{"courseCode": "GEO101", "variant": "optimistic"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}
