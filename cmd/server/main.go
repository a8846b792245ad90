package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/calendar"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/db/memory"
	"rollcall/attendance/internal/enrollment"
	"rollcall/attendance/internal/geo"
	attendancegrpc "rollcall/attendance/internal/grpc"
	internalhttp "rollcall/attendance/internal/http"
	"rollcall/attendance/internal/jobs"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
	"rollcall/attendance/internal/notify"
)

func main() {
	cfg := config.Load()

	std := logging.NewStd(nil)
	var logger logging.Logger = std
	if cfg.RollbarToken != "" {
		hostname, _ := os.Hostname()
		reporter := logging.NewRollbar(std, cfg.RollbarToken, cfg.AppEnv, hostname)
		defer reporter.Close()
		logger = reporter
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cal, err := calendar.New(cfg.InstitutionUTCOffset)
	if err != nil {
		log.Fatalf("invalid INSTITUTION_UTC_OFFSET: %v", err)
	}
	anchors, err := geo.ParseAnchors(cfg.CampusAnchors)
	if err != nil {
		log.Fatalf("invalid CAMPUS_ANCHORS: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", "err", err)
			}
		}()
	}

	var (
		store  attendance.Store
		oracle enrollment.Oracle
	)
	switch cfg.StoreDriver {
	case "memory":
		store = memory.NewStore()
		static := enrollment.NewStatic(cfg.AcademicYear)
		if cfg.EnrollmentFile != "" {
			static, err = enrollment.LoadStatic(cfg.EnrollmentFile, cfg.AcademicYear)
			if err != nil {
				log.Fatalf("enrollment file: %v", err)
			}
		}
		oracle = static
		logger.Warn("using in-memory store; data is lost on exit")
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connection failed: %v", err)
		}
		defer pool.Close()
		if cfg.RunMigrations {
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				log.Fatalf("migrations failed: %v", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", "files", applied)
			}
		}
		store = db.NewStore(pool, m)
		oracle = enrollment.NewRegistry(pool, cfg.AcademicYear)
	default:
		log.Fatalf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	oracle = enrollment.WithTimeout(oracle, cfg.EnrollmentTimeout)
	if redisClient != nil {
		oracle = enrollment.NewCached(oracle, redisClient, cfg.EnrollmentCacheTTL, logger)
	}

	dispatcher, err := newDispatcher(cfg, redisClient, logger)
	if err != nil {
		log.Fatalf("notification dispatcher: %v", err)
	}

	svc := attendance.NewService(attendance.Deps{
		Store:        store,
		Oracle:       oracle,
		Calendar:     cal,
		Anchors:      anchors,
		RadiusMeters: cfg.GeofenceRadiusMeters,
		Notifier:     notify.NewAsync(dispatcher, cfg.NotifyTimeout, logger, m),
		Logger:       logger,
		Metrics:      m,
	})

	server := internalhttp.NewServer(cfg, svc, logger, registry)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer, err := attendancegrpc.NewServer(cfg.ServiceAuthToken, svc)
	if err != nil {
		log.Fatalf("grpc service auth init failed: %v", err)
	}

	if _, err := jobs.StartBackfillJob(ctx, cfg, svc.Reconciler, cal.Location(), logger); err != nil {
		log.Fatalf("backfill job: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("attendance http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("attendance grpc listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", "err", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newDispatcher(cfg config.Config, redisClient *redis.Client, logger logging.Logger) (notify.Dispatcher, error) {
	switch cfg.NotifyDriver {
	case "", "log":
		return notify.NewLog(logger), nil
	case "redis":
		if redisClient == nil {
			return nil, errRedisRequired
		}
		return notify.NewRedisStream(redisClient, cfg.NotifyStream), nil
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil, errSendGridKeyRequired
		}
		return notify.NewSendGrid(cfg.SendGridAPIKey, cfg.NotifyFromEmail), nil
	default:
		return nil, errUnknownNotifyDriver
	}
}
