package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"AI_PROCTOR/go-backend/internal/audit"
	"AI_PROCTOR/go-backend/internal/auth"
	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/config"
	"AI_PROCTOR/go-backend/internal/database"
	"AI_PROCTOR/go-backend/internal/gaze"
	"AI_PROCTOR/go-backend/internal/handlers"
	"AI_PROCTOR/go-backend/internal/logging"
	"AI_PROCTOR/go-backend/internal/proctor"
	"AI_PROCTOR/go-backend/internal/services"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const version = "1.0"

func main() {
	cfg := config.LoadConfig()

	httpPort := flag.String("http-port", cfg.HTTPPort, "HTTP port")
	grpcPort := flag.String("grpc-port", cfg.GRPCPort, "gRPC port")
	faceMeshURL := flag.String("facemesh-url", cfg.FaceMeshURL, "Face mesh inference service address")
	localFaceMesh := flag.String("local-facemesh", "", "Serve a static face mesh on this address and use it (development only)")
	flag.Parse()

	logger := logging.New(cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)

	logger.Info("starting proctoring backend",
		"http_port", *httpPort,
		"grpc_port", *grpcPort,
		"facemesh_url", *faceMeshURL,
		"environment", cfg.Environment,
	)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *localFaceMesh != "" {
		stop, err := serveLocalFaceMesh(*localFaceMesh, logger)
		if err != nil {
			logger.Error("failed to start local face mesh", "error", err)
			os.Exit(1)
		}
		defer stop()
		*faceMeshURL = *localFaceMesh
	}

	// Storage: Postgres when configured, memory otherwise.
	var (
		pool    *pgxpool.Pool
		users   auth.UserRepository = auth.NewMemoryUsers()
		auditor audit.Auditor       = audit.LogAuditor{Logger: logger.With("component", "audit_log")}
	)
	if cfg.HasDatabase() {
		logger.Info("connecting to database", "dsn", cfg.DSNForLog())
		dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
		p, err := database.InitDB(dbCtx, cfg.DSN(), logger)
		dbCancel()
		if err != nil {
			logger.Error("database unavailable, continuing in memory", "error", err)
		} else {
			pool = p
			users = auth.NewPostgresUsers(pool)
			auditor = audit.NewPostgresStore(pool)
		}
	}

	metrics := services.GetMetrics()

	dispatcher := audit.NewDispatcher(auditor, cfg.Proctoring.AuditQueueSize, cfg.Proctoring.AuditTimeout, logger)
	dispatcher.OnFailure = metrics.AuditFailed

	adapter := gaze.NewAdapter(services.DetectorFactory(*faceMeshURL, logger), clock.Real(), logger)
	adapter.ObserveLatency = metrics.RecordLatency

	probe, err := services.NewGRPCClient(*faceMeshURL, logger)
	if err != nil {
		logger.Warn("face mesh service unavailable", "error", err)
	}
	var faceMeshHealthy func(context.Context) bool
	if probe != nil {
		defer probe.Close()
		faceMeshHealthy = probe.HealthCheck
	}

	registry := proctor.NewRegistry()
	registry.OnCountChange = metrics.SetActiveSessions

	authSvc := auth.NewService(users, auth.NewSessions(), logger)
	cors := handlers.NewCORS(cfg.CORSOrigins)
	authH := handlers.NewAuthHandler(authSvc, cors, !cfg.IsDev(), logger)
	operatorH := handlers.NewOperatorHandler(authH, registry, cors, logger)
	wsH := handlers.NewWSHandler(cfg.Proctoring, handlers.WSDeps{
		Auth:       authH,
		Registry:   registry,
		Classifier: adapter,
		Emitter:    dispatcher,
		Metrics:    metrics,
		CORS:       cors,
		Logger:     logger,
	})

	// gRPC server: health only; it follows the face mesh service.
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(50*1024*1024),
		grpc.MaxSendMsgSize(50*1024*1024),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reporter := handlers.NewHealthReporter(healthSrv, faceMeshHealthy, clock.Real(), 15*time.Second, logger)
	go reporter.Run(ctx)

	go startGRPCServer(grpcServer, *grpcPort, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsH)
	mux.HandleFunc("/api/auth/register", authH.Register)
	mux.HandleFunc("/api/auth/login", authH.Login)
	mux.HandleFunc("/api/auth/logout", authH.Logout)
	mux.HandleFunc("/api/auth/me", authH.GetCurrentUser)
	mux.HandleFunc("/api/operator/snapshot", operatorH.Snapshot)
	mux.Handle("/api/health", handlers.NewHealthHandler(registry, faceMeshHealthy, clock.Real(), version))
	mux.Handle("/api/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         ":" + strings.TrimPrefix(*httpPort, ":"),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go startHTTPServer(httpServer, logger)

	<-done
	logger.Info("shutting down")

	reporter.Stop()

	logger.Info("closing websocket connections", "clients", wsH.Clients())
	wsH.CloseAll()
	registry.CloseAll()

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error("error shutting down HTTP server", "error", err)
	} else {
		logger.Info("HTTP server gracefully stopped")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info("gRPC server stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("forced gRPC shutdown")
		grpcServer.Stop()
	}

	if err := adapter.Dispose(); err != nil {
		logger.Warn("error disposing face detector", "error", err)
	}

	auditCtx, auditCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer auditCancel()
	if err := dispatcher.Close(auditCtx); err != nil {
		logger.Warn("audit queue not drained", "error", err)
	}

	if pool != nil {
		database.CloseDB(pool, logger)
	}
	logger.Info("goodbye")
}

func startGRPCServer(s *grpc.Server, port string, logger *slog.Logger) {
	lis, err := net.Listen("tcp", ":"+strings.TrimPrefix(port, ":"))
	if err != nil {
		logger.Error("failed to listen on gRPC port", "error", err)
		os.Exit(1)
	}
	logger.Info("gRPC server listening", "addr", lis.Addr().String())
	if err := s.Serve(lis); err != nil {
		logger.Error("failed to serve gRPC", "error", err)
		os.Exit(1)
	}
}

func startHTTPServer(s *http.Server, logger *slog.Logger) {
	logger.Info("HTTP server listening", "addr", s.Addr,
		"websocket", "ws://localhost"+s.Addr+"/ws",
		"api", "http://localhost"+s.Addr+"/api/*",
	)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("failed to serve HTTP", "error", err)
		os.Exit(1)
	}
}

// serveLocalFaceMesh runs a static face mesh that always reports a
// centred face, for working on the pipeline without the model.
func serveLocalFaceMesh(addr string, logger *slog.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := grpc.NewServer()
	services.RegisterFaceLandmarksServer(s, services.StaticFaceServer{})
	hs := health.NewServer()
	hs.SetServingStatus(services.FaceLandmarksService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		if err := s.Serve(lis); err != nil {
			logger.Error("local face mesh stopped", "error", err)
		}
	}()
	logger.Warn("serving static face mesh, gaze results are not real", "addr", lis.Addr().String())
	return s.Stop, nil
}
