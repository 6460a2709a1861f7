package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authguard/internal/config"
	"authguard/internal/health"
	"authguard/internal/logging"
	"authguard/internal/server"
	"authguard/internal/server/httpapi"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.Setup(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	checker := health.Checker{Policy: a.evaluator, Timeout: cfg.StorageTimeout}
	if a.conn != nil {
		checker.DB = a.conn
	}

	limiter := httpapi.NewIPRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst, nil)
	opts := httpapi.Options{
		TrustForwardedFor: cfg.TrustForwardedFor,
		Limiter:           limiter,
		Ready:             checker,
		Logger:            logger,
	}
	if a.devOTP != nil {
		opts.DevOTP = a.devOTP
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(a.engine, opts), opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		a.close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	grpcSrv, healthSrv := server.NewGRPCServer(logger)

	// Background loops stop when ctx is cancelled.
	bg, cancelBG := context.WithCancel(context.Background())
	done := make(chan struct{}, 3)
	go func() { a.engine.Monitor.Run(bg, cfg.MonitorInterval); done <- struct{}{} }()
	go func() { checker.Watch(bg, healthSrv, server.ServiceName, 10*time.Second, logger); done <- struct{}{} }()
	go func() {
		if limiter != nil {
			limiter.Run(bg)
		}
		done <- struct{}{}
	}()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()
	cancelBG()
	for i := 0; i < cap(done); i++ {
		<-done
	}
	a.close(shutdownCtx)
	logger.Info("stopped")
	return runErr
}
