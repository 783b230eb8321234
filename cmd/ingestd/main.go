// Command ingestd is the disc ingestion daemon: it watches configured
// optical drives, rips inserted discs, matches titles against a library's
// existing episodes, and organizes the results, all driven by the
// orchestrator and exposed over an HTTP API and a control socket.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"ingestorchestrator/internal/api"
	"ingestorchestrator/internal/applog"
	"ingestorchestrator/internal/config"
	"ingestorchestrator/internal/ctlproto"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	lock := flock.New(cfg.Paths.PIDFile)
	ok, err := lock.TryLock()
	if err != nil {
		log.Fatalf("acquire instance lock: %v", err)
	}
	if !ok {
		log.Fatalf("another ingestd instance is already running (lock held at %s)", cfg.Paths.PIDFile)
	}
	defer lock.Unlock() //nolint:errcheck
	if err := writePIDFile(cfg.Paths.PIDFile); err != nil {
		log.Fatalf("write pid file: %v", err)
	}

	hub := applog.NewHub(0)
	logger, logPath, err := applog.New(cfg, hub, strconv.FormatInt(time.Now().Unix(), 10))
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	logger.Info("ingestd starting", "log_path", logPath, "database_path", cfg.Paths.DatabasePath)
	applog.CleanupOldLogs(logger, cfg.Logging.RetentionDays, applog.RetentionTarget{
		Dir: cfg.Paths.LogDir, Pattern: "run-*.log", Exclude: []string{logPath},
	})

	a, err := build(ctx, cfg, logger, hub)
	if err != nil {
		logger.Error("build daemon", "error", err)
		os.Exit(1)
	}
	defer a.store.Close() //nolint:errcheck

	a.orch.Start(ctx)
	go a.sentinel.Run(ctx)

	service := api.NewService(a.store, cfg)
	actions := api.NewActions(a.store, a.orch, a.resolver, cfg)
	httpServer := api.NewServer(service, actions, a.bus, logger)

	var apiSrv *http.Server
	if cfg.Paths.APIBind != "" {
		apiSrv = &http.Server{Addr: cfg.Paths.APIBind, Handler: httpServer.Handler()}
		listener, err := net.Listen("tcp", cfg.Paths.APIBind)
		if err != nil {
			logger.Error("api listen", "error", err, "bind", cfg.Paths.APIBind)
			os.Exit(1)
		}
		go func() {
			if err := apiSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("api server", "error", err)
			}
		}()
		logger.Info("api server listening", "bind", cfg.Paths.APIBind)
	}

	ctlSrv, err := ctlproto.NewServer(ctx, cfg.Paths.SocketPath, service, actions, a.store, a.bus, a.notifier, logger)
	if err != nil {
		logger.Error("start control socket", "error", err)
		os.Exit(1)
	}
	defer ctlSrv.Close()
	ctlSrv.Serve()
	logger.Info("control socket listening", "path", cfg.Paths.SocketPath)

	<-ctx.Done()
	logger.Info("ingestd shutting down")

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = apiSrv.Shutdown(shutdownCtx)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
