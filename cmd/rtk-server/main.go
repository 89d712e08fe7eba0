package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/rtk/internal/config"
	"github.com/me/rtk/internal/logging"
	"github.com/me/rtk/internal/server"
	"github.com/me/rtk/internal/store"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.rtk/rtk.db)")
	flag.DurationVar(&cfg.Run.Timeout, "run-timeout", cfg.Run.Timeout, "Wall-clock limit of one scenario run")
	flag.Uint64Var(&cfg.Run.MaxTicks, "max-ticks", cfg.Run.MaxTicks, "Upper bound on a scenario's tick budget (0 = none)")
	maxTasks := flag.Uint("max-tasks", uint(cfg.Run.MaxTasks), "Upper bound on a scenario's task table (0 = none)")
	maxMutexes := flag.Uint("max-mutexes", uint(cfg.Run.MaxMutexes), "Upper bound on a scenario's mutex table (0 = none)")
	flag.BoolVar(&cfg.Run.Realtime, "allow-realtime", cfg.Run.Realtime, "Honor realtime pacing requested by scenarios")
	flag.Int64Var(&cfg.MaxBodyBytes, "max-body", cfg.MaxBodyBytes, "Maximum request body size in bytes")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	cfg.Run.MaxTasks = uint32(min(*maxTasks, math.MaxUint32))
	cfg.Run.MaxMutexes = uint32(min(*maxMutexes, math.MaxUint32))
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".rtk")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "rtk.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	srv := server.New(cfg, st, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "version", server.Version,
			"run_timeout", cfg.Run.Timeout, "max_ticks", cfg.Run.MaxTicks, "max_tasks", cfg.Run.MaxTasks)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// in-flight runs end at their own timeout; give them that long
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.Timeout+5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
