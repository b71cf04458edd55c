package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"trackmeta/internal/config"
	"trackmeta/internal/logger"
	"trackmeta/internal/pipeline"
	"trackmeta/internal/shutdown"
	"trackmeta/internal/web"
)

func main() {
	var (
		addr       string
		configPath string
		verbose    bool
	)

	flag.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flag.StringVar(&configPath, "config", "", "Config file path")
	flag.BoolVar(&verbose, "verbose", false, "Debug logging")
	flag.Parse()

	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if verbose {
		cfg.Log.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logPath := cfg.Log.File
	if logPath == "" {
		logPath = filepath.Join(config.GetDefaultLogPath(), fmt.Sprintf("trackmeta-web-%d.log", time.Now().Unix()))
	}
	l, err := logger.NewWithOptions(logger.Options{Verbose: cfg.Log.Verbose, FilePath: logPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to setup file logging: %v\n", err)
		l = logger.New(cfg.Log.Verbose)
	}
	defer l.Close()

	if err := serve(cfg, l); err != nil {
		l.Error("Server failed", err)
		l.Close()
		os.Exit(1)
	}
}

func serve(cfg config.Config, l *logger.Logger) error {
	sh := shutdown.New(l)
	sh.Listen()
	ctx := sh.Context()

	p, err := pipeline.New(ctx, cfg, l, pipeline.Deps{})
	if err != nil {
		return err
	}
	sh.AddCleanup("pipeline", p.Close)
	p.Aggregator.LogEnabled(ctx)

	jobMgr := web.NewJobManager()
	jobMgr.StartCleanup(ctx)
	server := web.NewServer(ctx, jobMgr, p.Aggregator, p.Metrics, cfg.Batch.Workers, l)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	// Registered after the pipeline so it runs first.
	sh.AddCleanup("http server", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	serveErr := make(chan error, 1)
	sh.Go(func(context.Context) {
		l.Info("Starting web server", "addr", cfg.Server.Addr)
		serveErr <- httpServer.ListenAndServe()
	})

	select {
	case err := <-serveErr:
		sh.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Blocks until the signal-triggered cleanups have finished.
	sh.Shutdown()
	if err := sh.Wait(15 * time.Second); err != nil {
		l.Warn("Shutdown incomplete", "error", err.Error())
	}
	l.Info("Server stopped")
	return nil
}
