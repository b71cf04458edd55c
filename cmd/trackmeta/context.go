package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"trackmeta/internal/config"
	"trackmeta/internal/logger"
	"trackmeta/internal/pipeline"
	"trackmeta/internal/settings"
	"trackmeta/internal/shutdown"
)

// commandContext lazily builds what subcommands share and tears it down
// once the command returns.
type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     config.Config
	configPath string
	configErr  error

	log      *logger.Logger
	shutdown *shutdown.Handler
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{configFlag: configFlag, verbose: verbose}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = config.FindConfigFile()
		}
		cfg, err := config.LoadConfigFile(path)
		if err != nil {
			c.configErr = err
			return
		}
		if *c.verbose {
			cfg.Log.Verbose = true
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) logger() *logger.Logger {
	if c.log != nil {
		return c.log
	}
	cfg, _ := c.ensureConfig()
	log, err := logger.NewWithOptions(logger.Options{
		Verbose:  cfg.Log.Verbose,
		Quiet:    !cfg.Log.Verbose,
		FilePath: cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v, logging to console only\n", err)
		log = logger.New(cfg.Log.Verbose)
	}
	c.log = log
	if c.configPath != "" {
		log.Debug("Loaded configuration", "path", c.configPath)
	}
	return log
}

// lifecycle returns the shutdown handler, listening for signals from the
// first call on.
func (c *commandContext) lifecycle() *shutdown.Handler {
	if c.shutdown == nil {
		c.shutdown = shutdown.New(c.logger())
		c.shutdown.Listen()
	}
	return c.shutdown
}

// pipeline builds the enrichment stack. It is closed with the context.
func (c *commandContext) pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(ctx, cfg, c.logger(), pipeline.Deps{})
	if err != nil {
		return nil, err
	}
	c.lifecycle().AddCleanup("pipeline", p.Close)
	return p, nil
}

// settingsStore opens the SQLite settings database named in the config.
func (c *commandContext) settingsStore(ctx context.Context) (*settings.SQLiteStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Settings.Path == "" {
		return nil, fmt.Errorf("settings.path is not configured")
	}
	store, err := settings.OpenSQLite(ctx, cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	c.lifecycle().AddCleanup("settings", store.Close)
	return store, nil
}

// commandCtx merges the command's context with shutdown on signal.
func (c *commandContext) commandCtx(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.lifecycle().Context(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *commandContext) close() {
	if c.shutdown != nil {
		c.shutdown.Shutdown()
	}
	if c.log != nil {
		c.log.Close()
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
