package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/flowgrid/internal/config"
	"github.com/vk/flowgrid/internal/ctxlog"
	"github.com/vk/flowgrid/internal/frontend"
	"github.com/vk/flowgrid/internal/model"
	"github.com/vk/flowgrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	logger    *slog.Logger
	config    *Config
	registry  *registry.Registry
	converter config.Converter
	program   *model.GraphCompilerInfo
}

// NewApp is the constructor for the main application. It loads and compiles
// the program named by cfg with its own isolated logger, writing to logW,
// and registry. With no modules the core modules are registered.
func NewApp(logW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cfgModel, converter, err := loader.Load(ctx, cfg.GraphPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded into unified model.", "graphs", len(cfgModel.Graphs))

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	reg.Load(ctx, modules...)

	prog, err := frontend.Compile(ctx, cfgModel, converter, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile program: %w", err)
	}
	logger.Debug("Program compiled.", "program", prog.Name, "strategy", prog.Strategy)

	return &App{
		logger:    logger,
		config:    cfg,
		registry:  reg,
		converter: converter,
		program:   prog,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Program returns the compiled program.
func (a *App) Program() *model.GraphCompilerInfo {
	return a.program
}
