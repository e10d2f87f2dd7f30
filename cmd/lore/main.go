// Copyright 2026 The Lore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command lore runs the knowledge base service.
//
// Usage:
//
//	lore serve --config config/dev.yaml
//	lore serve --port 9090 --watch
//	lore validate --config config/prod.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/models"
	"github.com/lorehq/lore/pkg/qa"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/server"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP API server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file (default: config/<ENVIRONMENT>.yaml)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFormat string `help:"Log format (text, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("lore version %s\n", version)
	return nil
}

// ValidateCmd validates a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	path := config.ResolvePath(cli.Config, "config")
	if _, err := config.Load(path); err != nil {
		return err
	}
	fmt.Printf("%s is valid\n", path)
	return nil
}

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Host  string `help:"Bind address (overrides api.host)."`
	Port  int    `help:"Port to listen on (overrides api.port)."`
	Watch bool   `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configs, err := loadConfigs(cli.Config)
	if err != nil {
		return err
	}
	defer configs.Close()

	cfg := configs.Get()
	logCfg := cfg.App.Logging
	if cli.LogLevel != "" {
		logCfg.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		logCfg.Format = logger.Format(cli.LogFormat)
	}
	logger.Setup(logCfg)

	if c.Host != "" || c.Port != 0 {
		values := map[string]any{}
		if c.Host != "" {
			values["host"] = c.Host
		}
		if c.Port != 0 {
			values["port"] = c.Port
		}
		if _, err := configs.UpdateSection("api", values); err != nil {
			return fmt.Errorf("invalid listen flags: %w", err)
		}
	}

	if c.Watch && configs.Path() != "" {
		if err := configs.Watch(ctx); err != nil {
			return err
		}
		slog.Info("watching configuration", "path", configs.Path())
	}

	st, err := store.Open(configs.Get().Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	vectors, err := vector.New(configs.Get().VectorStore)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	if err := vectors.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectors.Close()

	modelMgr, err := models.NewManager(ctx, nil, configs)
	if err != nil {
		return fmt.Errorf("failed to initialize models: %w", err)
	}
	defer modelMgr.Close()

	pipeline := ingest.NewPipeline(st, vectors, modelMgr, configs, configs.Get().App.UploadDir)
	engine := retrieval.NewEngine(vectors, modelMgr, configs)
	orchestrator := qa.NewOrchestrator(engine, modelMgr, st, configs)

	srv := server.New(configs, modelMgr, st, vectors, pipeline, engine, orchestrator)

	api := configs.Get().API
	slog.Info("lore ready",
		"addr", fmt.Sprintf("%s:%d", api.Host, api.Port),
		"database", st.Dialect(),
		"vector_store", configs.Get().VectorStore.Provider,
	)
	return srv.Start(ctx)
}

// loadConfigs builds the config manager. A missing file is not fatal:
// the service comes up on built-in defaults with mock models, which is
// enough to exercise the full pipeline locally.
func loadConfigs(explicit string) (*config.Manager, error) {
	config.LoadEnvFiles(".")

	path := config.ResolvePath(explicit, "config")
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return nil, fmt.Errorf("config file %s not found", explicit)
		}
		slog.Warn("no config file found, using defaults", "path", path)
		cfg, err := config.Parse(nil)
		if err != nil {
			return nil, err
		}
		return config.NewManagerFromConfig(cfg), nil
	}

	configs, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded configuration", "path", path)
	return configs, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("lore"),
		kong.Description("Lore is a self-hosted knowledge base with retrieval-augmented question answering."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
