// Copyright 2026 Jeff Vestal
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/config"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/conversation"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/dashboard"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm/anthropic"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm/azureopenai"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/mcp/manager"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/orchestrator"
	"github.com/jeffvestal/portfolio-pilot-ai/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Portfolio Pilot API server",
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, logLevel := buildLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Portfolio Pilot", zap.String("version", rootCmd.Version))
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Config file loaded", zap.String("path", used))
	} else {
		logger.Info("No config file found, using defaults + environment variables")
	}

	store, err := config.Open(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("Failed to open settings store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	mgr := manager.New(manager.Config{Logger: logger})
	defer mgr.DisconnectAll()

	reconnectSavedServers(store, mgr, logger)

	provider, err := buildProvider(cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM provider", zap.Error(err))
	}
	logger.Info("LLM provider ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()))

	sessions := conversation.NewStore(conversation.Config{Logger: logger})

	orch, err := orchestrator.New(orchestrator.Config{
		Provider:     provider,
		Router:       mgr,
		Sessions:     sessions,
		SystemPrompt: cfg.Chat.SystemPrompt,
		MaxTurns:     cfg.Chat.MaxTurns,
		ResultMode:   parseResultMode(cfg.Chat.ResultMode),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}

	api := server.NewAPI(server.APIConfig{
		Manager:   mgr,
		Store:     store,
		Streamer:  orch,
		Dashboard: dashboard.NewService(mgr, logger),
		LogLevel:  &logLevel,
		Logger:    logger,
	})

	httpServer := server.NewHTTPServerWithCORS(api, cfg.Server.Addr, logger, server.CORSConfig{
		Enabled:          cfg.Server.CORS.Enabled,
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowedMethods:   cfg.Server.CORS.AllowedMethods,
		AllowedHeaders:   cfg.Server.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.Server.CORS.ExposedHeaders,
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
		MaxAge:           cfg.Server.CORS.MaxAge,
	})

	healthCron := startHealthSweep(cfg.Health.Cron, mgr, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start(context.Background())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}

	if healthCron != nil {
		healthCron.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

func buildLogger(cfg LoggingConfig) (*zap.Logger, zap.AtomicLevel) {
	zapConfig := zap.NewProductionConfig()

	logLevel := zap.InfoLevel
	if cfg.Level != "" {
		if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	if cfg.File != "" {
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	return logger, zapConfig.Level
}

func buildProvider(cfg LLMConfig, logger *zap.Logger) (llm.StreamProvider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:    cfg.AnthropicAPIKey,
			Model:     cfg.AnthropicModel,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		})
	default:
		return azureopenai.NewClient(azureopenai.Config{
			Endpoint:     cfg.AzureEndpoint,
			DeploymentID: cfg.AzureDeployment,
			APIKey:       cfg.AzureAPIKey,
			APIVersion:   cfg.AzureAPIVersion,
			MaxTokens:    cfg.MaxTokens,
			Logger:       logger,
		})
	}
}

func parseResultMode(s string) orchestrator.ResultMode {
	if s == "concat" {
		return orchestrator.ResultModeConcat
	}
	return orchestrator.ResultModeFirst
}

// reconnectSavedServers registers every enabled persisted server.
// Unreachable servers are logged and skipped; they can be retried
// through the API once the server is up.
func reconnectSavedServers(store *config.Store, mgr *manager.Manager, logger *zap.Logger) {
	servers, err := store.ListServers()
	if err != nil {
		logger.Error("Failed to list saved servers", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	for _, srv := range servers {
		if !srv.Enabled {
			continue
		}
		if err := mgr.AddServer(ctx, srv); err != nil {
			logger.Warn("Saved server unreachable, skipping",
				zap.String("id", srv.ID),
				zap.String("name", srv.Name),
				zap.Error(err))
			continue
		}
		logger.Info("MCP server connected",
			zap.String("name", srv.Name),
			zap.Int("tools", srv.ToolCount()))
	}
}

// startHealthSweep schedules a periodic health check of all registered
// servers. Returns nil when disabled.
func startHealthSweep(spec string, mgr *manager.Manager, logger *zap.Logger) *cron.Cron {
	if spec == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		results := mgr.HealthCheckAll(ctx)
		healthy := 0
		for _, ok := range results {
			if ok {
				healthy++
			}
		}
		logger.Debug("Health sweep complete",
			zap.Int("healthy", healthy),
			zap.Int("total", len(results)))
	})
	if err != nil {
		logger.Error("Invalid health cron expression, sweep disabled",
			zap.String("cron", spec), zap.Error(err))
		return nil
	}
	c.Start()
	return c
}
