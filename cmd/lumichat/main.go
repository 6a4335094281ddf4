package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lumichat/internal/auth"
	"lumichat/internal/channel"
	"lumichat/internal/chat"
	"lumichat/internal/config"
	"lumichat/internal/domain"
	"lumichat/internal/locale"
	"lumichat/internal/persist"
	"lumichat/internal/provider"
	"lumichat/internal/share"
	"lumichat/internal/store"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "lumichat",
		Short: "LumiChat: streaming AI chat with local and cloud history",
		Long:  "LumiChat is a Go-based AI chat client with a web API, an interactive CLI, and dual local/cloud conversation history.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.lumichat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

// setupLogger replaces the bootstrap logger with one honoring the configured
// level and optional log file.
func setupLogger(cfg *config.Config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
	}
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return nil
}

// app wires the engine: store, persistence, providers, and the auth bridge.
type app struct {
	cfg     *config.Config
	store   *store.Store
	local   *persist.SQLiteStore
	bridge  *auth.Bridge
	ctrl    *chat.Controller
	speech  domain.SpeechProvider
	strings *locale.Strings
}

func buildApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
		return nil, err
	}

	loc, err := locale.Parse(cfg.General.Locale)
	if err != nil {
		return nil, err
	}
	strs, err := locale.Load(loc)
	if err != nil {
		return nil, err
	}

	st := store.New(logger)

	local, err := persist.NewSQLiteStore(cfg.Persistence.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	remote := persist.NewHTTPRemote(persist.RemoteConfig{
		APIBase: cfg.Persistence.Remote.APIBase,
		APIKey:  cfg.Persistence.Remote.APIKey,
		Logger:  logger,
	})
	adapter := persist.NewAdapter(local, remote, remote, logger)

	verifier := auth.NewClient(auth.ClientConfig{
		APIBase: cfg.Auth.APIBase,
		APIKey:  cfg.Auth.APIKey,
		Logger:  logger,
	})
	bridge := auth.NewBridge(st, adapter, verifier, logger)

	prov, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("provider selected", "provider", prov.Name())

	a := &app{
		cfg:     cfg,
		store:   st,
		local:   local,
		bridge:  bridge,
		ctrl:    chat.NewController(st, adapter, prov, bridge.Profile, logger),
		strings: strs,
	}
	if cfg.Providers.Speech.Enabled {
		a.speech = provider.NewGeminiTTS(provider.GeminiTTSConfig{
			APIKey: cfg.Providers.Gemini.APIKey,
			Model:  cfg.Providers.Speech.Model,
			Voice:  cfg.Providers.Speech.Voice,
			Logger: logger,
		})
	}
	return a, nil
}

func buildProvider(cfg *config.Config) (domain.TextProvider, error) {
	if cfg.Providers.Gemini.Enabled && cfg.Providers.Gemini.APIKey != "" {
		return provider.NewGemini(provider.GeminiConfig{
			APIKey:            cfg.Providers.Gemini.APIKey,
			APIBase:           cfg.Providers.Gemini.APIBase,
			Model:             cfg.Providers.Gemini.Model,
			SystemInstruction: cfg.General.SystemInstruction,
			Logger:            logger,
		}), nil
	}
	if cfg.Providers.Pollinations.Enabled {
		return provider.NewPollinations(provider.PollinationsConfig{
			APIURL:            cfg.Providers.Pollinations.APIURL,
			SystemInstruction: cfg.General.SystemInstruction,
			Logger:            logger,
		}), nil
	}
	return nil, fmt.Errorf("no text provider enabled")
}

func (a *app) close() {
	a.ctrl.Close()
	a.bridge.Close()
	a.local.Close()
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := setupLogger(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()
			a.bridge.Start()

			cli := channel.NewCLI(channel.CLIConfig{
				Controller: a.ctrl,
				Store:      a.store,
				Bridge:     a.bridge,
				Sharer:     share.New(logger),
				Strings:    a.strings,
				Model:      cfg.General.DefaultModel,
				Logger:     logger,
			})
			return cli.Start(ctx)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web API",
		Long:  "Starts the HTTP API and the websocket event feed. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := setupLogger(cfg); err != nil {
				return err
			}
			if !cfg.Web.Enabled {
				return fmt.Errorf("web channel is disabled in config")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()
			a.bridge.Start()

			metricsEndpoint := ""
			if cfg.Metrics.Enabled {
				metricsEndpoint = cfg.Metrics.Endpoint
			}
			web := channel.NewWeb(channel.WebConfig{
				Host:            cfg.Web.Host,
				Port:            cfg.Web.Port,
				Controller:      a.ctrl,
				Store:           a.store,
				Bridge:          a.bridge,
				Speech:          a.speech,
				Strings:         a.strings,
				MetricsEndpoint: metricsEndpoint,
				Logger:          logger,
			})
			return web.Start(ctx)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			prov, err := buildProvider(cfg)
			if err != nil {
				logger.Info("provider", "enabled", false)
			} else {
				logger.Info("provider", "name", prov.Name())
			}

			local, err := persist.NewSQLiteStore(cfg.Persistence.DBPath, logger)
			if err != nil {
				logger.Info("local store", "path", cfg.Persistence.DBPath, "ok", false, "err", err)
				return nil
			}
			defer local.Close()
			sessions, err := local.LoadSessions()
			if err != nil {
				logger.Info("local store", "path", cfg.Persistence.DBPath, "ok", false, "err", err)
				return nil
			}
			logger.Info("local store", "path", cfg.Persistence.DBPath, "ok", true, "sessions", len(sessions))
			logger.Info("version", "lumichat", version)
			return nil
		},
	}
}
