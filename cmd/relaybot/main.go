package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/notify"
	"relaybot/internal/provider"
	"relaybot/internal/relay"
	"relaybot/internal/webhook"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "relaybot",
		Short:   "relaybot: webhook-to-chat relay for Messenger and WhatsApp",
		Long:    "relaybot receives Meta webhook events, generates replies through a completion backend, and dispatches them back to the sender.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and relay pipeline",
		RunE:  runServe,
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file when present, otherwise starts from
// defaults; either way environment overrides apply on top, so the relay
// can run from env vars alone.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Info("no config file, using defaults with env overrides", "path", cfgPath)
	cfg = config.Defaults()
	config.ApplyEnvOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger = newLogger(cfg.Server.LogLevel)
	logger.Info("starting relaybot", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(cfg.Reply.BusBuffer, logger)
	defer messageBus.Close()

	completer, err := buildCompleter(cfg)
	if err != nil {
		return err
	}

	var tts *provider.TTS
	if cfg.Voice.Enabled {
		tts = provider.NewTTS(provider.TTSConfig{
			APIBase: cfg.Voice.APIBase,
			APIKey:  cfg.Voice.APIKey,
			Model:   cfg.Voice.Model,
			Voice:   cfg.Voice.Voice,
			Dir:     config.ExpandPath(cfg.Voice.Dir),
			Logger:  logger,
		})
	}

	generator := provider.NewGenerator(provider.GeneratorConfig{
		Completer:    completer,
		TTS:          tts,
		FallbackText: cfg.Reply.FallbackText,
		Logger:       logger,
	})

	dispatcher := channel.NewDispatcher(logger, buildSenders(cfg)...)

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Bus:           messageBus,
		Generator:     generator,
		Dispatcher:    dispatcher,
		Notifier:      notifier,
		MaxConcurrent: cfg.Reply.MaxConcurrent,
		Logger:        logger,
	})

	handler := webhook.NewHandler(webhook.HandlerConfig{
		VerifyToken: cfg.Webhook.VerifyToken,
		AppSecret:   cfg.Webhook.AppSecret,
		Bus:         messageBus,
		Logger:      logger,
	})

	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}
	server := webhook.NewServer(webhook.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Path:            cfg.Webhook.Path,
		MetricsEndpoint: metricsEndpoint,
		Handler:         handler,
		Logger:          logger,
	})

	done := make(chan struct{})
	go func() {
		pipeline.Run(ctx)
		close(done)
	}()

	err = server.Run(ctx)

	// Let in-flight replies finish before exiting.
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown timeout, abandoning in-flight replies")
	}
	logger.Info("relaybot stopped")
	return err
}

// buildCompleter assembles the backend failover chain from the
// configured order, skipping disabled entries.
func buildCompleter(cfg *config.Config) (domain.Completer, error) {
	var backends []domain.Completer
	for _, name := range cfg.Reply.Chain {
		bc, ok := cfg.Backends[name]
		if !ok || !bc.Enabled {
			continue
		}
		timeout := time.Duration(bc.TimeoutSeconds) * time.Second
		switch name {
		case "openai":
			backends = append(backends, provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:  bc.APIKey,
				APIBase: bc.APIBase,
				Model:   bc.Model,
				Stream:  bc.Stream,
				Timeout: timeout,
				Logger:  logger,
			}))
		case "ollama":
			backends = append(backends, provider.NewOllama(provider.OllamaConfig{
				APIBase: bc.APIBase,
				Model:   bc.Model,
				Timeout: timeout,
				Logger:  logger,
			}))
		default:
			return nil, fmt.Errorf("unknown backend %q in reply chain", name)
		}
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("no enabled backend in reply chain")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return provider.NewFailover(backends, logger), nil
}

func buildSenders(cfg *config.Config) []domain.Sender {
	var senders []domain.Sender
	if cfg.Channels.Messenger.Enabled {
		senders = append(senders, channel.NewMessenger(channel.MessengerConfig{
			APIVersion:  cfg.Channels.Messenger.APIVersion,
			PageID:      cfg.Channels.Messenger.PageID,
			AccessToken: cfg.Channels.Messenger.AccessToken,
			Logger:      logger,
		}))
		logger.Info("messenger channel enabled", "page", cfg.Channels.Messenger.PageID)
	}
	if cfg.Channels.WhatsApp.Enabled {
		senders = append(senders, channel.NewWhatsApp(channel.WhatsAppConfig{
			APIVersion:  cfg.Channels.WhatsApp.APIVersion,
			AccessToken: cfg.Channels.WhatsApp.AccessToken,
			Logger:      logger,
		}))
		logger.Info("whatsapp channel enabled")
	}
	return senders
}

func buildNotifier(cfg *config.Config) (domain.Notifier, error) {
	if !cfg.Notify.Telegram.Enabled {
		return notify.Nop{}, nil
	}
	return notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Read one value by dot path (e.g. reply.maxConcurrent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			v, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			out, _ := json.Marshal(v)
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set one value by dot path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			return config.Save(cfgPath, cfg)
		},
	})

	return cmd
}
