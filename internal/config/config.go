package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"relaybot/internal/domain"
)

// Config is the root configuration for the relay.
type Config struct {
	Server   ServerConfig             `json:"server" yaml:"server"`
	Webhook  WebhookConfig            `json:"webhook" yaml:"webhook"`
	Backends map[string]BackendConfig `json:"backends" yaml:"backends"`
	Reply    ReplyConfig              `json:"reply" yaml:"reply"`
	Voice    VoiceConfig              `json:"voice" yaml:"voice"`
	Channels ChannelsConfig           `json:"channels" yaml:"channels"`
	Metrics  MetricsConfig            `json:"metrics" yaml:"metrics"`
	Notify   NotifyConfig             `json:"notify" yaml:"notify"`
}

type ServerConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// WebhookConfig covers the platform handshake and request validation.
// VerifyToken is the GET-handshake secret; AppSecret, when set, enables
// X-Hub-Signature-256 validation on POST bodies.
type WebhookConfig struct {
	Path        string `json:"path" yaml:"path"`
	VerifyToken string `json:"verifyToken" yaml:"verifyToken"`
	AppSecret   string `json:"appSecret,omitempty" yaml:"appSecret,omitempty"`
}

// BackendConfig configures one completion backend (openai, ollama).
type BackendConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model          string `json:"model,omitempty" yaml:"model,omitempty"`
	Stream         bool   `json:"stream" yaml:"stream"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

// ReplyConfig tunes the generator and the pipeline.
type ReplyConfig struct {
	Chain         []string `json:"chain" yaml:"chain"`                 // backend failover order
	FallbackText  string   `json:"fallbackText" yaml:"fallbackText"`   // apology sent when all backends fail
	MaxConcurrent int      `json:"maxConcurrent" yaml:"maxConcurrent"` // concurrent pipeline runs
	BusBuffer     int      `json:"busBuffer,omitempty" yaml:"busBuffer,omitempty"`
}

// VoiceConfig enables synthesized audio replies for channels that can
// carry them.
type VoiceConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	Voice   string `json:"voice,omitempty" yaml:"voice,omitempty"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"` // where audio artifacts are written
}

type ChannelsConfig struct {
	Messenger MessengerConfig `json:"messenger" yaml:"messenger"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp" yaml:"whatsapp"`
}

type MessengerConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	PageID      string `json:"pageId,omitempty" yaml:"pageId,omitempty"`
	AccessToken string `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	APIVersion  string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

type WhatsAppConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	AccessToken string `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	APIVersion  string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

type NotifyConfig struct {
	Telegram TelegramNotifyConfig `json:"telegram" yaml:"telegram"`
}

// TelegramNotifyConfig configures send-only operator alerts.
type TelegramNotifyConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty" yaml:"chatId,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, parses, and validates a config file. The
// format is chosen by extension: .yaml/.yml parse as YAML, anything
// else as JSON.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(cfg)
	cfg.Voice.Dir = ExpandPath(cfg.Voice.Dir)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is
// unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// ApplyEnvOverrides overlays the plain environment variable names the
// original deployments used onto the loaded config. First match wins
// within an alias group; an empty variable never clears a file value.
func ApplyEnvOverrides(cfg *Config) {
	if v := firstEnv("VERIFY_TOKEN", "FACEBOOK_VERIFY_TOKEN", "WHATSAPP_VERIFY_TOKEN"); v != "" {
		cfg.Webhook.VerifyToken = v
	}
	if v := firstEnv("FB_PAGE_ACCESS_TOKEN", "FACEBOOK_PAGE_ACCESS_TOKEN"); v != "" {
		cfg.Channels.Messenger.AccessToken = v
		if cfg.Channels.WhatsApp.AccessToken == "" {
			// The original scripts reused the page token for WhatsApp sends.
			cfg.Channels.WhatsApp.AccessToken = v
		}
	}
	if v := os.Getenv("PAGE_ID"); v != "" {
		cfg.Channels.Messenger.PageID = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if b, ok := cfg.Backends["openai"]; ok && b.APIKey == "" {
			b.APIKey = v
			cfg.Backends["openai"] = b
		}
		if cfg.Voice.APIKey == "" {
			cfg.Voice.APIKey = v
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Save writes the config as indented JSON.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks settings and required secrets. Failures here are
// fatal at startup: the server must not take webhook traffic with a
// missing handshake secret or send credential.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return &domain.ConfigurationError{Field: "server.port", Msg: "must be between 0 and 65535"}
	}
	if cfg.Reply.MaxConcurrent < 1 || cfg.Reply.MaxConcurrent > 100 {
		return &domain.ConfigurationError{Field: "reply.maxConcurrent", Msg: "must be between 1 and 100"}
	}
	if cfg.Reply.FallbackText == "" {
		return &domain.ConfigurationError{Field: "reply.fallbackText", Msg: "must not be empty"}
	}
	if cfg.Webhook.VerifyToken == "" {
		return &domain.ConfigurationError{Field: "webhook.verifyToken", Msg: "required (set VERIFY_TOKEN)"}
	}

	if !cfg.Channels.Messenger.Enabled && !cfg.Channels.WhatsApp.Enabled {
		return &domain.ConfigurationError{Field: "channels", Msg: "at least one channel must be enabled"}
	}
	if cfg.Channels.Messenger.Enabled && cfg.Channels.Messenger.AccessToken == "" {
		return &domain.ConfigurationError{Field: "channels.messenger.accessToken", Msg: "required (set FB_PAGE_ACCESS_TOKEN)"}
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.AccessToken == "" {
		return &domain.ConfigurationError{Field: "channels.whatsapp.accessToken", Msg: "required (set FACEBOOK_PAGE_ACCESS_TOKEN)"}
	}

	enabled := 0
	for name, b := range cfg.Backends {
		if !b.Enabled {
			continue
		}
		enabled++
		if name == "openai" && b.APIKey == "" {
			return &domain.ConfigurationError{Field: "backends.openai.apiKey", Msg: "required (set OPENAI_API_KEY)"}
		}
	}
	if enabled == 0 {
		return &domain.ConfigurationError{Field: "backends", Msg: "at least one backend must be enabled"}
	}

	for _, name := range cfg.Reply.Chain {
		if _, ok := cfg.Backends[name]; !ok {
			return &domain.ConfigurationError{Field: "reply.chain", Msg: fmt.Sprintf("references unknown backend: %s", name)}
		}
	}

	if cfg.Voice.Enabled && cfg.Voice.APIKey == "" {
		return &domain.ConfigurationError{Field: "voice.apiKey", Msg: "required when voice replies are enabled"}
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" || cfg.Notify.Telegram.ChatID == 0 {
			return &domain.ConfigurationError{Field: "notify.telegram", Msg: "token and chatId required when enabled"}
		}
	}

	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
