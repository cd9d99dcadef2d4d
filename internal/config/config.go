package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultTemperature       = 0.7
	DefaultMaxToolIterations = 20
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 18790
	DefaultBufSize           = 100
	DefaultQRFile            = "qrcode.png"
	DefaultCaption           = "Pay me! 👇"
	DefaultLogLevel          = "info"
	DefaultLogMaxSizeMB      = 10
	DefaultLogMaxBackups     = 3
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Channels ChannelsConfig `json:"channels"`
	Provider ProviderConfig `json:"provider"`
	Gateway  GatewayConfig  `json:"gateway"`
	PayQR    PayQRConfig    `json:"payqr"`
	Log      LogConfig      `json:"log"`
	// DataDir is the host data directory extensions keep their assets under.
	// Empty means <config dir>/data.
	DataDir string `json:"dataDir,omitempty"`
}

type AgentConfig struct {
	Workspace         string  `json:"workspace"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"maxTokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"maxToolIterations"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PayQRConfig configures the payment QR extension. Only the first entry of
// PaymentQR is used; it may be absolute, relative or a bare file name.
type PayQRConfig struct {
	Enabled   bool     `json:"enabled"`
	PaymentQR []string `json:"paymentQR"`
	Caption   string   `json:"caption,omitempty"`
}

// RawPath returns the first configured path as written, or "" when nothing
// is configured.
func (c PayQRConfig) RawPath() string {
	if len(c.PaymentQR) == 0 {
		return ""
	}
	return c.PaymentQR[0]
}

type LogConfig struct {
	Level      string `json:"level"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMb,omitempty"`
	MaxBackups int    `json:"maxBackups,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".payqr", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		PayQR: PayQRConfig{
			Enabled:   true,
			PaymentQR: []string{DefaultQRFile},
			Caption:   DefaultCaption,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("PAYQR_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".payqr")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// ResolveDataDir returns the host data directory. It fails when neither a
// configured directory nor a home directory is available.
func (c *Config) ResolveDataDir() (string, error) {
	if dir := strings.TrimSpace(c.DataDir); dir != "" {
		return filepath.Abs(dir)
	}
	if os.Getenv("PAYQR_HOME") == "" && os.Getenv("HOME") == "" {
		if _, err := os.UserHomeDir(); err != nil {
			return "", fmt.Errorf("data dir unavailable: %w", err)
		}
	}
	return filepath.Join(ConfigDir(), "data"), nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v
}

// decodeWithJSONTags makes viper honour the json tags used for the file format.
func decodeWithJSONTags(dc *mapstructure.DecoderConfig) {
	dc.TagName = "json"
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads the config at path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v := newViper(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		// the decoder merges into existing slices, so an explicit list in
		// the file must start from empty
		if v.IsSet("payqr.paymentQR") {
			cfg.PayQR.PaymentQR = nil
		}
		if err := v.Unmarshal(cfg, decodeWithJSONTags); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	if cfg.PayQR.Caption == "" {
		cfg.PayQR.Caption = DefaultCaption
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if key := os.Getenv("PAYQR_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_AUTH_TOKEN"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("PAYQR_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("PAYQR_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if dir := os.Getenv("PAYQR_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if qr := os.Getenv("PAYQR_QR_PATH"); qr != "" {
		cfg.PayQR.PaymentQR = []string{qr}
	}
	if level := os.Getenv("PAYQR_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
