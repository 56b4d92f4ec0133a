package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens         = 8192
	DefaultMaxToolIterations = 20
	DefaultExecTimeout       = 30
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 18790
	DefaultBufSize           = 100
	DefaultLogLevel          = "info"
	DefaultLogEncoding       = "console"
	DefaultSearchBaseURL     = "https://api.duckduckgo.com/"
	DefaultGeminiBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultProactiveSchedule = "0 */30 * * * *"
	DefaultTokenExpiryHours  = 24
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Tools     ToolsConfig     `json:"tools"`
	Gateway   GatewayConfig   `json:"gateway"`
	Memory    MemoryConfig    `json:"memory"`
	Proactive ProactiveConfig `json:"proactive"`
	Log       LogConfig       `json:"log"`
}

type AgentConfig struct {
	Workspace         string `json:"workspace"`
	Model             string `json:"model"`
	MaxTokens         int    `json:"maxTokens"`
	MaxToolIterations int    `json:"maxToolIterations"`
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

// WebUIConfig enables the browser client's push socket on the gateway.
type WebUIConfig struct {
	Enabled bool `json:"enabled"`
}

type ToolsConfig struct {
	// ExecTimeout is the default shell timeout in seconds.
	ExecTimeout         int      `json:"execTimeout"`
	RestrictToWorkspace bool     `json:"restrictToWorkspace"`
	ShellAllow          bool     `json:"shellAllow"`
	AuditLog            string   `json:"auditLog,omitempty"`
	PolicyFile          string   `json:"policyFile,omitempty"`
	GeminiAPIKey        string   `json:"geminiApiKey,omitempty"`
	GeminiBaseURL       string   `json:"geminiBaseUrl,omitempty"`
	SearchBaseURL       string   `json:"searchBaseUrl,omitempty"`
	Disabled            []string `json:"disabled,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// APISecret signs bearer tokens. Routes that run tools or the agent are
	// refused while it is empty.
	APISecret string `json:"apiSecret,omitempty"`
}

type MemoryConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type ProactiveConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Channel  string `json:"channel,omitempty"`
	To       string `json:"to,omitempty"`
}

type LogConfig struct {
	Level    string `json:"level"`
	Encoding string `json:"encoding"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:         filepath.Join(home, ".nova", "workspace"),
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			MaxToolIterations: DefaultMaxToolIterations,
		},
		Tools: ToolsConfig{
			ExecTimeout:   DefaultExecTimeout,
			SearchBaseURL: DefaultSearchBaseURL,
			GeminiBaseURL: DefaultGeminiBaseURL,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Proactive: ProactiveConfig{
			Schedule: DefaultProactiveSchedule,
		},
		Log: LogConfig{
			Level:    DefaultLogLevel,
			Encoding: DefaultLogEncoding,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".nova")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// AuditLogPath returns the configured shell audit log location.
func (c *Config) AuditLogPath() string {
	if p := strings.TrimSpace(c.Tools.AuditLog); p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(ConfigDir(), "logs", "shell_exec.log")
}

// MemoryDBPath returns the sqlite database location.
func (c *Config) MemoryDBPath() string {
	if p := strings.TrimSpace(c.Memory.DBPath); p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(ConfigDir(), "data", "memory.db")
}

// CronStorePath returns the scheduled job store location.
func (c *Config) CronStorePath() string {
	return filepath.Join(ConfigDir(), "data", "cron", "jobs.json")
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home := os.Getenv("HOME")
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("NOVA_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("NOVA_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("NOVA_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Tools.GeminiAPIKey == "" {
		cfg.Tools.GeminiAPIKey = key
	}
	if secret := os.Getenv("NOVA_API_SECRET"); secret != "" {
		cfg.Gateway.APISecret = secret
	}
	if timeout := os.Getenv("NOVA_EXEC_TIMEOUT"); timeout != "" {
		if parsed, err := strconv.Atoi(timeout); err == nil {
			cfg.Tools.ExecTimeout = parsed
		}
	}
	if path := os.Getenv("NOVA_AUDIT_LOG"); path != "" {
		cfg.Tools.AuditLog = path
	}
	if path := os.Getenv("NOVA_POLICY_FILE"); path != "" {
		cfg.Tools.PolicyFile = path
	}
	if dbPath := os.Getenv("NOVA_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if level := os.Getenv("NOVA_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if cfg.Agent.Workspace == "" {
		cfg.Agent.Workspace = DefaultConfig().Agent.Workspace
	}
	cfg.Agent.Workspace = ExpandHome(cfg.Agent.Workspace)
	if cfg.Tools.ExecTimeout <= 0 {
		cfg.Tools.ExecTimeout = DefaultExecTimeout
	}
	if cfg.Tools.SearchBaseURL == "" {
		cfg.Tools.SearchBaseURL = DefaultSearchBaseURL
	}
	if cfg.Tools.GeminiBaseURL == "" {
		cfg.Tools.GeminiBaseURL = DefaultGeminiBaseURL
	}
	if cfg.Proactive.Schedule == "" {
		cfg.Proactive.Schedule = DefaultProactiveSchedule
	}

	return cfg, nil
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

	return os.WriteFile(ConfigPath(), data, 0600)
}
