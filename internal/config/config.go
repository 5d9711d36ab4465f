package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Log           struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Engine struct {
		StepDelay          time.Duration `mapstructure:"step_delay"`
		JudgeTimeout       time.Duration `mapstructure:"judge_timeout"`
		GatePolicy         string        `mapstructure:"gate_policy"`
		EnforceStepTimeout bool          `mapstructure:"enforce_step_timeout"`
	} `mapstructure:"engine"`
	Judges struct {
		Enabled       bool   `mapstructure:"enabled"`
		APIKey        string `mapstructure:"api_key"`
		BaseURL       string `mapstructure:"base_url"`
		WorkflowModel string `mapstructure:"workflow_model"`
		SecurityModel string `mapstructure:"security_model"`
	} `mapstructure:"judges"`
	Planner struct {
		Enabled bool   `mapstructure:"enabled"`
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"planner"`
	Executor struct {
		Shell          string `mapstructure:"shell"`
		WorkDir        string `mapstructure:"work_dir"`
		MaxOutputBytes int    `mapstructure:"max_output_bytes"`
	} `mapstructure:"executor"`
	Auth struct {
		Enabled      bool   `mapstructure:"enabled"`
		OIDCIssuer   string `mapstructure:"oidc_issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
}

// EnvPrefix is prepended to every environment override, e.g.
// STEPGATE_ENGINE_STEP_DELAY=500ms.
const EnvPrefix = "STEPGATE"

var defaults = map[string]any{
	"environment":                 "PROD",
	"dev_mode_bypass":             false,
	"log.level":                   "info",
	"server.addr":                 ":8080",
	"server.read_timeout":         15 * time.Second,
	"server.write_timeout":        5 * time.Minute,
	"server.idle_timeout":         60 * time.Second,
	"db.enabled":                  false,
	"db.host":                     "localhost",
	"db.port":                     5432,
	"db.user":                     "stepgate",
	"db.password":                 "",
	"db.name":                     "stepgate",
	"db.sslmode":                  "disable",
	"engine.step_delay":           2 * time.Second,
	"engine.judge_timeout":        30 * time.Second,
	"engine.gate_policy":          "fail_open",
	"engine.enforce_step_timeout": false,
	"judges.enabled":              false,
	"judges.api_key":              "",
	"judges.base_url":             "",
	"judges.workflow_model":       "gpt-4o-mini",
	"judges.security_model":       "gpt-4o-mini",
	"planner.enabled":             false,
	"planner.api_key":             "",
	"planner.base_url":            "",
	"planner.model":               "gpt-4o-mini",
	"executor.shell":              "/bin/sh",
	"executor.work_dir":           "",
	"executor.max_output_bytes":   1 << 20,
	"auth.enabled":                true,
	"auth.oidc_issuer":            "",
	"auth.client_id":              "",
	"auth.client_secret":          "",
	"auth.redirect_url":           "",
	"tls.enable":                  false,
	"tls.cert_file":               "",
	"tls.key_file":                "",
	"tls.hostnames":               []string{},
	"telegram.token":              "",
	"telegram.chat_id":            int64(0),
}

// LoadConfig loads the configuration from a file and the environment. When
// path is empty, config.yaml is searched for in . and ./config; a missing
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize OIDC issuer url (strip trailing slash if any)
	config.Auth.OIDCIssuer = normalizeIssuer(config.Auth.OIDCIssuer)
	config.Engine.GatePolicy = strings.ToLower(strings.TrimSpace(config.Engine.GatePolicy))

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

func (c *Config) validate() error {
	switch c.Engine.GatePolicy {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("engine.gate_policy must be fail_open or fail_closed, got %q", c.Engine.GatePolicy)
	}
	if c.Engine.StepDelay < 0 {
		return fmt.Errorf("engine.step_delay must not be negative")
	}
	if c.Judges.Enabled && c.Judges.APIKey == "" {
		return fmt.Errorf("judges.api_key is required when judges are enabled")
	}
	if c.Planner.Enabled && c.Planner.APIKey == "" {
		return fmt.Errorf("planner.api_key is required when the planner is enabled")
	}
	if !c.Auth.Enabled && !c.IsDev() {
		return fmt.Errorf("auth.enabled may only be false in the DEV environment")
	}
	return nil
}

// normalizeIssuer ensures the provided issuer string is in a predictable
// form. It removes any trailing slash and leaves the scheme and path intact.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
