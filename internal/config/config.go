// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggerConfig controls the observability bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File rotation; empty LogFile disables the file sink.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig configures one Browser instance and its shared network
// state.
type BrowserConfig struct {
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects" yaml:"max_redirects"`
	VerifyTLS        bool          `mapstructure:"verify_tls" yaml:"verify_tls"`
	AuthToken        string        `mapstructure:"auth_token" yaml:"auth_token"`
	Proxy            string        `mapstructure:"proxy" yaml:"proxy"`
	MaxBodySize      int64         `mapstructure:"max_body_size" yaml:"max_body_size"`
	MaxNetworkEvents int           `mapstructure:"max_network_events" yaml:"max_network_events"`
	// RequestsPerSecond throttles outbound traffic; zero disables the
	// rate-limit interceptor.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// PageConfig configures one Page's engine.
type PageConfig struct {
	JSEnabled         bool          `mapstructure:"js_enabled" yaml:"js_enabled"`
	InjectXSSHooks    bool          `mapstructure:"inject_xss_hooks" yaml:"inject_xss_hooks"`
	InstructionBudget int64         `mapstructure:"instruction_budget" yaml:"instruction_budget"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	MaxIframeDepth    int           `mapstructure:"max_iframe_depth" yaml:"max_iframe_depth"`
	XSSMarker         string        `mapstructure:"xss_marker" yaml:"xss_marker"`
	// TimerFlushRounds bounds post-load timer draining; FlushBudget caps
	// executions per round so intervals cannot spin.
	TimerFlushRounds int `mapstructure:"timer_flush_rounds" yaml:"timer_flush_rounds"`
	FlushBudget      int `mapstructure:"flush_budget" yaml:"flush_budget"`
}

// CrawlConfig bounds a crawl.
type CrawlConfig struct {
	MaxDepth        int      `mapstructure:"max_depth" yaml:"max_depth"`
	MaxPages        int      `mapstructure:"max_pages" yaml:"max_pages"`
	SameDomainOnly  bool     `mapstructure:"same_domain_only" yaml:"same_domain_only"`
	IncludePatterns []string `mapstructure:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
}

// Config aggregates everything the CLI loads.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Page    PageConfig    `mapstructure:"page" yaml:"page"`
	Crawl   CrawlConfig   `mapstructure:"crawl" yaml:"crawl"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "kalamari",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
		},
		Browser: BrowserConfig{
			UserAgent:        "Mozilla/5.0 (compatible; Kalamari/1.0)",
			DefaultTimeout:   30 * time.Second,
			MaxRedirects:     10,
			VerifyTLS:        true,
			MaxBodySize:      10 << 20,
			MaxNetworkEvents: 1000,
		},
		Page: PageConfig{
			JSEnabled:         true,
			InjectXSSHooks:    true,
			InstructionBudget: 5_000_000,
			NavigationTimeout: 30 * time.Second,
			MaxIframeDepth:    3,
			TimerFlushRounds:  3,
			FlushBudget:       64,
		},
		Crawl: CrawlConfig{
			MaxDepth:       2,
			MaxPages:       50,
			SameDomainOnly: true,
		},
	}
}

// SecurityScanning is the preset used by the xss subcommand: hooks on, TLS
// failures tolerated, a high execution budget, and a user agent that makes
// the scanner identifiable in server logs.
func SecurityScanning() *Config {
	cfg := Default()
	cfg.Browser.VerifyTLS = false
	cfg.Browser.UserAgent = "Mozilla/5.0 (compatible; Kalamari-Scanner/1.0; +https://github.com/squidsec/kalamari)"
	cfg.Page.InjectXSSHooks = true
	cfg.Page.InstructionBudget = 20_000_000
	return cfg
}

// Load reads an optional config file plus KALAMARI_* env overrides on top
// of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KALAMARI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate surfaces configuration errors at construction time.
func (c *Config) Validate() error {
	if c.Browser.MaxRedirects < 0 {
		return fmt.Errorf("config: max_redirects must be non-negative")
	}
	if c.Browser.DefaultTimeout <= 0 {
		return fmt.Errorf("config: default_timeout must be positive")
	}
	if c.Browser.Proxy != "" {
		if _, err := url.Parse(c.Browser.Proxy); err != nil {
			return fmt.Errorf("config: invalid proxy url: %w", err)
		}
	}
	if c.Page.InstructionBudget <= 0 {
		return fmt.Errorf("config: instruction_budget must be positive")
	}
	if c.Page.MaxIframeDepth < 0 {
		return fmt.Errorf("config: max_iframe_depth must be non-negative")
	}
	if c.Page.TimerFlushRounds < 0 || c.Page.FlushBudget < 0 {
		return fmt.Errorf("config: timer flush settings must be non-negative")
	}
	if c.Crawl.MaxDepth < 0 || c.Crawl.MaxPages < 0 {
		return fmt.Errorf("config: crawl bounds must be non-negative")
	}
	switch c.Logger.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: logger format must be console or json")
	}
	return nil
}
