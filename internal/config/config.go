// Package config loads the bot configuration from a YAML file, falling back
// to defaults when the file is absent and applying environment overrides for
// secrets.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all bot configuration.
type Config struct {
	Search    SearchConfig    `yaml:"search"`
	Scan      ScanConfig      `yaml:"scan"`
	Network   NetworkConfig   `yaml:"network"`
	Reply     ReplyConfig     `yaml:"reply"`
	AI        AIConfig        `yaml:"ai"`
	Keywords  KeywordsConfig  `yaml:"keywords"`
	Browser   BrowserConfig   `yaml:"browser"`
	Store     StoreConfig     `yaml:"store"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// SearchConfig describes the live search timeline the bot watches.
type SearchConfig struct {
	Keyword string `yaml:"keyword"`
	Hashtag string `yaml:"hashtag"`
	Src     string `yaml:"src"`
	Live    bool   `yaml:"live"`
}

// ScanConfig controls scan cadence and candidate recency.
type ScanConfig struct {
	ScanIntervalMs           int `yaml:"scan_interval_ms"`
	NoNewCyclesBeforeRefresh int `yaml:"no_new_cycles_before_refresh"`
	MaxAgeHours              int `yaml:"max_age_hours"`
}

// NetworkConfig controls navigation resilience and health recovery.
type NetworkConfig struct {
	TimeoutMs        int `yaml:"timeout_ms"`
	MaxRetries       int `yaml:"max_retries"`
	RetryBackoffMs   int `yaml:"retry_backoff_ms"`
	HealthMaxRetries int `yaml:"health_max_retries"`
	StuckWaitMs      int `yaml:"stuck_wait_ms"`
	LoginWaitMs      int `yaml:"login_wait_ms"`
}

// ReplyConfig controls the reply interaction timeouts.
type ReplyConfig struct {
	ClickTimeoutMs    int  `yaml:"click_timeout_ms"`
	ComposerTimeoutMs int  `yaml:"composer_timeout_ms"`
	SubmitTimeoutMs   int  `yaml:"submit_timeout_ms"`
	DryRun            bool `yaml:"dry_run"`
}

// AIConfig controls the classification gate.
type AIConfig struct {
	Enabled           bool     `yaml:"enabled"`
	APIKey            string   `yaml:"api_key"`
	BaseURL           string   `yaml:"base_url"`
	Model             string   `yaml:"model"`
	CandidateLabels   []string `yaml:"candidate_labels"`
	TargetLabel       string   `yaml:"target_label"`
	Threshold         float64  `yaml:"threshold"`
	TimeoutMs         int      `yaml:"timeout_ms"`
	PreFilterKeywords bool     `yaml:"pre_filter_keywords"`
	CacheTTL          string   `yaml:"cache_ttl"`
}

// KeywordsConfig holds the prefilter keyword lists and the reply text.
type KeywordsConfig struct {
	Positive     []string `yaml:"positive"`
	Negative     []string `yaml:"negative"`
	ReplyMessage string   `yaml:"reply_message"`
}

// BrowserConfig mirrors browser.Config in YAML form.
type BrowserConfig struct {
	Headless    bool   `yaml:"headless"`
	UserDataDir string `yaml:"user_data_dir"`
	Bin         string `yaml:"bin"`
}

// StoreConfig holds durable state paths.
type StoreConfig struct {
	RepliedPath   string `yaml:"replied_path"`
	DecisionsPath string `yaml:"decisions_path"`
	CyclesPath    string `yaml:"cycles_path"`
	TokenPath     string `yaml:"token_path"`
}

// DashboardConfig controls the terminal dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	ShowURL bool `yaml:"show_url"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			Keyword: "chatgpt",
			Hashtag: "zonauang",
			Src:     "recent_search_click",
			Live:    true,
		},
		Scan: ScanConfig{
			ScanIntervalMs:           1500,
			NoNewCyclesBeforeRefresh: 6,
			MaxAgeHours:              3,
		},
		Network: NetworkConfig{
			TimeoutMs:        15000,
			MaxRetries:       3,
			RetryBackoffMs:   1200,
			HealthMaxRetries: 3,
			StuckWaitMs:      2000,
			LoginWaitMs:      180000,
		},
		Reply: ReplyConfig{
			ClickTimeoutMs:    2500,
			ComposerTimeoutMs: 3000,
			SubmitTimeoutMs:   4000,
			DryRun:            false,
		},
		AI: AIConfig{
			Enabled:           false,
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-5-nano",
			CandidateLabels:   []string{"pembeli", "penjual", "lainnya"},
			TargetLabel:       "pembeli",
			Threshold:         0.8,
			TimeoutMs:         4000,
			PreFilterKeywords: true,
			CacheTTL:          "24h",
		},
		Keywords: KeywordsConfig{
			Positive: []string{"beli"},
			Negative: []string{},
		},
		Browser: BrowserConfig{
			Headless:    false,
			UserDataDir: "bot_session",
		},
		Store: StoreConfig{
			RepliedPath:   "replied_ids.json",
			DecisionsPath: "decisions.log",
			CyclesPath:    "cycles.log",
			TokenPath:     "tokens.json",
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			ShowURL: true,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides for secrets.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.AI.APIKey = key
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.AI.Model = model
	}
}

// SearchURL builds the live search URL from the search section.
func (c *Config) SearchURL() string {
	query := url.QueryEscape(fmt.Sprintf("%s #%s", c.Search.Keyword, c.Search.Hashtag))
	u := fmt.Sprintf("https://x.com/search?q=%s&src=%s", query, url.QueryEscape(c.Search.Src))
	if c.Search.Live {
		u += "&f=live"
	}
	return u
}

// ScanInterval returns the pause between scan cycles.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scan.ScanIntervalMs) * time.Millisecond
}

// MaxAge returns the candidate recency window.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Scan.MaxAgeHours) * time.Hour
}

// NavTimeout returns the navigation timeout.
func (c *Config) NavTimeout() time.Duration {
	return time.Duration(c.Network.TimeoutMs) * time.Millisecond
}

// RetryBackoff returns the base navigation retry backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Network.RetryBackoffMs) * time.Millisecond
}

// StuckWait returns the settle delay after a timeline recovery.
func (c *Config) StuckWait() time.Duration {
	return time.Duration(c.Network.StuckWaitMs) * time.Millisecond
}

// LoginWait returns how long to wait for a manual login.
func (c *Config) LoginWait() time.Duration {
	return time.Duration(c.Network.LoginWaitMs) * time.Millisecond
}

// ClickTimeout returns the reply-button click timeout.
func (c *Config) ClickTimeout() time.Duration {
	return time.Duration(c.Reply.ClickTimeoutMs) * time.Millisecond
}

// ComposerTimeout returns the composer wait timeout.
func (c *Config) ComposerTimeout() time.Duration {
	return time.Duration(c.Reply.ComposerTimeoutMs) * time.Millisecond
}

// SubmitTimeout returns the submit click timeout.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Reply.SubmitTimeoutMs) * time.Millisecond
}

// AITimeout returns the classification call timeout.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutMs) * time.Millisecond
}

// AICacheTTL returns the classification cache time-to-live.
func (c *Config) AICacheTTL() time.Duration {
	d, err := time.ParseDuration(c.AI.CacheTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
