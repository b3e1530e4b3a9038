package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/CompetitorWatch/internal/model"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources  Sources  `yaml:"sources"`
	Batching Batching `yaml:"batching"`
	AI       AI       `yaml:"ai"`
	Delivery Delivery `yaml:"delivery"`
	Schedule string   `yaml:"schedule"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Sources struct {
	Items          []Source `yaml:"items"`
	Concurrency    int      `yaml:"concurrency"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	// MaxAgeDays drops entries published longer ago than this. Entries
	// without a usable date are always kept. Zero disables the filter.
	MaxAgeDays int `yaml:"max_age_days"`
}

// Source describes one competitor source to watch.
type Source struct {
	Name      string           `yaml:"name"`
	URL       string           `yaml:"url"`
	Type      model.SourceType `yaml:"type"`
	Selectors *Selectors       `yaml:"selectors,omitempty"`
}

// Selectors are CSS selectors for scraping a website source. Title, Body,
// Link and Date are evaluated relative to each Item match.
type Selectors struct {
	Item  string `yaml:"item"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Link  string `yaml:"link"`
	Date  string `yaml:"date"`
}

type Batching struct {
	MaxChars int `yaml:"max_chars"`
	MaxItems int `yaml:"max_items"`
}

type AI struct {
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	OllamaURL         string `yaml:"ollama_url"`
	OpenAIModel       string `yaml:"openai_model"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	APIKeyEnv         string `yaml:"api_key_env"`
	GeminiModel       string `yaml:"gemini_model"`
	GeminiKeyEnv      string `yaml:"gemini_key_env"`
	MaxTokens         int    `yaml:"max_tokens"`
	Workers           int    `yaml:"workers"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	// Retries is the number of classification attempts per batch before
	// it falls back to uncategorized updates.
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

type Delivery struct {
	Slack   SlackDelivery   `yaml:"slack"`
	Notion  NotionDelivery  `yaml:"notion"`
	Webhook WebhookDelivery `yaml:"webhook"`
	File    FileDelivery    `yaml:"file"`
}

type SlackDelivery struct {
	WebhookEnv string `yaml:"webhook_env"`
}

type NotionDelivery struct {
	TokenEnv string `yaml:"token_env"`
	PageID   string `yaml:"page_id"`
}

type WebhookDelivery struct {
	URL string `yaml:"url"`
}

type FileDelivery struct {
	Dir string `yaml:"dir"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConfigDir returns the XDG config directory for compwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "compwatch")
}

// DataDir returns the XDG data directory for compwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "compwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/compwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'compwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{
			Concurrency:    4,
			TimeoutSeconds: 30,
			MaxAgeDays:     7,
		},
		Batching: Batching{
			MaxChars: 8000,
			MaxItems: 20,
		},
		AI: AI{
			Provider:          "openai",
			Model:             "qwen2.5:7b",
			OllamaURL:         "http://localhost:11434",
			OpenAIModel:       "gpt-4o-mini",
			APIKeyEnv:         "OPENAI_API_KEY",
			GeminiModel:       "gemini-2.0-flash",
			GeminiKeyEnv:      "GEMINI_API_KEY",
			MaxTokens:         2048,
			Workers:           2,
			TimeoutSeconds:    90,
			RequestsPerMinute: 30,
			Retries:           3,
			RetryBackoff:      time.Second,
		},
		Delivery: Delivery{
			Slack:  SlackDelivery{WebhookEnv: "SLACK_WEBHOOK_URL"},
			Notion: NotionDelivery{TokenEnv: "NOTION_TOKEN"},
		},
		Schedule: "0 9 * * 1",
		Server:   Server{Port: 8000},
		Logging:  Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for i := range cfg.Sources.Items {
		s := &cfg.Sources.Items[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Type = model.SourceType(strings.ToLower(string(s.Type)))
	}

	return cfg, nil
}

// Validate checks the config for values the pipeline cannot work with.
func (c *Config) Validate() error {
	var errs []error
	names := make(map[string]struct{})

	for i, s := range c.Sources.Items {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("source %d: name is required", i+1))
		} else if _, dup := names[s.Name]; dup {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", s.Name))
		}
		names[s.Name] = struct{}{}

		if !s.Type.Valid() {
			errs = append(errs, fmt.Errorf("source %q: unknown type %q", s.Name, s.Type))
		}
		if s.URL == "" && s.Type != model.SourceTwitter {
			errs = append(errs, fmt.Errorf("source %q: url is required", s.Name))
		}
		if s.Selectors != nil && s.Type != model.SourceWebsite {
			errs = append(errs, fmt.Errorf("source %q: selectors only apply to website sources", s.Name))
		}
	}

	if c.Sources.Concurrency <= 0 {
		errs = append(errs, errors.New("sources.concurrency must be positive"))
	}
	if c.Sources.MaxAgeDays < 0 {
		errs = append(errs, errors.New("sources.max_age_days must not be negative"))
	}
	if c.Batching.MaxChars <= 0 {
		errs = append(errs, errors.New("batching.max_chars must be positive"))
	}
	if c.Batching.MaxItems <= 0 {
		errs = append(errs, errors.New("batching.max_items must be positive"))
	}
	if c.AI.Workers <= 0 {
		errs = append(errs, errors.New("ai.workers must be positive"))
	}
	if c.AI.Retries <= 0 {
		errs = append(errs, errors.New("ai.retries must be positive"))
	}
	if c.AI.RetryBackoff < 0 {
		errs = append(errs, errors.New("ai.retry_backoff must not be negative"))
	}

	return errors.Join(errs...)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// SourceTimeout returns the per-source fetch timeout.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Sources.TimeoutSeconds) * time.Second
}

// MaxAge returns the recency window for collected entries, or zero when
// entries of any age are kept.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Sources.MaxAgeDays) * 24 * time.Hour
}

// AITimeout returns the per-batch classification timeout.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
