package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "REGSCANNER_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	llmProviderEnv    = "LLM_PROVIDER"
	llmModelEnv       = "LLM_MODEL"
	anthropicKeyEnv   = "ANTHROPIC_API_KEY"
	openAIKeyEnv      = "OPENAI_API_KEY"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
	httpAddrEnv       = "HTTP_ADDR"
	exportDirEnv      = "EXPORT_DIR"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Sources       SourcesConfig      `yaml:"sources"`
	Sites         []SiteConfig       `yaml:"sites"`
	LLM           LLMConfig          `yaml:"llm"`
	Analysis      AnalysisConfig     `yaml:"analysis"`
	Rollups       RollupConfig       `yaml:"rollups"`
	Export        ExportConfig       `yaml:"export"`
	Notifications NotificationConfig `yaml:"notifications"`
	HTTP          HTTPConfig         `yaml:"http"`
	Logging       LoggingConfig      `yaml:"logging"`
	Tracing       TracingConfig      `yaml:"tracing"`
}

// DatabaseConfig selects the item store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SchedulerConfig defines when the pipeline should run in serve mode.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// SourcesConfig holds settings shared by every fetch adapter.
type SourcesConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"userAgent"`
	Concurrency int           `yaml:"concurrency"`
}

// SiteConfig describes a single feed with its scanner strategy.
type SiteConfig struct {
	Name    string            `yaml:"name"`
	Scanner string            `yaml:"scanner"`
	Source  string            `yaml:"source"`
	Type    string            `yaml:"type"`
	Feeds   []FeedConfig      `yaml:"feeds"`
	Options map[string]string `yaml:"options"`
}

// FeedConfig holds a concrete endpoint to fetch.
type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LLMConfig defines how to contact the language model.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"apiKey"`
	Endpoint  string `yaml:"endpoint"`
	MaxTokens int    `yaml:"maxTokens"`
}

// AnalysisConfig bounds the analyze stage.
type AnalysisConfig struct {
	Limit             int           `yaml:"limit"`
	Concurrency       int           `yaml:"concurrency"`
	CallTimeout       time.Duration `yaml:"callTimeout"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

// RollupConfig parameterizes digest and changelog generation.
type RollupConfig struct {
	DigestLimit     int           `yaml:"digestLimit"`
	ChangelogWindow time.Duration `yaml:"changelogWindow"`
}

// ExportConfig points at the report directory.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// HTTPConfig configures the read API served by `serve`.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if fileCfg, err := Parse(raw); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
		} else {
			cfg = fileCfg
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sites) == 0 {
		cfg.Sites = defaultConfig().Sites
	}

	return cfg
}

// Parse decodes YAML on top of the defaults so omitted keys keep their default.
func Parse(raw []byte) (Config, error) {
	cfg := defaultConfig()
	cfg.Sites = nil
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Sites) == 0 {
		cfg.Sites = defaultConfig().Sites
	}
	cfg.bindTimezone()
	return cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database dsn is empty")
	}

	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		return fmt.Errorf("config: unsupported llm provider %q", c.LLM.Provider)
	}

	if c.Analysis.Limit <= 0 {
		return fmt.Errorf("config: analysis.limit must be positive")
	}
	if c.Analysis.Concurrency <= 0 || c.Sources.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive")
	}
	if c.Analysis.MaxAttempts <= 0 {
		return fmt.Errorf("config: analysis.maxAttempts must be positive")
	}
	if c.Analysis.CallTimeout <= 0 || c.Sources.Timeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.Rollups.DigestLimit <= 0 {
		return fmt.Errorf("config: rollups.digestLimit must be positive")
	}

	for _, site := range c.Sites {
		if site.Name == "" || site.Scanner == "" {
			return fmt.Errorf("config: every site needs a name and a scanner")
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(llmProviderEnv); v != "" {
		c.LLM.Provider = v
	}

	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}

	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderOpenAI:
			c.LLM.APIKey = os.Getenv(openAIKeyEnv)
		default:
			c.LLM.APIKey = os.Getenv(anthropicKeyEnv)
		}
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(exportDirEnv); v != "" {
		c.Export.Dir = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database:  DatabaseConfig{Driver: DriverSQLite, DSN: "./regulatory_items.db"},
		Scheduler: SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		Sources: SourcesConfig{
			Timeout:     20 * time.Second,
			UserAgent:   "RegScanner/1.0",
			Concurrency: 1,
		},
		LLM: LLMConfig{
			Provider:  ProviderAnthropic,
			Model:     "claude-3-5-sonnet-20241022",
			MaxTokens: 500,
		},
		Analysis: AnalysisConfig{
			Limit:       50,
			Concurrency: 1,
			CallTimeout: 60 * time.Second,
			MaxAttempts: 2,
		},
		Rollups: RollupConfig{DigestLimit: 10, ChangelogWindow: 24 * time.Hour},
		Export:  ExportConfig{Dir: "./reports"},
		HTTP:    HTTPConfig{Addr: ":8080", AllowedOrigins: []string{"http://localhost:3000"}},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{SampleRatio: 1},
		Sites: []SiteConfig{
			{
				Name:    "sec-press-releases",
				Scanner: "rss",
				Source:  "SEC",
				Type:    "press_release",
				Feeds: []FeedConfig{
					{Name: "press-release", URL: "https://www.sec.gov/rss/litigation/press-release.xml"},
				},
				Options: map[string]string{"keywords": "investment adviser,broker-dealer,AML,custody"},
			},
			{
				Name:    "finra-news",
				Scanner: "rss",
				Source:  "FINRA",
				Type:    "notice",
				Feeds: []FeedConfig{
					{Name: "news-and-events", URL: "https://www.finra.org/feeds/news-and-events"},
				},
			},
			{
				Name:    "federal-register",
				Scanner: "fedreg",
				Source:  "FedReg",
				Type:    "rule",
				Feeds: []FeedConfig{
					{Name: "documents", URL: "https://www.federalregister.gov/api/v1/documents.json"},
				},
				Options: map[string]string{
					"agencies": "SEC=securities-and-exchange-commission,DOL=labor-department",
					"keywords": "investment adviser,broker-dealer",
					"perPage":  "5",
				},
			},
		},
	}
}
