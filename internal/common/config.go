package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Queue       QueueConfig      `toml:"queue"`
	Crawler     CrawlerConfig    `toml:"crawler"`
	Robots      RobotsConfig     `toml:"robots"`
	Cache       CacheConfig      `toml:"cache"`
	Summary     SummaryConfig    `toml:"summary"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Dedup       DedupConfig      `toml:"dedup"`
	Discovery   DiscoveryConfig  `toml:"discovery"`
	Search      SearchConfig     `toml:"search"`
	Social      SocialConfig     `toml:"social"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	OpenAI      OpenAIConfig     `toml:"openai"`
	LLM         LLMConfig        `toml:"llm"`
	Schedules   SchedulesConfig  `toml:"schedules"`
}

// ServerConfig is the metrics listener
type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
	SyncWrites     bool   `toml:"sync_writes"`              // fsync every commit; job claims survive power loss
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// QueueConfig controls the job orchestrator
type QueueConfig struct {
	PollInterval      string  `toml:"poll_interval"`                           // how often idle workers try to claim a job
	Concurrency       int     `toml:"concurrency" validate:"min=1"`            // number of workers
	MaxRetries        int     `toml:"max_retries" validate:"gte=0"`            // transient failure count at which a job is terminally failed
	BaseBackoff       string  `toml:"base_backoff"`                            // delay after the first transient failure
	BackoffMultiplier float64 `toml:"backoff_multiplier" validate:"gte=1"`     // growth per retry
	MaxBackoff        string  `toml:"max_backoff"`                             // upper bound on a single backoff
	HeartbeatInterval string  `toml:"heartbeat_interval"`                      // running jobs refresh their heartbeat this often
	StaleTimeout      string  `toml:"stale_timeout"`                           // running jobs without a heartbeat for this long are reclaimed
}

// CrawlerConfig contains web crawler configuration
type CrawlerConfig struct {
	UserAgent            string   `toml:"user_agent" validate:"required"`
	MaxConcurrency       int      `toml:"max_concurrency" validate:"min=1"` // pages processed in parallel within one crawl
	MaxInFlight          int      `toml:"max_in_flight" validate:"min=1"`   // fetches in flight across the process
	RequestDelay         string   `toml:"request_delay"`                    // minimum delay between requests to one host
	RequestTimeout       string   `toml:"request_timeout"`
	MaxBodySize          int64    `toml:"max_body_size" validate:"min=1"`
	MaxPages             int      `toml:"max_pages" validate:"min=1"`
	MaxDepth             int      `toml:"max_depth" validate:"gte=0"`
	RetryMaxAttempts     int      `toml:"retry_max_attempts" validate:"min=1"`
	AllowedContentTypes  []string `toml:"allowed_content_types"`
	EnableJavaScript     bool     `toml:"enable_javascript"`     // render pages with headless chrome
	JavaScriptWaitTime   string   `toml:"javascript_wait_time"`  // wait after navigation before capturing the DOM
	AllowPrivateNetworks bool     `toml:"allow_private_networks"` // development only
}

// RobotsConfig controls robots.txt handling
type RobotsConfig struct {
	Enabled       bool   `toml:"enabled"`
	FailOpen      bool   `toml:"fail_open"`       // allow everything when robots.txt cannot be fetched
	MaxCrawlDelay string `toml:"max_crawl_delay"` // cap on honoured Crawl-delay
}

type CacheConfig struct {
	MinSummarizeLength int `toml:"min_summarize_length" validate:"gte=0"` // normalized characters below which a page is not summarized
}

type SummaryConfig struct {
	PromptVersion string `toml:"prompt_version" validate:"required"` // bump to invalidate every stored summary
	MaxInputChars int    `toml:"max_input_chars" validate:"min=1"`
}

type ExtractionConfig struct {
	BatchTokenBudget int    `toml:"batch_token_budget" validate:"min=256"`
	Encoding         string `toml:"encoding"` // tiktoken encoding used to count batch tokens
	Concurrency      int    `toml:"concurrency" validate:"min=1"`
	EnrichMaxTurns   int    `toml:"enrich_max_turns" validate:"min=1"`
	EnrichTimeout    string `toml:"enrich_timeout"`
	MaxPagesPerRun   int    `toml:"max_pages_per_run" validate:"min=1"`
}

type DedupConfig struct {
	IntraRunThreshold float64 `toml:"intra_run_threshold" validate:"gt=0,lte=1"`
	CrossRunThreshold float64 `toml:"cross_run_threshold" validate:"gt=0,lte=1"`
	CleanupThreshold  float64 `toml:"cleanup_threshold" validate:"gt=0,lte=1"`
	CleanupModel      string  `toml:"cleanup_model"` // stronger model used by the periodic cleanup pass
}

type DiscoveryConfig struct {
	Queries            []string `toml:"queries"`
	QueriesFile        string   `toml:"queries_file"` // YAML list of queries, appended to Queries
	MaxResultsPerQuery int      `toml:"max_results_per_query" validate:"min=1"`
}

// SearchConfig selects the web search backend
type SearchConfig struct {
	Mode           string   `toml:"mode" validate:"oneof=gemini disabled"`
	Model          string   `toml:"model"`           // grounding model, defaults to gemini.model
	ExcludeDomains []string `toml:"exclude_domains"` // never returned, e.g. directories and aggregators
}

type SocialConfig struct {
	Enabled  bool   `toml:"enabled"`
	WaitTime string `toml:"wait_time"`
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey              string  `toml:"api_key"`
	Model               string  `toml:"model"`
	EmbeddingModel      string  `toml:"embedding_model"`
	EmbeddingDimensions int32   `toml:"embedding_dimensions"`
	Timeout             string  `toml:"timeout"`
	RateLimit           string  `toml:"rate_limit"` // minimum spacing between requests, e.g. "4s" for 15 RPM
	Temperature         float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// OpenAIConfig is used for embeddings only
type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	EmbeddingModel string `toml:"embedding_model"`
	Dimensions     int64  `toml:"dimensions"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderClaude LLMProvider = "claude"
	LLMProviderOpenAI LLMProvider = "openai"
)

type LLMConfig struct {
	DefaultProvider   LLMProvider `toml:"default_provider" validate:"oneof=gemini claude"`
	EmbeddingProvider LLMProvider `toml:"embedding_provider" validate:"oneof=gemini openai"`
}

// SchedulesConfig holds 5-field cron expressions; empty disables the schedule
type SchedulesConfig struct {
	Discovery  string `toml:"discovery"`
	Cleanup    string `toml:"cleanup"`
	StaleSweep string `toml:"stale_sweep"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 9464,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			MaxRetries:        5,
			BaseBackoff:       "30s",
			BackoffMultiplier: 2,
			MaxBackoff:        "1h",
			HeartbeatInterval: "30s",
			StaleTimeout:      "10m",
		},
		Crawler: CrawlerConfig{
			UserAgent:           "GleanerBot/1.0 (+https://github.com/ternarybob/gleaner)",
			MaxConcurrency:      4,
			MaxInFlight:         8,
			RequestDelay:        "1s",
			RequestTimeout:      "30s",
			MaxBodySize:         10 * 1024 * 1024, // 10MB
			MaxPages:            50,
			MaxDepth:            3,
			RetryMaxAttempts:    3,
			AllowedContentTypes: []string{"text/html", "application/xhtml+xml", "text/plain"},
			JavaScriptWaitTime:  "3s",
		},
		Robots: RobotsConfig{
			Enabled:       true,
			FailOpen:      true,
			MaxCrawlDelay: "30s",
		},
		Cache: CacheConfig{
			MinSummarizeLength: 50,
		},
		Summary: SummaryConfig{
			PromptVersion: "summary-v1",
			MaxInputChars: 24000,
		},
		Extraction: ExtractionConfig{
			BatchTokenBudget: 12000,
			Encoding:         "cl100k_base",
			Concurrency:      3,
			EnrichMaxTurns:   6,
			EnrichTimeout:    "2m",
			MaxPagesPerRun:   200,
		},
		Dedup: DedupConfig{
			IntraRunThreshold: 0.90,
			CrossRunThreshold: 0.85,
			CleanupThreshold:  0.80,
			CleanupModel:      "gemini-2.5-pro",
		},
		Discovery: DiscoveryConfig{
			MaxResultsPerQuery: 10,
		},
		Search: SearchConfig{
			Mode:           "gemini",
			ExcludeDomains: []string{"wikipedia.org", "yelp.com"},
		},
		Social: SocialConfig{
			Enabled:  true,
			WaitTime: "4s",
		},
		Gemini: GeminiConfig{
			Model:               "gemini-2.5-flash",
			EmbeddingModel:      "gemini-embedding-001",
			EmbeddingDimensions: 768,
			Timeout:             "5m",
			RateLimit:           "4s", // free tier, 15 RPM
			Temperature:         0.2,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.2,
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
			Dimensions:     768,
		},
		LLM: LLMConfig{
			DefaultProvider:   LLMProviderGemini,
			EmbeddingProvider: LLMProviderGemini,
		},
		Schedules: SchedulesConfig{
			Discovery:  "0 3 * * *",
			Cleanup:    "30 4 * * 0",
			StaleSweep: "*/5 * * * *",
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if config.Discovery.QueriesFile != "" {
		queries, err := LoadQueriesFile(config.Discovery.QueriesFile)
		if err != nil {
			return nil, err
		}
		config.Discovery.Queries = append(config.Discovery.Queries, queries...)
	}

	return config, nil
}

// queriesFile is the on-disk shape of discovery.queries_file
type queriesFile struct {
	Queries []string `yaml:"queries"`
}

// LoadQueriesFile reads discovery queries from a YAML document
func LoadQueriesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries file %s: %w", path, err)
	}

	var doc queriesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse queries file %s: %w", path, err)
	}

	queries := make([]string, 0, len(doc.Queries))
	for _, q := range doc.Queries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	return queries, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GLEANER_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("GLEANER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GLEANER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if concurrency := os.Getenv("GLEANER_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if maxRetries := os.Getenv("GLEANER_QUEUE_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Queue.MaxRetries = mr
		}
	}

	if badgerPath := os.Getenv("GLEANER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("GLEANER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GLEANER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if userAgent := os.Getenv("GLEANER_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if maxPages := os.Getenv("GLEANER_CRAWLER_MAX_PAGES"); maxPages != "" {
		if mp, err := strconv.Atoi(maxPages); err == nil {
			config.Crawler.MaxPages = mp
		}
	}
	if js := os.Getenv("GLEANER_CRAWLER_ENABLE_JAVASCRIPT"); js != "" {
		if b, err := strconv.ParseBool(js); err == nil {
			config.Crawler.EnableJavaScript = b
		}
	}

	if mode := os.Getenv("GLEANER_SEARCH_MODE"); mode != "" {
		config.Search.Mode = strings.ToLower(mode)
	}

	if failOpen := os.Getenv("GLEANER_ROBOTS_FAIL_OPEN"); failOpen != "" {
		if b, err := strconv.ParseBool(failOpen); err == nil {
			config.Robots.FailOpen = b
		}
	}

	// API keys: GLEANER_* first, then the vendor's conventional variable
	config.Gemini.APIKey = firstEnv(config.Gemini.APIKey, "GLEANER_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	config.Claude.APIKey = firstEnv(config.Claude.APIKey, "GLEANER_CLAUDE_API_KEY", "ANTHROPIC_API_KEY")
	config.OpenAI.APIKey = firstEnv(config.OpenAI.APIKey, "GLEANER_OPENAI_API_KEY", "OPENAI_API_KEY")

	if provider := os.Getenv("GLEANER_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if provider := os.Getenv("GLEANER_LLM_EMBEDDING_PROVIDER"); provider != "" {
		config.LLM.EmbeddingProvider = LLMProvider(strings.ToLower(provider))
	}
}

func firstEnv(fallback string, names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return fallback
}

// Validate checks struct constraints, duration strings and cron schedules
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":          c.Queue.PollInterval,
		"queue.base_backoff":           c.Queue.BaseBackoff,
		"queue.max_backoff":            c.Queue.MaxBackoff,
		"queue.heartbeat_interval":     c.Queue.HeartbeatInterval,
		"queue.stale_timeout":          c.Queue.StaleTimeout,
		"crawler.request_delay":        c.Crawler.RequestDelay,
		"crawler.request_timeout":      c.Crawler.RequestTimeout,
		"crawler.javascript_wait_time": c.Crawler.JavaScriptWaitTime,
		"robots.max_crawl_delay":       c.Robots.MaxCrawlDelay,
		"extraction.enrich_timeout":    c.Extraction.EnrichTimeout,
		"social.wait_time":             c.Social.WaitTime,
		"gemini.timeout":               c.Gemini.Timeout,
		"gemini.rate_limit":            c.Gemini.RateLimit,
		"claude.timeout":               c.Claude.Timeout,
		"claude.rate_limit":            c.Claude.RateLimit,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	hb := ParseDurationOr(c.Queue.HeartbeatInterval, 30*time.Second)
	stale := ParseDurationOr(c.Queue.StaleTimeout, 10*time.Minute)
	if stale <= hb {
		return fmt.Errorf("queue.stale_timeout (%s) must exceed queue.heartbeat_interval (%s)", stale, hb)
	}

	if c.Dedup.CleanupThreshold > c.Dedup.CrossRunThreshold {
		return fmt.Errorf("dedup.cleanup_threshold must not exceed dedup.cross_run_threshold")
	}

	for name, schedule := range map[string]string{
		"schedules.discovery":   c.Schedules.Discovery,
		"schedules.cleanup":     c.Schedules.Cleanup,
		"schedules.stale_sweep": c.Schedules.StaleSweep,
	} {
		if schedule == "" {
			continue
		}
		if err := ValidateJobSchedule(schedule); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

// ParseDurationOr parses a duration string, returning def when empty or malformed
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// ValidateJobSchedule validates a cron schedule expression and ensures minimum 5-minute interval
func ValidateJobSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}

	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
