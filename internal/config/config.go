// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/timeline-harvester/internal/record"
)

// Progress log backends.
const (
	ProgressBackendFile     = "file"
	ProgressBackendPostgres = "postgres"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Output   OutputConfig   `mapstructure:"output"`
	Progress ProgressConfig `mapstructure:"progress"`
	Source   SourceConfig   `mapstructure:"source"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Server   ServerConfig   `mapstructure:"server"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs the pagination engine.
type CrawlConfig struct {
	Query            string `mapstructure:"query"`
	MaxDepth         int    `mapstructure:"max_depth"`
	SeedCursor       string `mapstructure:"seed_cursor"`
	DefaultCursor    string `mapstructure:"default_cursor"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// OutputConfig describes the delimited record sink.
type OutputConfig struct {
	Destination   string   `mapstructure:"destination"`
	Fields        []string `mapstructure:"fields"`
	Delimiter     string   `mapstructure:"delimiter"`
	NullToken     string   `mapstructure:"null_token"`
	LinkSeparator string   `mapstructure:"link_separator"`
}

// ProgressConfig selects where cursors are logged.
type ProgressConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// SourceConfig configures the timeline endpoint and request identities.
type SourceConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	QueryParam        string            `mapstructure:"query_param"`
	CursorParam       string            `mapstructure:"cursor_param"`
	Params            map[string]string `mapstructure:"params"`
	Headers           map[string]string `mapstructure:"headers"`
	UserAgents        []string          `mapstructure:"user_agents"`
	UserAgentsFile    string            `mapstructure:"user_agents_file"`
	TimeoutSeconds    int               `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
}

// ExtractConfig tunes record extraction.
type ExtractConfig struct {
	ItemSelector string `mapstructure:"item_selector"`
}

// ServerConfig controls the status/metrics HTTP server. An empty address
// disables it.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// PubSubConfig holds metadata for run summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig sets where finished outputs are archived. GCSBucket takes
// precedence over LocalDir; both empty disables archival.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FlagKeys maps command-line flag names to configuration keys. Flags that
// are present on the FlagSet passed to Load override file and environment
// values when set.
var FlagKeys = map[string]string{
	"query":        "crawl.query",
	"max-depth":    "crawl.max_depth",
	"seed-cursor":  "crawl.seed_cursor",
	"output":       "output.destination",
	"fields":       "output.fields",
	"progress-dir": "progress.dir",
	"metrics-addr": "server.metrics_addr",
	"development":  "logging.development",
	"log-level":    "logging.level",
}

// Load builds a Config from disk, environment, and flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Every key gets a default so AutomaticEnv can populate it on Unmarshal.
	v.SetDefault("crawl.query", "")
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.seed_cursor", "")
	v.SetDefault("crawl.default_cursor", "")
	v.SetDefault("crawl.max_retries", 3)
	v.SetDefault("crawl.backoff_initial_ms", 500)
	v.SetDefault("crawl.backoff_max_ms", 30000)
	v.SetDefault("output.destination", "tweets.csv")
	v.SetDefault("output.fields", fieldNames(record.AllFields))
	v.SetDefault("output.delimiter", ",")
	v.SetDefault("output.null_token", "Null")
	v.SetDefault("output.link_separator", " ")
	v.SetDefault("progress.backend", ProgressBackendFile)
	v.SetDefault("progress.dir", ".")
	v.SetDefault("progress.dsn", "")
	v.SetDefault("progress.table", "cursor_log")
	v.SetDefault("source.base_url", "https://twitter.com/i/search/timeline")
	v.SetDefault("source.query_param", "q")
	v.SetDefault("source.cursor_param", "max_position")
	v.SetDefault("source.params", map[string]string{
		"vertical":                   "default",
		"src":                        "typd",
		"include_entities":           "1",
		"include_available_features": "1",
		"lang":                       "en",
	})
	v.SetDefault("source.headers", map[string]string{})
	v.SetDefault("source.user_agents", []string{})
	v.SetDefault("source.user_agents_file", "")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.requests_per_second", 1.0)
	v.SetDefault("extract.item_selector", "li.stream-item")
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "harvests")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawl.Query) == "" {
		return fmt.Errorf("crawl.query is required")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxRetries < 0 {
		return fmt.Errorf("crawl.max_retries must be >= 0")
	}
	if c.Crawl.BackoffInitialMs <= 0 || c.Crawl.BackoffMaxMs < c.Crawl.BackoffInitialMs {
		return fmt.Errorf("crawl.backoff_initial_ms must be > 0 and <= crawl.backoff_max_ms")
	}
	if strings.ContainsAny(c.Crawl.SeedCursor+c.Crawl.DefaultCursor, "\r\n") {
		return fmt.Errorf("crawl.seed_cursor and crawl.default_cursor cannot contain line breaks")
	}
	if strings.TrimSpace(c.Output.Destination) == "" {
		return fmt.Errorf("output.destination is required")
	}
	if _, err := c.OutputFields(); err != nil {
		return fmt.Errorf("output.fields: %w", err)
	}
	if utf8.RuneCountInString(c.Output.Delimiter) != 1 {
		return fmt.Errorf("output.delimiter must be a single character")
	}
	if c.Output.Delimiter == "\n" || c.Output.Delimiter == "\r" {
		return fmt.Errorf("output.delimiter cannot be a line break")
	}
	switch c.Progress.Backend {
	case ProgressBackendFile:
		if strings.TrimSpace(c.Progress.Dir) == "" {
			return fmt.Errorf("progress.dir is required for the file backend")
		}
	case ProgressBackendPostgres:
		if strings.TrimSpace(c.Progress.DSN) == "" {
			return fmt.Errorf("progress.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("progress.backend must be %q or %q", ProgressBackendFile, ProgressBackendPostgres)
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("source.requests_per_second must be >= 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Seed returns the cursor of the first fetch for a fresh crawl.
func (c Config) Seed() string {
	if c.Crawl.SeedCursor != "" {
		return c.Crawl.SeedCursor
	}
	return c.Crawl.DefaultCursor
}

// OutputFields parses the configured column schema.
func (c Config) OutputFields() ([]record.Field, error) {
	if len(c.Output.Fields) == 0 {
		return nil, fmt.Errorf("at least one field is required")
	}
	return record.ParseFields(c.Output.Fields)
}

// DelimiterRune returns the output delimiter as a rune.
func (c Config) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(c.Output.Delimiter)
	return r
}

// SourceTimeout converts the request timeout into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Crawl.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Crawl.BackoffMaxMs) * time.Millisecond
}

func fieldNames(fields []record.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
