// Package config loads tracker settings from YAML or JSON, environment
// variables and command-line flags, in increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/gustycube/skywatch/internal/classify"
	"github.com/gustycube/skywatch/internal/lifecycle"
	"github.com/gustycube/skywatch/internal/resolve"
	"github.com/gustycube/skywatch/internal/types"
)

const (
	InputStdin = "stdin"
	InputFile  = "file"
	InputNATS  = "nats"
	InputRedis = "redis"
)

// CategoryRule overrides the built-in keyword table. Rules are matched in
// file order.
type CategoryRule struct {
	Category    string   `yaml:"category" json:"category"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
	LifetimeMin int      `yaml:"lifetime_min" json:"lifetime_min"`
}

// Config represents the complete configuration for skywatch
type Config struct {
	// Input
	Input       string `yaml:"input" json:"input"`
	InputFile   string `yaml:"input_file" json:"input_file"`
	NATSURL     string `yaml:"nats_url" json:"nats_url"`
	NATSSubject string `yaml:"nats_subject" json:"nats_subject"`

	// Redis
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisQueueAddr string `yaml:"redis_queue_addr" json:"redis_queue_addr"`
	RedisQueueKey  string `yaml:"redis_queue_key" json:"redis_queue_key"`

	// Geocoding
	Gazetteer          string  `yaml:"gazetteer" json:"gazetteer"`
	GeocoderURL        string  `yaml:"geocoder_url" json:"geocoder_url"`
	GeocoderCountries  string  `yaml:"geocoder_countries" json:"geocoder_countries"`
	GeocoderRate       float64 `yaml:"geocoder_rate" json:"geocoder_rate"`
	GeocodeTimeoutSec  int     `yaml:"geocode_timeout_sec" json:"geocode_timeout_sec"`
	GeocodeCacheSize   int     `yaml:"geocode_cache_size" json:"geocode_cache_size"`
	GeocodeCacheTTLMin int     `yaml:"geocode_cache_ttl_min" json:"geocode_cache_ttl_min"`
	UA                 string  `yaml:"ua" json:"ua"`

	// Tracking
	DedupWindowSec     int             `yaml:"dedup_window_sec" json:"dedup_window_sec"`
	JanitorIntervalSec int             `yaml:"janitor_interval_sec" json:"janitor_interval_sec"`
	GraceSec           int             `yaml:"grace_sec" json:"grace_sec"`
	HistoryLimit       int             `yaml:"history_limit" json:"history_limit"`
	StepKm             float64         `yaml:"step_km" json:"step_km"`
	UnknownLifetimeMin int             `yaml:"unknown_lifetime_min" json:"unknown_lifetime_min"`
	Resolver           resolve.Weights `yaml:"resolver" json:"resolver"`
	Categories         []CategoryRule  `yaml:"categories" json:"categories"`

	// Sync
	SyncSchedule      string `yaml:"sync_schedule" json:"sync_schedule"`
	SnapshotFile      string `yaml:"snapshot_file" json:"snapshot_file"`
	SnapshotFormat    string `yaml:"snapshot_format" json:"snapshot_format"`
	GitRepo           string `yaml:"git_repo" json:"git_repo"`
	GitFile           string `yaml:"git_file" json:"git_file"`
	GitRemote         string `yaml:"git_remote" json:"git_remote"`
	GitBranch         string `yaml:"git_branch" json:"git_branch"`
	GitAuthor         string `yaml:"git_author" json:"git_author"`
	Ingest            string `yaml:"ingest" json:"ingest"`
	SpoolDir          string `yaml:"spool_dir" json:"spool_dir"`
	BoltPath          string `yaml:"bolt_path" json:"bolt_path"`
	SQLitePath        string `yaml:"sqlite_path" json:"sqlite_path"`
	NATSPublishPrefix string `yaml:"nats_publish_prefix" json:"nats_publish_prefix"`

	// mTLS
	MTLSCert string `yaml:"mtls_cert" json:"mtls_cert"`
	MTLSKey  string `yaml:"mtls_key" json:"mtls_key"`
	MTLSCA   string `yaml:"mtls_ca" json:"mtls_ca"`

	// Serving and observability
	APIAddr      string `yaml:"api_addr" json:"api_addr"`
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`
}

// SetDefaults fills every zero field with its default.
func (c *Config) SetDefaults() {
	if c.Input == "" {
		c.Input = InputStdin
	}
	if c.NATSSubject == "" {
		c.NATSSubject = "skywatch.messages"
	}
	if c.RedisQueueKey == "" {
		c.RedisQueueKey = "skywatch:queue"
	}
	if c.GeocoderCountries == "" {
		c.GeocoderCountries = "ua"
	}
	if c.GeocoderRate == 0 {
		c.GeocoderRate = 1
	}
	if c.GeocodeTimeoutSec == 0 {
		c.GeocodeTimeoutSec = 5
	}
	if c.GeocodeCacheSize == 0 {
		c.GeocodeCacheSize = 1024
	}
	if c.GeocodeCacheTTLMin == 0 {
		c.GeocodeCacheTTLMin = 60
	}
	if c.UA == "" {
		c.UA = "skywatch/1.0 (+https://github.com/gustycube/skywatch)"
	}
	if c.DedupWindowSec == 0 {
		c.DedupWindowSec = 600
	}
	if c.JanitorIntervalSec == 0 {
		c.JanitorIntervalSec = 30
	}
	d := lifecycle.DefaultConfig()
	if c.GraceSec == 0 {
		c.GraceSec = int(d.Grace / time.Second)
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.StepKm == 0 {
		c.StepKm = d.StepKm
	}
	if c.UnknownLifetimeMin == 0 {
		c.UnknownLifetimeMin = int(classify.DefaultUnknownLifetime / time.Minute)
	}
	if c.Resolver == (resolve.Weights{}) {
		c.Resolver = resolve.DefaultWeights()
	}
	if c.SyncSchedule == "" {
		c.SyncSchedule = "@every 30s"
	}
	if c.SnapshotFormat == "" {
		c.SnapshotFormat = "json"
	}
	if c.GitFile == "" {
		c.GitFile = "targets.json"
	}
	if c.GitBranch == "" {
		c.GitBranch = "main"
	}
	if c.GitAuthor == "" {
		c.GitAuthor = "skywatch <skywatch@localhost>"
	}
	if c.SpoolDir == "" {
		c.SpoolDir = "spool"
	}
	if c.APIAddr == "" {
		c.APIAddr = ":8080"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "skywatch"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Input {
	case InputStdin:
	case InputFile:
		if c.InputFile == "" {
			return fmt.Errorf("input_file is required for input %q", c.Input)
		}
	case InputNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("nats_url is required for input %q", c.Input)
		}
	case InputRedis:
		if c.RedisQueueAddr == "" {
			return fmt.Errorf("redis_queue_addr is required for input %q", c.Input)
		}
	default:
		return fmt.Errorf("unknown input %q (use stdin, file, nats or redis)", c.Input)
	}
	if c.DedupWindowSec < 1 {
		return fmt.Errorf("dedup_window_sec must be at least 1")
	}
	if c.JanitorIntervalSec < 1 {
		return fmt.Errorf("janitor_interval_sec must be at least 1")
	}
	if c.GeocodeTimeoutSec < 1 {
		return fmt.Errorf("geocode_timeout_sec must be at least 1")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1")
	}
	if c.Resolver.Threshold <= 0 {
		return fmt.Errorf("resolver.threshold must be positive")
	}
	if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
		return fmt.Errorf("invalid sync_schedule %q: %w", c.SyncSchedule, err)
	}
	switch c.SnapshotFormat {
	case "json", "jsonl", "csv":
	default:
		return fmt.Errorf("unknown snapshot_format %q (use json, jsonl or csv)", c.SnapshotFormat)
	}
	if (c.MTLSCert == "") != (c.MTLSKey == "") {
		return fmt.Errorf("mtls_cert and mtls_key must be set together")
	}
	for i, r := range c.Categories {
		cat := types.Category(r.Category)
		if !cat.Known() || !knownCategory(cat) {
			return fmt.Errorf("categories[%d]: unknown category %q", i, r.Category)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("categories[%d]: keywords are required", i)
		}
		if r.LifetimeMin < 1 {
			return fmt.Errorf("categories[%d]: lifetime_min must be at least 1", i)
		}
	}
	return nil
}

func knownCategory(c types.Category) bool {
	switch c {
	case types.CategoryDrone, types.CategoryMissile, types.CategoryBallistic,
		types.CategoryKAB, types.CategoryRecon, types.CategoryArtillery:
		return true
	}
	return false
}

// Rules converts configured categories into classifier rules. It returns
// nil when none are configured so the classifier uses its built-in table.
func (c *Config) Rules() []classify.Rule {
	if len(c.Categories) == 0 {
		return nil
	}
	rules := make([]classify.Rule, 0, len(c.Categories))
	for _, r := range c.Categories {
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		rules = append(rules, classify.Rule{
			Category: types.Category(r.Category),
			Keywords: kw,
			Lifetime: time.Duration(r.LifetimeMin) * time.Minute,
		})
	}
	return rules
}

// Lifecycle returns the lifecycle engine settings.
func (c *Config) Lifecycle() lifecycle.Config {
	return lifecycle.Config{
		Grace:        time.Duration(c.GraceSec) * time.Second,
		HistoryLimit: c.HistoryLimit,
		StepKm:       c.StepKm,
	}
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSec) * time.Second
}

func (c *Config) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSec) * time.Second
}

func (c *Config) GeocodeTimeout() time.Duration {
	return time.Duration(c.GeocodeTimeoutSec) * time.Second
}

func (c *Config) UnknownLifetime() time.Duration {
	return time.Duration(c.UnknownLifetimeMin) * time.Minute
}

// LoadFromFile parses a YAML or JSON file and applies defaults. Validation
// runs after environment and flag overrides are merged.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()
	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	str := func(key string, dst *string) {
		if v, ok := flags[key].(string); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := flags[key].(int); ok && v > 0 {
			*dst = v
		}
	}
	str("input", &c.Input)
	str("input_file", &c.InputFile)
	str("nats_url", &c.NATSURL)
	str("nats_subject", &c.NATSSubject)
	str("gazetteer", &c.Gazetteer)
	str("geocoder_url", &c.GeocoderURL)
	str("sync_schedule", &c.SyncSchedule)
	str("snapshot_file", &c.SnapshotFile)
	str("snapshot_format", &c.SnapshotFormat)
	str("git_repo", &c.GitRepo)
	str("git_remote", &c.GitRemote)
	str("ingest", &c.Ingest)
	str("spool_dir", &c.SpoolDir)
	str("bolt_path", &c.BoltPath)
	str("sqlite_path", &c.SQLitePath)
	str("nats_publish_prefix", &c.NATSPublishPrefix)
	str("mtls_cert", &c.MTLSCert)
	str("mtls_key", &c.MTLSKey)
	str("mtls_ca", &c.MTLSCA)
	str("api_addr", &c.APIAddr)
	str("metrics_addr", &c.MetricsAddr)
	str("otel_endpoint", &c.OTELEndpoint)
	str("otel_service", &c.OTELService)
	num("dedup_window_sec", &c.DedupWindowSec)
	num("janitor_interval_sec", &c.JanitorIntervalSec)
	num("geocode_timeout_sec", &c.GeocodeTimeoutSec)
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	env := map[string]*string{
		"REDIS_ADDR":       &c.RedisAddr,
		"REDIS_QUEUE_ADDR": &c.RedisQueueAddr,
		"REDIS_QUEUE_KEY":  &c.RedisQueueKey,
		"NATS_URL":         &c.NATSURL,
		"GEOCODER_URL":     &c.GeocoderURL,
	}
	for k, dst := range env {
		if v := os.Getenv(k); v != "" {
			*dst = v
		}
	}
}
