// Package config loads the service configuration from a YAML file, with
// environment overrides and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-readcache/pkg/archive"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/events"
	"github.com/illmade-knight/go-readcache/pkg/github"
	"github.com/illmade-knight/go-readcache/pkg/history"
	"github.com/illmade-knight/go-readcache/pkg/microservice"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const envPrefix = "READCACHE_"

// CacheConfig controls refresh scheduling.
type CacheConfig struct {
	RefreshPeriod  time.Duration `yaml:"refresh_period"`
	Workers        int           `yaml:"workers"`
	CollectTimeout time.Duration `yaml:"collect_timeout"`
	SinkTimeout    time.Duration `yaml:"sink_timeout"`
}

// Config is the complete service configuration. Optional integrations are
// enabled by setting their address, project or bucket.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Organization string                 `yaml:"organization"`
	GitHub       github.Config          `yaml:"github"`
	Cache        CacheConfig            `yaml:"cache"`
	Redis        cache.RedisConfig      `yaml:"redis"`
	Firestore    cache.FirestoreConfig  `yaml:"firestore"`
	Pubsub       events.PubsubConfig    `yaml:"pubsub"`
	Archive      archive.Config         `yaml:"archive"`
	BigQuery     history.BigQueryConfig `yaml:"bigquery"`
}

// Load reads the file at path, applies environment overrides, then the given
// overrides, then defaults, and validates the result. An empty path loads from
// the environment only.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.Organization == "" {
		errs = multierror.Append(errs, errors.New("organization is required"))
	}
	if c.HTTPPort == "" {
		errs = multierror.Append(errs, errors.New("http_port is required"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Cache.RefreshPeriod <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("cache.refresh_period must be positive, got %s", c.Cache.RefreshPeriod))
	}
	if c.Cache.Workers <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("cache.workers must be positive, got %d", c.Cache.Workers))
	}
	if c.Cache.CollectTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("cache.collect_timeout cannot be negative, got %s", c.Cache.CollectTimeout))
	}
	if c.GitHub.RetryMax < 0 {
		errs = multierror.Append(errs, fmt.Errorf("github.retry_max cannot be negative, got %d", c.GitHub.RetryMax))
	}
	if c.Firestore.CollectionName != "" && c.Firestore.ProjectID == "" {
		errs = multierror.Append(errs, errors.New("firestore.project_id is required when firestore.collection is set"))
	}
	if c.Pubsub.TopicID != "" && c.Pubsub.ProjectID == "" {
		errs = multierror.Append(errs, errors.New("pubsub.project_id is required when pubsub.topic_id is set"))
	}
	if c.BigQuery.TableID != "" && (c.BigQuery.ProjectID == "" || c.BigQuery.DatasetID == "") {
		errs = multierror.Append(errs, errors.New("bigquery.project_id and bigquery.dataset_id are required when bigquery.table_id is set"))
	}
	if c.BigQuery.TopN < 0 {
		errs = multierror.Append(errs, fmt.Errorf("bigquery.top_n cannot be negative, got %d", c.BigQuery.TopN))
	}
	return errs.ErrorOrNil()
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = ":8080"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "readcache"
	}
	if cfg.Cache.RefreshPeriod == 0 {
		cfg.Cache.RefreshPeriod = 5 * time.Minute
	}
	if cfg.Cache.Workers == 0 {
		cfg.Cache.Workers = 2
	}
	if cfg.Cache.CollectTimeout == 0 {
		cfg.Cache.CollectTimeout = 2 * time.Minute
	}
	if cfg.Cache.SinkTimeout <= 0 {
		cfg.Cache.SinkTimeout = 10 * time.Second
	}

	def := github.DefaultConfig()
	if cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = def.BaseURL
	}
	if cfg.GitHub.TokenEnv == "" {
		cfg.GitHub.TokenEnv = def.TokenEnv
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv(cfg.GitHub.TokenEnv)
	}
	if cfg.GitHub.Timeout == 0 {
		cfg.GitHub.Timeout = def.Timeout
	}
	if cfg.GitHub.RetryMax == 0 {
		cfg.GitHub.RetryMax = def.RetryMax
	}

	// Cloud integrations fall back to the service project.
	if cfg.Firestore.ProjectID == "" && cfg.Firestore.CollectionName != "" {
		cfg.Firestore.ProjectID = cfg.ProjectID
	}
	if cfg.Pubsub.ProjectID == "" && cfg.Pubsub.TopicID != "" {
		cfg.Pubsub.ProjectID = cfg.ProjectID
	}
	if cfg.BigQuery.ProjectID == "" && cfg.BigQuery.TableID != "" {
		cfg.BigQuery.ProjectID = cfg.ProjectID
	}
	if cfg.BigQuery.CredentialsFile == "" {
		cfg.BigQuery.CredentialsFile = cfg.CredentialsFile
	}
}

// applyEnv overrides file values with READCACHE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":        &cfg.LogLevel,
		"HTTP_PORT":        &cfg.HTTPPort,
		"PROJECT_ID":       &cfg.ProjectID,
		"CREDENTIALS_FILE": &cfg.CredentialsFile,
		"ORGANIZATION":     &cfg.Organization,
		"GITHUB_BASE_URL":  &cfg.GitHub.BaseURL,
		"REDIS_ADDR":       &cfg.Redis.Addr,
		"REDIS_PASSWORD":   &cfg.Redis.Password,
		"PUBSUB_TOPIC_ID":  &cfg.Pubsub.TopicID,
		"ARCHIVE_BUCKET":   &cfg.Archive.BucketName,
	}
	for name, dst := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REFRESH_PERIOD": &cfg.Cache.RefreshPeriod,
		"REDIS_TTL":      &cfg.Redis.TTL,
	}
	for name, dst := range durations {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"WORKERS":  &cfg.Cache.Workers,
		"REDIS_DB": &cfg.Redis.DB,
	}
	for name, dst := range ints {
		if v, ok := lookup(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}
	return nil
}
