// Package config provides YAML-based configuration loading for Almanac.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Almanac configuration, loaded from almanac.yaml.
type Config struct {
	Store         StoreConfig        `yaml:"store"`
	Services      []ServiceConfig    `yaml:"services"`
	Organizations []OrgConfig        `yaml:"organizations"`
	Batch         BatchConfig        `yaml:"batch"`
	SourceCheck   SourceCheckConfig  `yaml:"source_check"`
	Extraction    ExtractionConfig   `yaml:"extraction"`
	Invalidation  InvalidationConfig `yaml:"invalidation"`
	Server        ServerConfig       `yaml:"server"`
	Notify        NotifyConfig       `yaml:"notify"`
	Log           LogConfig          `yaml:"log"`
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Driver string      `yaml:"driver"` // sqlite, mysql, file, s3
	Path   string      `yaml:"path"`   // sqlite database file or file-store root
	MySQL  MySQLConfig `yaml:"mysql"`
	S3     S3Config    `yaml:"s3"`
}

// MySQLConfig holds connection settings for a MySQL-compatible server.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// S3Config holds settings for the object-store backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// ServiceConfig declares a service and the variables it is expected to fill.
type ServiceConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Variables []string `yaml:"variables"`
}

// OrgConfig declares an organization whose variables are maintained.
type OrgConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	OfficialURL string `yaml:"official_url"`
	Disabled    bool   `yaml:"disabled"`
}

// BatchConfig bounds the periodic fetch run.
type BatchConfig struct {
	Schedule            string        `yaml:"schedule"`
	MaxOrgsPerRun       int           `yaml:"max_orgs_per_run"`
	ServiceDelay        time.Duration `yaml:"service_delay"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	RunTimeout          time.Duration `yaml:"run_timeout"`
	JobStaleAfter       time.Duration `yaml:"job_stale_after"`
	OverwriteLiveDrafts bool          `yaml:"overwrite_live_drafts"`
}

// SourceCheckConfig bounds the periodic source-change scan.
type SourceCheckConfig struct {
	Schedule      string        `yaml:"schedule"`
	MaxOrgsPerRun int           `yaml:"max_orgs_per_run"`
	Concurrency   int           `yaml:"concurrency"`
	FetchDelay    time.Duration `yaml:"fetch_delay"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	PageMap       string        `yaml:"page_map"`
	TemplatesDir  string        `yaml:"templates_dir"`
}

// ExtractionConfig points at the external extraction service.
type ExtractionConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// InvalidationConfig points at the page cache invalidation webhook.
type InvalidationConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Secret     string        `yaml:"secret"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	CronSecret string `yaml:"cron_secret"`
}

// NotifyConfig holds optional chat sinks for notifications.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig is a bot token and the channel notifications are posted to.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config, if present, is loaded into the process
// environment first so that ALMANAC_* overrides can live outside the YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envPath, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays ALMANAC_* environment variables onto the parsed file.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"ALMANAC_STORE_DRIVER":        &c.Store.Driver,
		"ALMANAC_STORE_PATH":          &c.Store.Path,
		"ALMANAC_MYSQL_HOST":          &c.Store.MySQL.Host,
		"ALMANAC_MYSQL_USER":          &c.Store.MySQL.User,
		"ALMANAC_MYSQL_PASSWORD":      &c.Store.MySQL.Password,
		"ALMANAC_MYSQL_DATABASE":      &c.Store.MySQL.Database,
		"ALMANAC_S3_BUCKET":           &c.Store.S3.Bucket,
		"ALMANAC_S3_ACCESS_KEY_ID":    &c.Store.S3.AccessKeyID,
		"ALMANAC_S3_SECRET_KEY":       &c.Store.S3.SecretAccessKey,
		"ALMANAC_EXTRACTION_ENDPOINT": &c.Extraction.Endpoint,
		"ALMANAC_EXTRACTION_API_KEY":  &c.Extraction.APIKey,
		"ALMANAC_INVALIDATION_SECRET": &c.Invalidation.Secret,
		"ALMANAC_CRON_SECRET":         &c.Server.CronSecret,
		"ALMANAC_SLACK_BOT_TOKEN":     &c.Notify.Slack.BotToken,
		"ALMANAC_DISCORD_BOT_TOKEN":   &c.Notify.Discord.BotToken,
		"ALMANAC_LOG_LEVEL":           &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("ALMANAC_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ALMANAC_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "sqlite":
			c.Store.Path = "almanac.db"
		case "file":
			c.Store.Path = "data"
		}
	}
	if c.Store.MySQL.Host == "" {
		c.Store.MySQL.Host = "127.0.0.1"
	}
	if c.Store.MySQL.Port == 0 {
		c.Store.MySQL.Port = 3306
	}
	if c.Store.MySQL.User == "" {
		c.Store.MySQL.User = "root"
	}
	if c.Store.MySQL.Database == "" {
		c.Store.MySQL.Database = "almanac"
	}

	if c.Batch.MaxOrgsPerRun == 0 {
		c.Batch.MaxOrgsPerRun = 5
	}
	if c.Batch.ServiceDelay == 0 {
		c.Batch.ServiceDelay = 2 * time.Second
	}
	if c.Batch.StaleAfter == 0 {
		c.Batch.StaleAfter = 7 * 24 * time.Hour
	}
	if c.Batch.RunTimeout == 0 {
		c.Batch.RunTimeout = 30 * time.Minute
	}
	if c.Batch.JobStaleAfter == 0 {
		c.Batch.JobStaleAfter = 30 * time.Minute
	}

	if c.SourceCheck.MaxOrgsPerRun == 0 {
		c.SourceCheck.MaxOrgsPerRun = 10
	}
	if c.SourceCheck.Concurrency == 0 {
		c.SourceCheck.Concurrency = 3
	}
	if c.SourceCheck.FetchDelay == 0 {
		c.SourceCheck.FetchDelay = 500 * time.Millisecond
	}
	if c.SourceCheck.FetchTimeout == 0 {
		c.SourceCheck.FetchTimeout = 20 * time.Second
	}
	if c.SourceCheck.RunTimeout == 0 {
		c.SourceCheck.RunTimeout = 10 * time.Minute
	}

	if c.Extraction.Timeout == 0 {
		c.Extraction.Timeout = 5 * time.Minute
	}
	if c.Invalidation.Timeout == 0 {
		c.Invalidation.Timeout = 10 * time.Second
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "file":
	case "mysql":
		if c.Store.MySQL.Database == "" {
			errs = append(errs, "store.mysql.database is required")
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			errs = append(errs, "store.s3.bucket is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, mysql, file, s3", c.Store.Driver))
	}

	if len(c.Services) == 0 {
		errs = append(errs, "at least one service is required")
	}
	seen := make(map[string]bool)
	for i, s := range c.Services {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("services[%d].id is required", i))
			continue
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("services[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true
	}

	seen = make(map[string]bool)
	for i, o := range c.Organizations {
		if o.ID == "" {
			errs = append(errs, fmt.Sprintf("organizations[%d].id is required", i))
			continue
		}
		if seen[o.ID] {
			errs = append(errs, fmt.Sprintf("organizations[%d].id %q is duplicated", i, o.ID))
		}
		seen[o.ID] = true
		if o.OfficialURL == "" {
			errs = append(errs, fmt.Sprintf("organizations[%d].official_url is required", i))
		}
	}

	if c.Batch.MaxOrgsPerRun < 0 {
		errs = append(errs, "batch.max_orgs_per_run must not be negative")
	}
	if c.SourceCheck.MaxOrgsPerRun < 0 {
		errs = append(errs, "source_check.max_orgs_per_run must not be negative")
	}
	if c.SourceCheck.Concurrency < 0 {
		errs = append(errs, "source_check.concurrency must not be negative")
	}
	for name, expr := range map[string]string{
		"batch.schedule":        c.Batch.Schedule,
		"source_check.schedule": c.SourceCheck.Schedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Service returns the service with the given ID.
func (c *Config) Service(id string) (ServiceConfig, bool) {
	for _, s := range c.Services {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceConfig{}, false
}

// ServiceIDs returns the configured service IDs in file order.
func (c *Config) ServiceIDs() []string {
	ids := make([]string, 0, len(c.Services))
	for _, s := range c.Services {
		ids = append(ids, s.ID)
	}
	return ids
}

// Organization returns the organization with the given ID.
func (c *Config) Organization(id string) (OrgConfig, bool) {
	for _, o := range c.Organizations {
		if o.ID == id {
			return o, true
		}
	}
	return OrgConfig{}, false
}

// EnabledOrganizations returns organizations not marked disabled.
func (c *Config) EnabledOrganizations() []OrgConfig {
	var out []OrgConfig
	for _, o := range c.Organizations {
		if !o.Disabled {
			out = append(out, o)
		}
	}
	return out
}
