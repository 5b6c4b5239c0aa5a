// Package config loads the structured configuration surface defined in
// spec.md §6.7: one struct per concern, a Load function, and Validate()
// where cross-field invariants exist.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ceglabs/ceg/internal/domain"
)

// AntispamRule is one weighted rule the antispam scorer evaluates.
type AntispamRule struct {
	ID     string  `yaml:"id"`
	Kind   string  `yaml:"kind"` // hashtag, keyword, url_shape, structural
	Weight float64 `yaml:"weight"`
	// Pattern is a regex (keyword/hashtag), a comma-separated list of URL
	// fragments to flag (url_shape; whitelisted domains live in
	// AntispamConfig.WhitelistDomains), or a heuristic selector (structural),
	// interpreted per Kind.
	Pattern string `yaml:"pattern"`
}

// AntispamConfig is spec.md §6.7's antispam.* surface.
type AntispamConfig struct {
	ThresholdDefault float64        `yaml:"threshold_default"`
	ThresholdTrusted float64        `yaml:"threshold_trusted"`
	TrustedLevel     int            `yaml:"trusted_level"`
	WhitelistDomains []string       `yaml:"whitelist_domains"`
	Rules            []AntispamRule `yaml:"rules"`
}

// Threshold returns the ad-score cutoff for a source of the given trust level.
func (c AntispamConfig) Threshold(trustLevel int) float64 {
	if trustLevel >= c.TrustedLevel {
		return c.ThresholdTrusted
	}
	return c.ThresholdDefault
}

func defaultAntispam() AntispamConfig {
	return AntispamConfig{
		ThresholdDefault: 5.0,
		ThresholdTrusted: 8.0,
		TrustedLevel:     7,
	}
}

// EnrichmentConfig is spec.md §6.7's enrichment.* surface.
type EnrichmentConfig struct {
	Workers      int           `yaml:"workers"`
	TimeoutMS    int           `yaml:"timeout_ms"`
	MaxRetries   int           `yaml:"max_retries"`
	MaxBacklog   int           `yaml:"max_backlog"`
	BackoffPoll  time.Duration `yaml:"backoff_poll"`
}

func (c EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func defaultEnrichment() EnrichmentConfig {
	return EnrichmentConfig{
		Workers:     4,
		TimeoutMS:   60_000,
		MaxRetries:  3,
		MaxBacklog:  10_000,
		BackoffPoll: 5 * time.Second,
	}
}

// CEGWeights are the w_prior/w_text/w_market blend weights for conf_total.
type CEGWeights struct {
	Prior  float64 `yaml:"prior"`
	Text   float64 `yaml:"text"`
	Market float64 `yaml:"market"`
}

// CEGConfig is spec.md §6.7's ceg.* surface.
type CEGConfig struct {
	LookbackDays    int        `yaml:"lookback_days"`
	RetroWindowDays int        `yaml:"retro_window_days"`
	MinConfidence   float64    `yaml:"min_confidence"`
	Weights         CEGWeights `yaml:"weights"`
	MaxEventsPerNews int       `yaml:"max_events_per_news"`
}

func (c CEGConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

func (c CEGConfig) RetroWindow() time.Duration {
	return time.Duration(c.RetroWindowDays) * 24 * time.Hour
}

func (c CEGConfig) Validate() error {
	sum := c.Weights.Prior + c.Weights.Text + c.Weights.Market
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%w: ceg.weights must sum to 1.0, got %.4f", domain.ErrConfig, sum)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: ceg.min_confidence must be in [0,1]", domain.ErrConfig)
	}
	return nil
}

func defaultCEG() CEGConfig {
	return CEGConfig{
		LookbackDays:     30,
		RetroWindowDays:  30,
		MinConfidence:    0.3,
		Weights:          CEGWeights{Prior: 0.4, Text: 0.3, Market: 0.3},
		MaxEventsPerNews: 5,
	}
}

// EventStudyConfig is spec.md §6.7's event_study.* surface.
type EventStudyConfig struct {
	EstimationDays     int     `yaml:"estimation_days"`
	EventWindowDays    int     `yaml:"event_window"`
	SignificanceSigma  float64 `yaml:"significance_sigma"`
	MinObservations    int     `yaml:"min_observations"`
}

func defaultEventStudy() EventStudyConfig {
	return EventStudyConfig{
		EstimationDays:    30,
		EventWindowDays:   1,
		SignificanceSigma: 2.0,
		MinObservations:   20,
	}
}

// OutboxConfig is spec.md §6.7's outbox.* surface.
type OutboxConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	BaseRetrySeconds  int           `yaml:"base_retry_seconds"`
	MaxRetries        int           `yaml:"max_retries"`
	KeepDays          int           `yaml:"keep_days"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

func (c OutboxConfig) BaseRetry() time.Duration {
	return time.Duration(c.BaseRetrySeconds) * time.Second
}

func (c OutboxConfig) Keep() time.Duration {
	return time.Duration(c.KeepDays) * 24 * time.Hour
}

func defaultOutbox() OutboxConfig {
	return OutboxConfig{
		BatchSize:        100,
		BaseRetrySeconds: 60,
		MaxRetries:       3,
		KeepDays:         7,
		PollInterval:     2 * time.Second,
	}
}

// SourceSpec is one entry of sources.yml, per spec.md §6.7.
type SourceSpec struct {
	Code          string         `yaml:"code"`
	Kind          string         `yaml:"kind"`
	Locator       string         `yaml:"locator"`
	TrustLevel    int            `yaml:"trust_level"`
	Enabled       bool           `yaml:"enabled"`
	PollInterval  time.Duration  `yaml:"poll_interval"`
	BackfillDays  int            `yaml:"backfill_days"`
	Config        map[string]any `yaml:"config"`
}

// LinkerConfig tunes the issuer linker (C7).
type LinkerConfig struct {
	AutoLearnThreshold float64 `yaml:"auto_learn_threshold"`
}

func defaultLinker() LinkerConfig {
	return LinkerConfig{AutoLearnThreshold: 50}
}

// DatabaseConfig holds the relational store DSN and pool sizing.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

func defaultDatabase() DatabaseConfig {
	return DatabaseConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    5 * time.Second,
	}
}

// RedisConfig holds the alias-cache connection.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// BrokerConfig selects and configures the outbox relay's event bus. The
// bus DB is kept separate from RedisConfig.DB so the alias-cache mirror
// and the streams backlog don't collide on key space.
type BrokerConfig struct {
	Type   string `yaml:"type"` // redis_streams | stub
	Addr   string `yaml:"addr"`
	DB     int    `yaml:"db"`
	MaxLen int64  `yaml:"max_len"`
}

// HTTPConfig configures the ops/query HTTP surface.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func defaultHTTP() HTTPConfig {
	return HTTPConfig{Host: "127.0.0.1", Port: 8090}
}

// Config aggregates the entire configuration surface of spec.md §6.7.
type Config struct {
	Antispam   AntispamConfig   `yaml:"antispam"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	CEG        CEGConfig        `yaml:"ceg"`
	EventStudy EventStudyConfig `yaml:"event_study"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Linker     LinkerConfig     `yaml:"linker"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Broker     BrokerConfig     `yaml:"broker"`
	HTTP       HTTPConfig       `yaml:"http"`
	Sources    []SourceSpec     `yaml:"sources"`
}

// Default returns a Config populated with every documented default from
// spec.md (the threshold/window/weight values named inline in §4 and §6.7).
func Default() Config {
	return Config{
		Antispam:   defaultAntispam(),
		Enrichment: defaultEnrichment(),
		CEG:        defaultCEG(),
		EventStudy: defaultEventStudy(),
		Outbox:     defaultOutbox(),
		Linker:     defaultLinker(),
		Database:   defaultDatabase(),
		HTTP:       defaultHTTP(),
	}
}

// Load reads and parses a YAML configuration file, overlaying it onto the
// documented defaults, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config %s: %v", domain.ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config %s: %v", domain.ErrConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field invariants that a bad operator config could
// violate; each failure is a startup-fatal ErrConfig per spec.md §7.
func (c Config) Validate() error {
	if err := c.CEG.Validate(); err != nil {
		return err
	}
	if c.Antispam.ThresholdTrusted < c.Antispam.ThresholdDefault {
		return fmt.Errorf("%w: antispam.threshold_trusted must be >= threshold_default", domain.ErrConfig)
	}
	for _, s := range c.Sources {
		if s.TrustLevel < 0 || s.TrustLevel > 10 {
			return fmt.Errorf("%w: source %s trust_level out of [0,10]", domain.ErrConfig, s.Code)
		}
		if s.BackfillDays > 365 {
			return fmt.Errorf("%w: source %s backfill_days exceeds 365-day cap", domain.ErrConfig, s.Code)
		}
	}
	return nil
}
