// Package config loads and validates intake service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	TaskBoard TaskBoardConfig `mapstructure:"taskboard"`
	Processes ProcessConfig   `mapstructure:"processes"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SchedulerConfig governs the fetch scheduler.
type SchedulerConfig struct {
	Workers            int `mapstructure:"workers"`
	TickSeconds        int `mapstructure:"tick_seconds"`
	DegradedAfter      int `mapstructure:"degraded_after"`
	RunHistory         int `mapstructure:"run_history"`
	FetchTimeoutSecond int `mapstructure:"fetch_timeout_seconds"`
	RequeueSeconds     int `mapstructure:"requeue_seconds"`
}

// SourceConfig describes one court portal in the source registry.
type SourceConfig struct {
	ID              string  `mapstructure:"id"`
	Kind            string  `mapstructure:"kind"`
	URL             string  `mapstructure:"url"`
	IntervalSeconds int     `mapstructure:"interval_seconds"`
	Enabled         bool    `mapstructure:"enabled"`
	RatePerSecond   float64 `mapstructure:"rate_per_second"`
	PageSize        int     `mapstructure:"page_size"`
	UserAgent       string  `mapstructure:"user_agent"`
}

// Source kinds supported by the adapter registry.
const (
	SourceKindDiario   = "diario"
	SourceKindREST     = "rest"
	SourceKindHeadless = "headless"
)

// PipelineConfig tunes the per-publication processing stages.
type PipelineConfig struct {
	Workers             int     `mapstructure:"workers"`
	QueueDepth          int     `mapstructure:"queue_depth"`
	MinTextLength       int     `mapstructure:"min_text_length"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	BaseLink            string  `mapstructure:"base_link"`
}

// OCRConfig points at the external OCR collaborator.
type OCRConfig struct {
	URL            string  `mapstructure:"url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
}

// TaskBoardConfig points at the external task board and its retry knobs.
type TaskBoardConfig struct {
	URL              string `mapstructure:"url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// ProcessConfig points at the read-only process registry.
type ProcessConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CalendarConfig locates jurisdiction holiday data.
type CalendarConfig struct {
	Dir         string `mapstructure:"dir"`
	WeekendDays []int  `mapstructure:"weekend_days"`
}

// NotifyConfig configures the notification dispatcher publisher.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the attachment blob store backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.tick_seconds", 1)
	v.SetDefault("scheduler.degraded_after", 3)
	v.SetDefault("scheduler.run_history", 20)
	v.SetDefault("scheduler.fetch_timeout_seconds", 45)
	v.SetDefault("scheduler.requeue_seconds", 300)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.min_text_length", 40)
	v.SetDefault("pipeline.confidence_threshold", 0.6)
	v.SetDefault("ocr.timeout_seconds", 30)
	v.SetDefault("ocr.min_confidence", 0.6)
	v.SetDefault("taskboard.timeout_seconds", 15)
	v.SetDefault("taskboard.max_attempts", 4)
	v.SetDefault("taskboard.backoff_initial_ms", 500)
	v.SetDefault("taskboard.backoff_max_ms", 30000)
	v.SetDefault("processes.timeout_seconds", 10)
	v.SetDefault("calendar.dir", "calendars")
	v.SetDefault("calendar.weekend_days", []int{0, 6})
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "attachments")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.DegradedAfter <= 0 {
		return fmt.Errorf("scheduler.degraded_after must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.ConfidenceThreshold <= 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be in (0, 1]")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[].id is required")
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}
		switch src.Kind {
		case SourceKindDiario, SourceKindREST, SourceKindHeadless:
		default:
			return fmt.Errorf("source %q has unknown kind %q", src.ID, src.Kind)
		}
		if src.IntervalSeconds <= 0 {
			return fmt.Errorf("source %q interval_seconds must be > 0", src.ID)
		}
	}
	return nil
}

// FetchTimeout converts the scheduler fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scheduler.FetchTimeoutSecond) * time.Second
}

// RequeueAfter converts the stalled-publication requeue interval into a
// duration.
func (c Config) RequeueAfter() time.Duration {
	return time.Duration(c.Scheduler.RequeueSeconds) * time.Second
}

// Interval returns the fetch interval for a source entry.
func (s SourceConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}
