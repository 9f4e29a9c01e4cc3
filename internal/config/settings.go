package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the full runtime configuration. Values come from defaults, then
// the optional YAML file named by ONEBIT_CONFIG, then the environment.
type Settings struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	Processing ProcessingSettings `yaml:"processing"`
	Server     ServerSettings     `yaml:"server"`
	History    HistorySettings    `yaml:"history"`
}

// ProcessingSettings bounds the work done per image
type ProcessingSettings struct {
	MaxWidth    int `yaml:"max_width" validate:"gte=0"`
	MaxHeight   int `yaml:"max_height" validate:"gte=0"`
	MaxPixels   int `yaml:"max_pixels" validate:"gte=0"`
	JPEGQuality int `yaml:"jpeg_quality" validate:"min=1,max=100"`
}

// ServerSettings configures the HTTP service started with --serve
type ServerSettings struct {
	Port               string        `yaml:"port" validate:"required,numeric"`
	GinMode            string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second" validate:"gte=0"`
	RateLimitBurst     int           `yaml:"rate_limit_burst" validate:"gte=1"`
	MaxUploadMB        int           `yaml:"max_upload_mb" validate:"gte=1"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	StaticDir          string        `yaml:"static_dir" validate:"required"`
	StaticURL          string        `yaml:"static_url" validate:"required,startswith=/"`
	StorageMaxAge      time.Duration `yaml:"storage_max_age" validate:"gte=0"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
	BlockPrivateIPs    bool          `yaml:"block_private_ips"`
	BlockedDomains     []string      `yaml:"blocked_domains" validate:"dive,hostname"`
}

// HistorySettings configures the optional conversion history database
type HistorySettings struct {
	Enabled  bool   `yaml:"enabled"`
	Type     string `yaml:"type" validate:"oneof=sqlite postgres"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
	DataDir  string `yaml:"data_dir" validate:"required_if=Type sqlite"`

	// Retention of zero keeps records forever.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		LogLevel:  "info",
		LogFormat: "text",
		Processing: ProcessingSettings{
			MaxPixels:   100_000_000,
			JPEGQuality: 90,
		},
		Server: ServerSettings{
			Port:               "8000",
			RateLimitPerSecond: 2,
			RateLimitBurst:     10,
			MaxUploadMB:        20,
			FetchTimeout:       30 * time.Second,
			StaticDir:          "./static/dithered",
			StaticURL:          "/static/dithered",
			StorageMaxAge:      24 * time.Hour,
			CleanupInterval:    time.Hour,
		},
		History: HistorySettings{
			Type:    "sqlite",
			Host:    "localhost",
			Port:    5432,
			User:    "onebit",
			DBName:  "onebit",
			SSLMode: "disable",
			DataDir: "./data",
		},
	}
}

// Load builds Settings from defaults, the ONEBIT_CONFIG file and the
// environment, then validates the result.
func Load() (*Settings, error) {
	s := Defaults()

	if path := Get("ONEBIT_CONFIG", ""); path != "" {
		if err := s.mergeFile(path); err != nil {
			return nil, err
		}
	}

	s.applyEnv()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (s *Settings) applyEnv() {
	s.LogLevel = Get("LOG_LEVEL", s.LogLevel)
	s.LogFormat = Get("LOG_FORMAT", s.LogFormat)

	p := &s.Processing
	p.MaxWidth = GetInt("MAX_WIDTH", p.MaxWidth)
	p.MaxHeight = GetInt("MAX_HEIGHT", p.MaxHeight)
	p.MaxPixels = GetInt("MAX_PIXELS", p.MaxPixels)
	p.JPEGQuality = GetInt("JPEG_QUALITY", p.JPEGQuality)

	srv := &s.Server
	srv.Port = Get("PORT", srv.Port)
	srv.GinMode = Get("GIN_MODE", srv.GinMode)
	srv.RateLimitPerSecond = GetFloat("RATE_LIMIT_PER_SECOND", srv.RateLimitPerSecond)
	srv.RateLimitBurst = GetInt("RATE_LIMIT_BURST", srv.RateLimitBurst)
	srv.MaxUploadMB = GetInt("MAX_UPLOAD_MB", srv.MaxUploadMB)
	srv.FetchTimeout = GetDuration("FETCH_TIMEOUT", srv.FetchTimeout)
	srv.StaticDir = Get("STATIC_DIR", srv.StaticDir)
	srv.StaticURL = Get("STATIC_URL", srv.StaticURL)
	srv.StorageMaxAge = GetDuration("STORAGE_MAX_AGE", srv.StorageMaxAge)
	srv.CleanupInterval = GetDuration("CLEANUP_INTERVAL", srv.CleanupInterval)
	srv.BlockPrivateIPs = GetBool("BLOCK_PRIVATE_IPS", srv.BlockPrivateIPs)
	srv.BlockedDomains = GetList("BLOCKED_DOMAINS", srv.BlockedDomains)

	h := &s.History
	h.Enabled = GetBool("HISTORY_ENABLED", h.Enabled)
	h.Type = Get("DB_TYPE", h.Type)
	h.Host = Get("DB_HOST", h.Host)
	h.Port = GetInt("DB_PORT", h.Port)
	h.User = Get("DB_USER", h.User)
	h.Password = Get("DB_PASSWORD", h.Password)
	h.DBName = Get("DB_NAME", h.DBName)
	h.SSLMode = Get("DB_SSLMODE", h.SSLMode)
	h.DataDir = Get("DATA_DIR", h.DataDir)
	h.Retention = GetDuration("HISTORY_RETENTION", h.Retention)
}

// Validate checks the settings against their struct tags and returns a
// readable summary of every failing field.
func (s *Settings) Validate() error {
	err := validator.New().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid settings: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}
