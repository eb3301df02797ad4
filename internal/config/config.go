package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/iconidentify/xstitch/internal/domain"
)

// Ordering modes for reply segments.
const (
	OrderPage      = "page"
	OrderTimestamp = "timestamp"
)

// Config holds all application configuration.
type Config struct {
	X        XConfig        `yaml:"x"`
	Download DownloadConfig `yaml:"download"`
	Stitch   StitchConfig   `yaml:"stitch"`
	Log      LogConfig      `yaml:"log"`
}

// XConfig holds X API v2 credentials and client settings.
type XConfig struct {
	APIKey      string        `yaml:"api_key" envconfig:"TWITTER_API_KEY"`
	APISecret   string        `yaml:"api_secret" envconfig:"TWITTER_API_SECRET_KEY"`
	BearerToken string        `yaml:"bearer_token" envconfig:"TWITTER_BEARER_TOKEN"`
	BaseURL     string        `yaml:"base_url" envconfig:"X_API_BASE_URL" default:"https://api.x.com/2"`
	TokenURL    string        `yaml:"token_url" envconfig:"X_TOKEN_URL" default:"https://api.x.com/oauth2/token"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"X_TIMEOUT" default:"30s"`
	UserAgent   string        `yaml:"user_agent" envconfig:"X_USER_AGENT" default:"xstitch/1.0"`
}

// DownloadConfig holds segment download configuration.
type DownloadConfig struct {
	HeaderTimeout time.Duration `yaml:"header_timeout" envconfig:"DOWNLOAD_HEADER_TIMEOUT" default:"30s"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT" default:"2m"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"DOWNLOAD_MAX_ATTEMPTS" default:"1"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY" default:"5s"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY" default:"60s"`
	UserAgent     string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"`
}

// StitchConfig holds thread traversal and concatenation settings.
type StitchConfig struct {
	PageSize         int      `yaml:"page_size" envconfig:"STITCH_PAGE_SIZE" default:"50"`
	MaxPages         int      `yaml:"max_pages" envconfig:"STITCH_MAX_PAGES" default:"10000"`
	QueryMaxAttempts int      `yaml:"query_max_attempts" envconfig:"STITCH_QUERY_MAX_ATTEMPTS" default:"1"`
	Concurrency      int      `yaml:"concurrency" envconfig:"STITCH_CONCURRENCY" default:"1"`
	Order            string   `yaml:"order" envconfig:"STITCH_ORDER" default:"page"`
	FFmpegPath       string   `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH" default:"ffmpeg"`
	ScratchDir       string   `yaml:"scratch_dir" envconfig:"STITCH_SCRATCH_DIR"`           // Empty means the OS temp dir
	MinFree          ByteSize `yaml:"min_free" envconfig:"STITCH_MIN_FREE" default:"64MiB"` // Required free space under ScratchDir; 0 disables
	HistoryDB        string   `yaml:"history_db" envconfig:"STITCH_HISTORY_DB"`             // SQLite run history; empty disables
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT" default:"auto"` // auto, text, json
}

// Load reads configuration from defaults, the file and environment variables,
// in that order: file values replace defaults and environment variables that
// are set replace file values. Credentials are not checked; call Validate
// before talking to the API.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Defaults and environment
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("%w: process environment: %w", domain.ErrConfiguration, err)
	}

	// Load from YAML file if provided
	if configPath != "" {
		env := *cfg
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read config file: %w", domain.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file: %w", domain.ErrConfiguration, err)
		}
		if err := overrideFromEnv(cfg, &env); err != nil {
			return nil, fmt.Errorf("%w: process environment: %w", domain.ErrConfiguration, err)
		}
	}

	if err := cfg.validateSettings(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// overrideFromEnv copies into dst every field of env whose environment
// variable is set.
func overrideFromEnv(dst, env *Config) error {
	dstVars, err := envconfig.GatherInfo("", dst)
	if err != nil {
		return err
	}
	envVars, err := envconfig.GatherInfo("", env)
	if err != nil {
		return err
	}
	for i, v := range envVars {
		if isSet(v.Key) || (v.Alt != "" && isSet(v.Alt)) {
			dstVars[i].Field.Set(v.Field)
		}
	}
	return nil
}

func isSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.X.APIKey == "" {
		return fmt.Errorf("%w: TWITTER_API_KEY is required", domain.ErrConfiguration)
	}
	if c.X.APISecret == "" {
		return fmt.Errorf("%w: TWITTER_API_SECRET_KEY is required", domain.ErrConfiguration)
	}
	if c.X.BearerToken == "" {
		return fmt.Errorf("%w: TWITTER_BEARER_TOKEN is required", domain.ErrConfiguration)
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	if c.Stitch.PageSize < 10 || c.Stitch.PageSize > 100 {
		return fmt.Errorf("%w: STITCH_PAGE_SIZE must be between 10 and 100", domain.ErrConfiguration)
	}
	if c.Stitch.MaxPages <= 0 {
		return fmt.Errorf("%w: STITCH_MAX_PAGES must be positive", domain.ErrConfiguration)
	}
	if c.Stitch.Concurrency <= 0 {
		return fmt.Errorf("%w: STITCH_CONCURRENCY must be positive", domain.ErrConfiguration)
	}
	if c.Stitch.Order != OrderPage && c.Stitch.Order != OrderTimestamp {
		return fmt.Errorf("%w: STITCH_ORDER must be %q or %q", domain.ErrConfiguration, OrderPage, OrderTimestamp)
	}
	if c.Download.MaxAttempts <= 0 {
		return fmt.Errorf("%w: DOWNLOAD_MAX_ATTEMPTS must be positive", domain.ErrConfiguration)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be auto, text or json", domain.ErrConfiguration)
	}
	return nil
}
