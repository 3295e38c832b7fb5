package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type APIConfig struct {
	Host      string `mapstructure:"host"`
	PublicKey string `mapstructure:"public_key"`
	Version   string `mapstructure:"version"`
	ClientURL string `mapstructure:"client_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// Timeout returns the per-request timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

type LocaleConfig struct {
	Language    string   `mapstructure:"language"`
	Languages   []string `mapstructure:"languages"`
	RefLanguage string   `mapstructure:"ref_language"`
	Country     string   `mapstructure:"country"`
	Countries   []string `mapstructure:"countries"`
}

type LoginConfig struct {
	PasswordStrength string `mapstructure:"password_strength"` // strong, medium or weak
}

type StatusConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

type AnalyticsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	DebounceMs int  `mapstructure:"debounce_ms"`
	BufferSize int  `mapstructure:"buffer_size"`
}

type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

type PreviewConfig struct {
	Formats       []string `mapstructure:"formats"`
	DefaultFormat string   `mapstructure:"default_format"`
	Quality       float64  `mapstructure:"quality"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type StubConfig struct {
	Port        int            `mapstructure:"port"`
	JWTSecret   string         `mapstructure:"jwt_secret"`
	PublicKey   string         `mapstructure:"public_key"`
	StoragePath string         `mapstructure:"storage_path"`
	MaxFileSize int64          `mapstructure:"max_file_size"`
	RequestLog  bool           `mapstructure:"request_log"`
	Database    DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // memory or postgres
	URL      string `mapstructure:"url"`    // overrides the fields below
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsPostgres returns true if the stub should persist records in Postgres.
func (d DatabaseConfig) IsPostgres() bool {
	return d.Driver == "postgres"
}

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Locale    LocaleConfig    `mapstructure:"locale"`
	Login     LoginConfig     `mapstructure:"login"`
	Status    StatusConfig    `mapstructure:"status"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Previews  PreviewConfig   `mapstructure:"previews"`
	Log       LogConfig       `mapstructure:"log"`
	Stub      StubConfig      `mapstructure:"stub"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "http://localhost:3000")
	v.SetDefault("api.timeout_ms", 30000)
	v.SetDefault("locale.language", "fr")
	v.SetDefault("locale.languages", []string{"fr", "en"})
	v.SetDefault("locale.ref_language", "fr")
	v.SetDefault("login.password_strength", "medium")
	v.SetDefault("status.interval_ms", 10000)
	v.SetDefault("analytics.enabled", false)
	v.SetDefault("analytics.debounce_ms", 200)
	v.SetDefault("analytics.buffer_size", 100)
	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.output", "recording.yaml")
	v.SetDefault("previews.formats", []string{"320:320"})
	v.SetDefault("previews.default_format", "320:320")
	v.SetDefault("previews.quality", 0.6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("stub.port", 3000)
	v.SetDefault("stub.jwt_secret", "changeme-secret")
	v.SetDefault("stub.public_key", "public-key")
	v.SetDefault("stub.storage_path", "./uploads")
	v.SetDefault("stub.max_file_size", 10485760)
	v.SetDefault("stub.request_log", true)
	v.SetDefault("stub.database.driver", "memory")
	v.SetDefault("stub.database.url", "")
	v.SetDefault("stub.database.host", "localhost")
	v.SetDefault("stub.database.port", 5432)
	v.SetDefault("stub.database.pool_size", 10)
}

// Load reads swissdata.yaml (if any), the environment and defaults into a Config.
// A missing config file is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigName("swissdata")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")

	SetDefaults(v)

	v.SetEnvPrefix("SWISSDATA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
