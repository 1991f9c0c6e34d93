package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"anpr-tracker/internal/service"
	"anpr-tracker/internal/tracking"
	"anpr-tracker/internal/validation"
)

type Config struct {
	Environment string         `mapstructure:"environment"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	Log         LogConfig      `mapstructure:"log"`
	Database    DatabaseConfig `mapstructure:"database"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Engine      EngineSettings `mapstructure:"engine"`
}

type HTTPConfig struct {
	Port           string        `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	DSN            string `mapstructure:"dsn"`
	MaxOpenConns   int    `mapstructure:"max_open_conns"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	RetentionDays  int    `mapstructure:"retention_days"`
	RecorderBuffer int    `mapstructure:"recorder_buffer"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// EngineSettings mirrors service.EngineConfig in a flat, file-friendly shape.
type EngineSettings struct {
	MatchIoUThreshold float64       `mapstructure:"match_iou_threshold"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	MaxTracks         int           `mapstructure:"max_tracks"`
	CaptureTimeout    time.Duration `mapstructure:"capture_timeout"`
	BufferWidth       float64       `mapstructure:"buffer_width"`
	BufferHeight      float64       `mapstructure:"buffer_height"`
	AllowOverwrite    bool          `mapstructure:"allow_overwrite"`

	ConfidenceThreshold  float64        `mapstructure:"confidence_threshold"`
	WindowCapacity       int            `mapstructure:"window_capacity"`
	CaptureMinConfidence float64        `mapstructure:"capture_min_confidence"`
	LivePolicy           PolicySettings `mapstructure:"live_policy"`
	CapturePolicy        PolicySettings `mapstructure:"capture_policy"`
}

type PolicySettings struct {
	MinLen     int    `mapstructure:"min_len"`
	MaxLen     int    `mapstructure:"max_len"`
	MinLetters int    `mapstructure:"min_letters"`
	MinDigits  int    `mapstructure:"min_digits"`
	Pattern    string `mapstructure:"pattern"`
}

func (p PolicySettings) policy() validation.ShapePolicy {
	return validation.ShapePolicy{
		MinLen:     p.MinLen,
		MaxLen:     p.MaxLen,
		MinLetters: p.MinLetters,
		MinDigits:  p.MinDigits,
		Pattern:    p.Pattern,
	}
}

// EngineConfig converts the settings into the engine's configuration.
func (e EngineSettings) EngineConfig() service.EngineConfig {
	return service.EngineConfig{
		Matcher: tracking.MatcherConfig{
			MatchIoUThreshold: e.MatchIoUThreshold,
			StaleAfter:        e.StaleAfter,
			MaxTracks:         e.MaxTracks,
		},
		Validation: validation.Config{
			ConfidenceThreshold:  e.ConfidenceThreshold,
			WindowCapacity:       e.WindowCapacity,
			CaptureMinConfidence: e.CaptureMinConfidence,
			Live:                 e.LivePolicy.policy(),
			Capture:              e.CapturePolicy.policy(),
		},
		AllowOverwrite: e.AllowOverwrite,
		CaptureTimeout: e.CaptureTimeout,
		BufferWidth:    e.BufferWidth,
		BufferHeight:   e.BufferHeight,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.port", "8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.shutdown_grace", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.retention_days", 30)
	v.SetDefault("database.recorder_buffer", 256)

	v.SetDefault("auth.jwt_secret", "")

	matcher := tracking.DefaultMatcherConfig()
	v.SetDefault("engine.match_iou_threshold", matcher.MatchIoUThreshold)
	v.SetDefault("engine.stale_after", matcher.StaleAfter)
	v.SetDefault("engine.max_tracks", matcher.MaxTracks)
	v.SetDefault("engine.capture_timeout", 10*time.Second)
	v.SetDefault("engine.buffer_width", 0.0)
	v.SetDefault("engine.buffer_height", 0.0)
	v.SetDefault("engine.allow_overwrite", false)

	votes := validation.DefaultConfig()
	v.SetDefault("engine.confidence_threshold", votes.ConfidenceThreshold)
	v.SetDefault("engine.window_capacity", votes.WindowCapacity)
	v.SetDefault("engine.capture_min_confidence", votes.CaptureMinConfidence)
	setPolicyDefaults(v, "engine.live_policy", votes.Live)
	setPolicyDefaults(v, "engine.capture_policy", votes.Capture)
}

func setPolicyDefaults(v *viper.Viper, prefix string, p validation.ShapePolicy) {
	v.SetDefault(prefix+".min_len", p.MinLen)
	v.SetDefault(prefix+".max_len", p.MaxLen)
	v.SetDefault(prefix+".min_letters", p.MinLetters)
	v.SetDefault(prefix+".min_digits", p.MinDigits)
	v.SetDefault(prefix+".pattern", p.Pattern)
}

// Load reads configuration from defaults, an optional config file, a .env
// file and ANPR_* environment variables, in increasing priority.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port == "" {
		return fmt.Errorf("http.port is required")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when the database is enabled")
	}
	if c.Engine.WindowCapacity < 1 {
		return fmt.Errorf("engine.window_capacity must be positive, got %d", c.Engine.WindowCapacity)
	}
	if c.Engine.StaleAfter <= 0 {
		return fmt.Errorf("engine.stale_after must be positive")
	}
	return nil
}
