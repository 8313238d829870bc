package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// LocalTimeLayout is the layout accepted for LOCAL_START and LOCAL_END.
const LocalTimeLayout = "2006-01-02 15:04"

type Config struct {
	AppEnv   string `validate:"oneof=dev prod"`
	LogLevel slog.Level
	HTTPAddr string `validate:"required"`

	Driver          string `validate:"oneof=sqlite3 sqlite"`
	DSN             string
	Path            string `validate:"required_without=DSN"`
	MaxOpenConns    int    `validate:"gte=0"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	LogSQL          bool

	SourceBaseURL   string        `validate:"required,url"`
	SourceTimeout   time.Duration `validate:"gt=0"`
	SourceUserAgent string        `validate:"required"`

	ParamTemperature   string `validate:"required"`
	ParamWindSpeed     string `validate:"required"`
	ParamWindDirection string `validate:"required"`
	DefaultTimezone    string `validate:"required"`

	// LocalStart and LocalEnd are wall-clock bounds interpreted in each station's zone.
	// Zero means unbounded.
	LocalStart time.Time
	LocalEnd   time.Time

	// Schedule is a cron spec. Empty means a single pass.
	Schedule string

	MQTTBroker      string
	MQTTPort        int `validate:"gt=0,lte=65535"`
	MQTTClientID    string
	MQTTTopicPrefix string `validate:"required"`
}

// LoadDotEnv loads variables from the given .env files (or ./.env) without
// overriding variables already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	driver := getenvDefault("DB_DRIVER", "sqlite3")

	maxOpenConns, err := getenvInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := getenvInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := getenvDuration("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return Config{}, err
	}
	logSQL, err := getenvBool("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}

	sourceTimeout, err := getenvDuration("SOURCE_TIMEOUT", "30s")
	if err != nil {
		return Config{}, err
	}

	defaultTZ := getenvDefault("DEFAULT_TIMEZONE", "Europe/Zurich")
	if _, err := time.LoadLocation(defaultTZ); err != nil {
		return Config{}, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", defaultTZ, err)
	}

	localStart, err := getenvLocalTime("LOCAL_START")
	if err != nil {
		return Config{}, err
	}
	localEnd, err := getenvLocalTime("LOCAL_END")
	if err != nil {
		return Config{}, err
	}
	if !localStart.IsZero() && !localEnd.IsZero() && localStart.After(localEnd) {
		return Config{}, fmt.Errorf("LOCAL_START %s is after LOCAL_END %s",
			localStart.Format(LocalTimeLayout), localEnd.Format(LocalTimeLayout))
	}

	mqttPort, err := getenvInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:             appEnv,
		LogLevel:           level,
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		Driver:             driver,
		DSN:                strings.TrimSpace(os.Getenv("DB_DSN")),
		Path:               getenvDefault("SQLITE_PATH", "data/meteo.db"),
		MaxOpenConns:       maxOpenConns,
		MaxIdleConns:       maxIdleConns,
		ConnMaxLifetime:    connMaxLifetime,
		LogSQL:             logSQL,
		SourceBaseURL:      strings.TrimRight(getenvDefault("SOURCE_BASE_URL", "https://data.geo.admin.ch/ch.meteoschweiz.ogd-smn"), "/"),
		SourceTimeout:      sourceTimeout,
		SourceUserAgent:    getenvDefault("SOURCE_USER_AGENT", "meteo-ingest/1.0"),
		ParamTemperature:   getenvDefault("PARAM_TEMPERATURE", "tre200s0"),
		ParamWindSpeed:     getenvDefault("PARAM_WIND_SPEED", "fve010z0"),
		ParamWindDirection: getenvDefault("PARAM_WIND_DIRECTION", "dkl010z0"),
		DefaultTimezone:    defaultTZ,
		LocalStart:         localStart,
		LocalEnd:           localEnd,
		Schedule:           strings.TrimSpace(os.Getenv("SCHEDULE")),
		MQTTBroker:         strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTPort:           mqttPort,
		MQTTClientID:       getenvDefault("MQTT_CLIENT_ID", "meteo-ingest"),
		MQTTTopicPrefix:    strings.TrimRight(getenvDefault("MQTT_TOPIC_PREFIX", "meteo/stations"), "/"),
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct-level constraints on cfg.
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func getenvBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	s := getenvDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func getenvLocalTime(key string) (time.Time, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(LocalTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q (expected %s): %w", key, s, LocalTimeLayout, err)
	}
	return t, nil
}
