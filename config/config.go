package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server Server
	Logger Logger
	Source Source
	Sink   Sink
	Redis  Redis
	Sync   Sync
}

type Server struct {
	AppEnv   string
	HTTPPort string
}

type Logger struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

// Source configures the upstream POS provider API.
type Source struct {
	APIURL        string
	LookbackHours int
	TimeoutSec    int
}

// Sink configures the downstream store. When DatabaseURL is set the direct
// SQL write path is used; otherwise the REST collection API at RESTURL.
type Sink struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int

	RESTURL   string
	RESTToken string
}

type Redis struct {
	URL          string
	Enabled      bool
	DialTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

type Sync struct {
	IntervalMinutes int // 0 = run once and exit
	BatchSize       int
	BatchDelayMs    int
	QuantityFloor   float64
	CacheTTLHours   int
}

func LoadEnv() *Config {
	return &Config{
		Server: Server{
			AppEnv:   getEnv("APP_ENV", "development"),
			HTTPPort: getEnv("HTTP_PORT", ":3000"),
		},
		Logger: Logger{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Source: Source{
			APIURL: getEnv("SOURCE_API_URL", "https://api.pos.dutchie.com"),
			// 2160h = 90 days, wide enough to capture recent modifications
			LookbackHours: getEnvInt("SOURCE_PRODUCT_LOOKBACK_HOURS", 2160),
			TimeoutSec:    getEnvInt("SOURCE_TIMEOUT_SECONDS", 60),
		},
		Sink: Sink{
			DatabaseURL:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("SINK_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("SINK_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvInt("SINK_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("SINK_CONN_MAX_IDLE_TIME", 60),
			RESTURL:         getEnv("SINK_API_URL", "http://localhost:1337"),
			RESTToken:       getEnv("SINK_API_TOKEN", ""),
		},
		Redis: Redis{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Enabled:      getEnvBool("REDIS_ENABLED", true),
			DialTimeout:  getEnvInt("REDIS_DIAL_TIMEOUT", 5),
			ReadTimeout:  getEnvInt("REDIS_READ_TIMEOUT", 3),
			WriteTimeout: getEnvInt("REDIS_WRITE_TIMEOUT", 3),
		},
		Sync: Sync{
			IntervalMinutes: getEnvInt("SYNC_INTERVAL", 0),
			BatchSize:       getEnvInt("SYNC_BATCH_SIZE", 100),
			BatchDelayMs:    getEnvInt("SYNC_BATCH_DELAY_MS", 200),
			QuantityFloor:   getEnvFloat("SYNC_QUANTITY_FLOOR", 5),
			CacheTTLHours:   getEnvInt("CACHE_TTL_HOURS", 24),
		},
	}
}

// Validate reports configuration that makes a sync run impossible.
func (c *Config) Validate() error {
	if c.Sink.DatabaseURL == "" && c.Sink.RESTToken == "" {
		return errors.New("either DATABASE_URL or SINK_API_TOKEN must be set")
	}
	return nil
}

func (c *Source) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

func (c *Source) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c *Sync) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c *Sync) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMs) * time.Millisecond
}

func (c *Sync) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
