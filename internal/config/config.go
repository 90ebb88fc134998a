package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultLandingURL = "https://www.miteco.gob.es/es/agua/temas/evaluacion-de-los-recursos-hidricos/boletin-hidrologico.html"
	defaultFallbackURL = "https://www.miteco.gob.es/content/dam/miteco/es/agua/temas/" +
		"evaluacion-de-los-recursos-hidricos/BD-Embalses_1988-2022.zip"
	defaultArchivePattern  = "BD-Embalses"
	defaultMaxArchiveBytes = 512 << 20
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir     string
	DBFile      string
	DatabaseURL string // when set, snapshots go to Postgres instead of SQLite

	LandingURL      string
	FallbackURL     string
	ArchivePattern  string
	LocateTimeout   time.Duration
	FetchTimeout    time.Duration
	MaxArchiveBytes int64

	MDBTablesBin      string
	MDBExportBin      string
	ColumnAliasesFile string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Snapshot notifications.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// SQLitePath is the snapshot database file inside the data directory.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

// Load reads configuration from environment variables (optionally .env),
// applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		DataDir:           envOrDefault("DATA_DIR", "./data"),
		DBFile:            envOrDefault("DB_FILE", "embalses.db"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		LandingURL:        envOrDefault("LANDING_URL", defaultLandingURL),
		FallbackURL:       envOrDefault("FALLBACK_URL", defaultFallbackURL),
		ArchivePattern:    envOrDefault("ARCHIVE_PATTERN", defaultArchivePattern),
		MDBTablesBin:      envOrDefault("MDB_TABLES_BIN", "mdb-tables"),
		MDBExportBin:      envOrDefault("MDB_EXPORT_BIN", "mdb-export"),
		ColumnAliasesFile: strings.TrimSpace(os.Getenv("COLUMN_ALIASES_FILE")),
		HTTPAddr:          envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("LOG_FORMAT", "json"),
		KafkaBrokers:      parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:        envOrDefault("KAFKA_TOPIC", "reservoir-snapshots"),
	}

	var err error
	if cfg.LocateTimeout, err = parsePositiveDuration("LOCATE_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = parsePositiveDuration("FETCH_TIMEOUT", "5m"); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.MaxArchiveBytes, err = parseMaxArchiveBytes(); err != nil {
		return nil, err
	}
	if cfg.KafkaEnabled, err = parseBool("KAFKA_ENABLED", false); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" && cfg.DBFile == "" {
		return nil, errors.New("DB_FILE is required when DATABASE_URL is not set")
	}
	if cfg.ArchivePattern == "" {
		return nil, errors.New("ARCHIVE_PATTERN is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if cfg.KafkaTopic == "" {
			return nil, errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseMaxArchiveBytes() (int64, error) {
	v := strings.TrimSpace(os.Getenv("MAX_ARCHIVE_BYTES"))
	if v == "" {
		return defaultMaxArchiveBytes, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid MAX_ARCHIVE_BYTES: must be a positive byte count")
	}
	return n, nil
}

func parseBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
