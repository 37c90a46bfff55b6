package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/repository"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageMemory     = "memory"
	StoragePersistent = "persistent"

	DefaultConfigName = "kasir"
)

type Config struct {
	Storage string `mapstructure:"STORAGE"`

	HTTPPort string `mapstructure:"HTTP_PORT"`
	GRPCPort string `mapstructure:"GRPC_PORT"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	DBDriver       string `mapstructure:"DB_DRIVER"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         int    `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`

	CartLockTimeout        time.Duration `mapstructure:"CART_LOCK_TIMEOUT"`
	PaymentFinalizeTimeout time.Duration `mapstructure:"PAYMENT_FINALIZE_TIMEOUT"`
	RequestTimeout         time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout        time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"STORAGE":                  StorageMemory,
	"HTTP_PORT":                "8080",
	"GRPC_PORT":                "50057",
	"MONGO_URI":                "mongodb://localhost:27017",
	"MONGO_DB_NAME":            "kasirdb",
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"DB_DRIVER":                repository.DriverPostgres,
	"DB_HOST":                  "localhost",
	"DB_PORT":                  5432,
	"DB_USER":                  "postgres",
	"DB_PASSWORD":              "postgres",
	"DB_NAME":                  "kasir",
	"SQLITE_PATH":              "kasir.db",
	"MIGRATIONS_PATH":          "",
	"KAFKA_BROKERS":            "",
	"CART_LOCK_TIMEOUT":        "3s",
	"PAYMENT_FINALIZE_TIMEOUT": "10s",
	"REQUEST_TIMEOUT":          "30s",
	"SHUTDOWN_TIMEOUT":         "10s",
}

// Load reads configuration from, in rising precedence, the defaults, an
// optional kasir.yaml (or the file at path), a .env file and the
// environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory, StoragePersistent:
	default:
		return fmt.Errorf("unknown STORAGE %q, want %q or %q", c.Storage, StorageMemory, StoragePersistent)
	}
	switch c.DBDriver {
	case repository.DriverPostgres, repository.DriverSQLite:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.CartLockTimeout <= 0 || c.PaymentFinalizeTimeout <= 0 || c.RequestTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// Brokers splits KAFKA_BROKERS. An empty list disables the outbox relay.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) Credentials() *repository.Credentials {
	migrations := c.MigrationsPath
	if migrations == "" {
		migrations = "internal/repository/migrations/" + c.DBDriver
	}
	return &repository.Credentials{
		Driver:            c.DBDriver,
		Host:              c.DBHost,
		Port:              c.DBPort,
		User:              c.DBUser,
		Password:          c.DBPassword,
		DBName:            c.DBName,
		SQLitePath:        c.SQLitePath,
		MigrationsDirPath: migrations,
	}
}
