package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration, loaded from the environment.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Chain     ChainConfig
	Arweave   ArweaveConfig
	Admission AdmissionConfig
	Steps     StepConfig
	Log       LogConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type RedisConfig struct {
	Addr string
	// Enabled gates the lifecycle event forwarder; the gateway runs fine
	// without redis.
	Enabled bool
}

type ChainConfig struct {
	RPCURL          string
	RewardsAddress  string
	OperatorAddress string
	RequestTimeout  time.Duration
}

type ArweaveConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// AdmissionConfig carries the active-workflow limits; zero means unlimited.
type AdmissionConfig struct {
	MaxTotal     int64
	MaxPerType   int64
	MaxPerSigner int64
}

func (a AdmissionConfig) Unlimited() bool {
	return a.MaxTotal <= 0 && a.MaxPerType <= 0 && a.MaxPerSigner <= 0
}

type StepConfig struct {
	UploadTimeout  time.Duration
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: getEnv("APP_NAME", "studio-gateway"),
			Env:  getEnv("APP_ENV", "development"),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 3333),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "gateway"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", false),
		},
		Chain: ChainConfig{
			RPCURL:          getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
			RewardsAddress:  getEnv("CHAIN_REWARDS_ADDRESS", ""),
			OperatorAddress: getEnv("CHAIN_OPERATOR_ADDRESS", ""),
			RequestTimeout:  getEnvDuration("CHAIN_REQUEST_TIMEOUT", 15*time.Second),
		},
		Arweave: ArweaveConfig{
			BaseURL:        getEnv("ARWEAVE_BASE_URL", "http://localhost:1984"),
			RequestTimeout: getEnvDuration("ARWEAVE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Admission: AdmissionConfig{
			MaxTotal:     int64(getEnvInt("ADMISSION_MAX_TOTAL", 0)),
			MaxPerType:   int64(getEnvInt("ADMISSION_MAX_PER_TYPE", 0)),
			MaxPerSigner: int64(getEnvInt("ADMISSION_MAX_PER_SIGNER", 0)),
		},
		Steps: StepConfig{
			UploadTimeout:  getEnvDuration("STEP_UPLOAD_TIMEOUT", 60*time.Second),
			SubmitTimeout:  getEnvDuration("STEP_SUBMIT_TIMEOUT", 30*time.Second),
			ConfirmTimeout: getEnvDuration("STEP_CONFIRM_TIMEOUT", 120*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Chain.RewardsAddress == "" {
		return nil, fmt.Errorf("CHAIN_REWARDS_ADDRESS is required")
	}
	if cfg.Chain.OperatorAddress == "" {
		return nil, fmt.Errorf("CHAIN_OPERATOR_ADDRESS is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
