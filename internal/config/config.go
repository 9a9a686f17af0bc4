package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GRPCPort    string
	HTTPPort    string
	FaceMeshURL string
	CORSOrigins string

	LogLevel    string
	Environment string

	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	Proctoring Proctoring
}

// Proctoring holds the policy constants of the monitoring engine.
type Proctoring struct {
	FrameInterval         time.Duration
	DebounceWindow        time.Duration
	// MaxWarnings is fixed at three; it is not read from the environment.
	MaxWarnings           int
	BlockDelay            time.Duration
	CursorCapacity        int
	CursorFlushInterval   time.Duration
	OperatorCursorSamples int
	CaptureWidth          int
	CaptureHeight         int
	CaptureTimeout        time.Duration
	AuditQueueSize        int
	AuditTimeout          time.Duration
	LoginPath             string
	EscalateOnCaptureLoss bool
}

// DefaultProctoring returns the policy used when nothing is configured.
func DefaultProctoring() Proctoring {
	return Proctoring{
		FrameInterval:         16 * time.Millisecond,
		DebounceWindow:        5 * time.Second,
		MaxWarnings:           3,
		BlockDelay:            3 * time.Second,
		CursorCapacity:        100,
		CursorFlushInterval:   5 * time.Second,
		OperatorCursorSamples: 10,
		CaptureWidth:          640,
		CaptureHeight:         480,
		CaptureTimeout:        10 * time.Second,
		AuditQueueSize:        256,
		AuditTimeout:          5 * time.Second,
		LoginPath:             "/login",
	}
}

func (p *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog returns the DSN with the password masked.
func (p *Config) DSNForLog() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// HasDatabase reports whether enough settings exist to reach Postgres.
func (c *Config) HasDatabase() bool {
	return c.DBHost != "" && c.DBPassword != ""
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}

	def := DefaultProctoring()
	cfg := &Config{
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		HTTPPort:    getEnv("HTTP_PORT", "8081"),
		FaceMeshURL: getEnv("FACEMESH_URL", "localhost:9000"),
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:5000"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		Environment: getEnv("ENVIRONMENT", "production"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "ai_proctor"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		Proctoring: Proctoring{
			FrameInterval:         getEnvDuration("FRAME_INTERVAL", def.FrameInterval),
			DebounceWindow:        getEnvDuration("DEBOUNCE_WINDOW", def.DebounceWindow),
			MaxWarnings:           def.MaxWarnings,
			BlockDelay:            getEnvDuration("BLOCK_DELAY", def.BlockDelay),
			CursorCapacity:        getEnvInt("CURSOR_CAPACITY", def.CursorCapacity),
			CursorFlushInterval:   getEnvDuration("CURSOR_FLUSH_INTERVAL", def.CursorFlushInterval),
			OperatorCursorSamples: getEnvInt("OPERATOR_CURSOR_SAMPLES", def.OperatorCursorSamples),
			CaptureWidth:          getEnvInt("CAPTURE_WIDTH", def.CaptureWidth),
			CaptureHeight:         getEnvInt("CAPTURE_HEIGHT", def.CaptureHeight),
			CaptureTimeout:        getEnvDuration("CAPTURE_TIMEOUT", def.CaptureTimeout),
			AuditQueueSize:        getEnvInt("AUDIT_QUEUE_SIZE", def.AuditQueueSize),
			AuditTimeout:          getEnvDuration("AUDIT_TIMEOUT", def.AuditTimeout),
			LoginPath:             getEnv("LOGIN_PATH", def.LoginPath),
			EscalateOnCaptureLoss: getEnvBool("ESCALATE_ON_CAPTURE_LOSS", def.EscalateOnCaptureLoss),
		},
	}

	if cfg.DBPassword == "" {
		slog.Warn("DB_PASSWORD is not set, audit events and accounts stay in memory")
	}
	if cfg.Proctoring.FrameInterval <= 0 {
		cfg.Proctoring.FrameInterval = def.FrameInterval
	}

	return cfg
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("5s") or bare milliseconds ("5000").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return defaultVal
}
