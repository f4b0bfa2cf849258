package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dripline/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type WorkerConfig struct {
	// Start enables the sequence and reply workers inside `serve`.
	Start           bool          `json:"start"`
	Schedule        string        `json:"schedule"`
	BatchSize       int           `json:"batch_size"`
	Concurrency     int           `json:"concurrency"`
	Timezone        string        `json:"timezone"`
	ReplyInterval   time.Duration `json:"reply_interval"`
	RunNowRateLimit int           `json:"run_now_rate_limit"`
	MessageIDDomain string        `json:"message_id_domain"`
}

type Config struct {
	Environment    string       `json:"environment"`
	EncryptionKey  string       `json:"-"`
	ServerPort     string       `json:"server_port"`
	AllowedOrigins []string     `json:"allowed_origins"`
	DBHost         string       `json:"db_host"`
	DBPort         string       `json:"db_port"`
	DBUser         string       `json:"db_user"`
	DBPassword     string       `json:"-"`
	DBName         string       `json:"db_name"`
	DBSSLMode      string       `json:"db_ssl_mode"`
	DBMaxIdleConns int          `json:"db_max_idle_conns"`
	DBMaxOpenConns int          `json:"db_max_open_conns"`
	SentryDSN      string       `json:"-"`
	Redis          RedisConfig  `json:"redis"`
	Worker         WorkerConfig `json:"worker"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location returns the timezone used for sequences without their own.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Worker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SEQUENCE_TIMEZONE %q: %w", c.Worker.Timezone, err)
	}
	return loc, nil
}

func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig()
	return nil
}

// Load reads the configuration from the environment without touching globals.
func Load() (Config, error) {
	cfg := Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "dripline"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Start:           getEnvAsBool("START_EMAIL_WORKER", false),
			Schedule:        getEnv("SEQUENCE_WORKER_SCHEDULE", "@every 1m"),
			BatchSize:       getEnvAsInt("SEQUENCE_BATCH_SIZE", 100),
			Concurrency:     getEnvAsInt("SEQUENCE_CONCURRENCY", 4),
			Timezone:        getEnv("SEQUENCE_TIMEZONE", "UTC"),
			ReplyInterval:   getEnvAsDuration("REPLY_WORKER_INTERVAL", 5*time.Minute),
			RunNowRateLimit: getEnvAsInt("RUN_NOW_RATE_LIMIT", 5),
			MessageIDDomain: getEnv("TRACKING_DOMAIN", "dripline.local"),
		},
	}

	// Validate required configurations
	if cfg.DBPassword == "" {
		return cfg, fmt.Errorf("DB_PASSWORD is required")
	}
	if len(cfg.EncryptionKey) != 32 {
		return cfg, fmt.Errorf("ENCRYPTION_KEY must be 32 bytes")
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}
	if cfg.Worker.BatchSize <= 0 {
		return cfg, fmt.Errorf("SEQUENCE_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

func ConnectDB() error {
	db, err := OpenDB(AppConfig)
	if err != nil {
		return err
	}
	DB = db

	logrus.Info("🔄 Starting database migration...")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logrus.Info("✅ Database migration completed")
	return nil
}

// OpenDB connects to Postgres and tunes the pool. It does not migrate.
func OpenDB(cfg Config) (*gorm.DB, error) {
	logrus.Info("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBSSLMode,
	)
	logrus.WithField("dsn", maskPassword(dsn)).Debug("Using connection string")

	logLevel := logger.Warn
	if cfg.IsProduction() {
		logLevel = logger.Error
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logrus.Info("✅ Successfully connected to the database")
	return db, nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		logrus.Warnf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":      AppConfig.Environment,
		"server_port":      AppConfig.ServerPort,
		"database":         fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis":            AppConfig.Redis.Enabled,
		"sentry":           AppConfig.SentryDSN != "",
		"worker_autostart": AppConfig.Worker.Start,
		"worker_schedule":  AppConfig.Worker.Schedule,
		"timezone":         AppConfig.Worker.Timezone,
	}).Info("🔧 Loaded configuration")
}
