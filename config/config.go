package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"reachflow/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
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

type PlatformConfig struct {
	APIKey        string `json:"-"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"-"`
}

type Config struct {
	Environment   string `json:"environment"`
	ServerPort    string `json:"server_port"`
	EncryptionKey string `json:"-"`
	SentryDSN     string `json:"-"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis RedisConfig `json:"redis"`

	Smartlead PlatformConfig `json:"smartlead"`
	HeyReach  PlatformConfig `json:"heyreach"`

	ClassifierURL    string `json:"classifier_url"`
	ClassifierAPIKey string `json:"-"`

	// Orchestration policy. Wait windows and grace periods are business
	// configuration, not structural constants.
	EmailStepWaitHours    int `json:"email_step_wait_hours"`
	LinkedInStepWaitHours int `json:"linkedin_step_wait_hours"`
	EngagementGraceHours  int `json:"engagement_grace_hours"`
	DedupWindowMinutes    int `json:"dedup_window_minutes"`
	SweepIntervalSeconds  int `json:"sweep_interval_seconds"`
	AdapterMaxAttempts    int `json:"adapter_max_attempts"`
	OutboxMaxAttempts     int `json:"outbox_max_attempts"`
	EventWorkers          int `json:"event_workers"`

	// Operator alert mail
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	FromEmail    string `json:"from_email"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		ServerPort:    getEnv("SERVER_PORT", "5000"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:     getEnv("SENTRY_DSN", ""),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "reachflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "true") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		Smartlead: PlatformConfig{
			APIKey:        getEnv("SMARTLEAD_API_KEY", ""),
			BaseURL:       getEnv("SMARTLEAD_BASE_URL", "https://server.smartlead.ai/api/v1"),
			WebhookSecret: getEnv("SMARTLEAD_WEBHOOK_SECRET", ""),
		},
		HeyReach: PlatformConfig{
			APIKey:        getEnv("HEYREACH_API_KEY", ""),
			BaseURL:       getEnv("HEYREACH_BASE_URL", "https://api.heyreach.io/api/public"),
			WebhookSecret: getEnv("HEYREACH_WEBHOOK_SECRET", ""),
		},

		ClassifierURL:    getEnv("CLASSIFIER_URL", ""),
		ClassifierAPIKey: getEnv("CLASSIFIER_API_KEY", ""),

		EmailStepWaitHours:    getEnvAsInt("EMAIL_STEP_WAIT_HOURS", 72),
		LinkedInStepWaitHours: getEnvAsInt("LINKEDIN_STEP_WAIT_HOURS", 48),
		EngagementGraceHours:  getEnvAsInt("ENGAGEMENT_GRACE_HOURS", 24),
		DedupWindowMinutes:    getEnvAsInt("DEDUP_WINDOW_MINUTES", 10),
		SweepIntervalSeconds:  getEnvAsInt("SWEEP_INTERVAL_SECONDS", 300),
		AdapterMaxAttempts:    getEnvAsInt("ADAPTER_MAX_ATTEMPTS", 3),
		OutboxMaxAttempts:     getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
		EventWorkers:          getEnvAsInt("EVENT_WORKERS", 8),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "alerts@reachflow.io"),
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.Smartlead.APIKey == "" || AppConfig.HeyReach.APIKey == "" {
			return fmt.Errorf("platform API keys are required in production")
		}
		if AppConfig.Smartlead.WebhookSecret == "" || AppConfig.HeyReach.WebhookSecret == "" {
			return fmt.Errorf("webhook secrets are required in production")
		}
	}

	logConfig()
	return nil
}

// EmailStepWait returns the configured wait window for email steps.
func EmailStepWait() time.Duration {
	return time.Duration(AppConfig.EmailStepWaitHours) * time.Hour
}

// LinkedInStepWait returns the configured wait window for LinkedIn steps.
func LinkedInStepWait() time.Duration {
	return time.Duration(AppConfig.LinkedInStepWaitHours) * time.Hour
}

// EngagementGrace returns the grace period during which the non-engaged
// channel defers its next step.
func EngagementGrace() time.Duration {
	return time.Duration(AppConfig.EngagementGraceHours) * time.Hour
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
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
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Platforms: Smartlead(%t), HeyReach(%t), Classifier(%t)",
		AppConfig.Smartlead.APIKey != "",
		AppConfig.HeyReach.APIKey != "",
		AppConfig.ClassifierURL != "")
	log.Printf("Redis enabled: %t", AppConfig.Redis.Enabled)
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Tenant{},
		&models.Lead{},
		&models.Sequence{},
		&models.EmailStep{},
		&models.LinkedInStep{},
		&models.OrchestrationState{},
		&models.StepDeployment{},
		&models.WebhookEvent{},
		&models.OutboxEvent{},
	)
}
