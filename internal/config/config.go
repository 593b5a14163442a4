package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	Port       string

	Environment   string
	AppRootURL    string
	AdminAPIToken string

	AuthJWTSecret string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	MailHost            string
	MailPort            int
	MailUseTLS          bool
	MailUsername        string
	MailPassword        string
	MailSenderName      string
	MailSenderEmail     string
	MailMaxAttachmentMB int

	BackupDir           string
	BackupRetentionDays int
	BackupEncryptionKey string
	BackupOpsEmail      string

	SchedulerTimezone string
	SchedulerLockKey  int64

	UploadDir string
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:    getenv("APP_SERVICE", "zg-planner"),
		AppVersion: getenv("APP_VERSION", "0.1.0"),
		Port:       getenv("PORT", "8080"),

		Environment:   getenv("ENVIRONMENT", "development"),
		AppRootURL:    strings.TrimRight(getenv("APP_ROOT_URL", "http://localhost:5174"), "/"),
		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),

		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),

		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "zgplanner"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 100),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		MailHost:            getenv("MAIL_SERVER", "smtp.gmail.com"),
		MailPort:            getenvInt("MAIL_PORT", 587),
		MailUseTLS:          getenvBool("MAIL_USE_TLS", true),
		MailUsername:        strings.TrimSpace(getenv("MAIL_USERNAME", "")),
		MailPassword:        getenv("MAIL_PASSWORD", ""),
		MailSenderName:      getenv("MAIL_DEFAULT_SENDER_NAME", "ZG Planner"),
		MailSenderEmail:     strings.TrimSpace(getenv("MAIL_DEFAULT_SENDER_EMAIL", "")),
		MailMaxAttachmentMB: getenvInt("MAIL_MAX_ATTACHMENT_MB", 20),

		BackupDir:           getenv("BACKUP_DIR", "backups"),
		BackupRetentionDays: getenvInt("BACKUP_RETENTION_DAYS", 30),
		BackupEncryptionKey: strings.TrimSpace(getenv("BACKUP_ENCRYPTION_KEY", "")),
		BackupOpsEmail:      strings.TrimSpace(getenv("BACKUP_OPS_EMAIL", "")),

		SchedulerTimezone: getenv("SCHEDULER_TIMEZONE", "America/Sao_Paulo"),
		SchedulerLockKey:  getenvInt64("SCHEDULER_LOCK_KEY", 874115),

		UploadDir: getenv("UPLOAD_DIR", "uploads"),
	}

	return &cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
