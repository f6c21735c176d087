package config

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	StorageBackend    string // "postgres" or "memory"
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Firebase / push gateway
	FirebaseProjectID        string
	FirebaseCredJSON         string
	PushNotificationsEnabled bool // If false, the gateway logs and reports success without calling FCM.
	PushDebugCurl            bool // Log a reproducible curl command for failed FCM sends.
	GatewayTimeout           time.Duration
	AlertTTL                 time.Duration
	SilentTTL                time.Duration

	// Retry policy
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryJitterPercent int

	// Token lifecycle
	TokenDedupWindow time.Duration
	TokenLifetime    time.Duration

	// Dispatcher worker pool
	DispatchWorkers     int
	DispatchBufferSize  int
	DeliveryLogCapacity int // memory backend only

	// Silent refresh probe
	ProbeEnabled            bool
	ProbeSchedule           string
	ProbeFreshnessThreshold time.Duration
	ProbeBatchLimit         int
	ProbeConcurrency        int

	// Fallback escalation
	ContactResolver     string // "postgres", "firestore" or "memory"
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	SMTPFrom            string
	SMTPEncryption      string // "ssl_tls", "starttls" or "none"
	NatsURL             string
	FallbackNATSSubject string

	// Server
	ServerShutdownTimeoutSeconds int
	CORSAllowedOrigins           []string

	// Settings that only come from the config file.
	Fallback      FallbackConfig `yaml:"fallback"`
	DevRecipients []DevRecipient `yaml:"dev_recipients"`
}

// FallbackConfig holds the escalation heuristic.
type FallbackConfig struct {
	// Keywords an Important message must contain to be escalated.
	// An empty list escalates every Important message.
	Keywords []string `yaml:"keywords"`
}

// DevRecipient seeds the memory storage backend.
type DevRecipient struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Phone string `yaml:"phone"`
}

var (
	AppConfig *Config

	DefaultFallbackKeywords = []string{"emergency", "sos", "urgent", "help", "arrived", "left"}
)

// LoadConfig reads the environment (and .env) plus the optional YAML config file,
// stores the result in AppConfig and returns it.
func LoadConfig() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "debug"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		// Storage
		StorageBackend:    getEnvOrDefault("STORAGE_BACKEND", "postgres"),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgres://localhost/push_relay?sslmode=disable"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 15),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// Firebase / push gateway
		FirebaseProjectID:        getEnvOrDefault("FIREBASE_PROJECT_ID", ""),
		FirebaseCredJSON:         getEnvOrDefault("FIREBASE_CRED_JSON", ""),
		PushNotificationsEnabled: getEnvOrDefault("PUSH_NOTIFICATIONS_ENABLED", "true") == "true",
		PushDebugCurl:            getEnvOrDefault("PUSH_DEBUG_CURL", "false") == "true",
		GatewayTimeout:           getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),
		AlertTTL:                 getEnvAsDuration("ALERT_TTL", 24*time.Hour),
		SilentTTL:                getEnvAsDuration("SILENT_TTL", time.Hour),

		// Retry policy
		RetryMaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:      getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
		RetryJitterPercent: getEnvAsInt("RETRY_JITTER_PERCENT", 20),

		// Token lifecycle
		TokenDedupWindow: getEnvAsDuration("TOKEN_DEDUP_WINDOW", 2*time.Hour),
		TokenLifetime:    getEnvAsDuration("TOKEN_LIFETIME", 270*24*time.Hour),

		// Dispatcher
		DispatchWorkers:     getEnvAsInt("DISPATCH_WORKERS", 16),
		DispatchBufferSize:  getEnvAsInt("DISPATCH_BUFFER_SIZE", 1000),
		DeliveryLogCapacity: getEnvAsInt("DELIVERY_LOG_CAPACITY", 10000),

		// Silent refresh probe
		ProbeEnabled:            getEnvOrDefault("PROBE_ENABLED", "true") == "true",
		ProbeSchedule:           getEnvOrDefault("PROBE_SCHEDULE", "@every 30m"),
		ProbeFreshnessThreshold: getEnvAsDuration("PROBE_FRESHNESS_THRESHOLD", 7*24*time.Hour),
		ProbeBatchLimit:         getEnvAsInt("PROBE_BATCH_LIMIT", 500),
		ProbeConcurrency:        getEnvAsInt("PROBE_CONCURRENCY", 8),

		// Fallback escalation
		ContactResolver:     getEnvOrDefault("CONTACT_RESOLVER", "postgres"),
		SMTPHost:            getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:            getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:        getEnvOrDefault("SMTP_USERNAME", ""),
		SMTPPassword:        getEnvOrDefault("SMTP_PASSWORD", ""),
		SMTPFrom:            getEnvOrDefault("SMTP_FROM", ""),
		SMTPEncryption:      getEnvOrDefault("SMTP_ENCRYPTION", "starttls"),
		NatsURL:             getEnvOrDefault("NATS_URL", ""),
		FallbackNATSSubject: getEnvOrDefault("FALLBACK_NATS_SUBJECT", "notifications.fallback"),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
		CORSAllowedOrigins:           getEnvAsList("CORS_ALLOWED_ORIGINS"),

		Fallback: FallbackConfig{Keywords: DefaultFallbackKeywords},
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	configFile, err := os.Open(configFilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("Config file %s not found, using defaults", configFilePath)
	case err != nil:
		log.Fatalf("Failed to open config file: %v", err)
	default:
		defer configFile.Close()
		log.Printf("Loading config file: %v", configFilePath)
		if err := LoadConfigFile(configFile, AppConfig); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	if err := AppConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if AppConfig.PushNotificationsEnabled && AppConfig.FirebaseCredJSON == "" {
		log.Println("Warning: FIREBASE_CRED_JSON is missing, Application Default Credentials will be used for FCM.")
	}

	if AppConfig.SMTPHost == "" && AppConfig.NatsURL == "" {
		log.Println("Warning: no fallback channel configured (SMTP_HOST / NATS_URL). Escalations will be dropped.")
	}

	return AppConfig
}

// Validate checks settings that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error

	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryJitterPercent < 0 || c.RetryJitterPercent > 100 {
		errs = append(errs, errors.New("RETRY_JITTER_PERCENT must be between 0 and 100"))
	}
	if c.DispatchWorkers < 1 {
		errs = append(errs, errors.New("DISPATCH_WORKERS must be at least 1"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	switch c.StorageBackend {
	case "postgres", "memory":
	default:
		errs = append(errs, errors.New("STORAGE_BACKEND must be postgres or memory"))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// fileConfig holds the keys the config file may set. Pointers tell an absent key
// from an explicitly empty one.
type fileConfig struct {
	Fallback struct {
		Keywords *[]string `yaml:"keywords"`
	} `yaml:"fallback"`
	DevRecipients *[]DevRecipient `yaml:"dev_recipients"`
}

// LoadConfigFile overlays the keys present in the YAML document onto config.
// Values from the environment survive an empty or partial file.
func LoadConfigFile(reader io.Reader, config *Config) error {
	var file fileConfig
	if err := yaml.NewDecoder(reader).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if file.Fallback.Keywords != nil {
		config.Fallback.Keywords = *file.Fallback.Keywords
	}
	if file.DevRecipients != nil {
		config.DevRecipients = *file.DevRecipients
	}

	return nil
}
