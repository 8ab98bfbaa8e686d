package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	BaseURL    string
	GinMode    string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret string
	JWTExpiry time.Duration

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	// Checkout
	CheckoutWindow time.Duration

	// SMTP
	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	ContactEmail string

	// Turnstile (spam protection on the contact form)
	TurnstileSecretKey string

	// File storage
	UploadDir string

	// Scheduler
	SchedulerInterval time.Duration
	FeeSyncInterval   time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),
		GinMode:    getEnv("GIN_MODE", "debug"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "polyphonica"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret: getEnv("JWT_SECRET", "your-secret-key-here"),
		JWTExpiry: parseDuration(getEnv("JWT_EXPIRY", "24h"), 24*time.Hour),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            getEnv("CURRENCY", "gbp"),

		CheckoutWindow: parseDuration(getEnv("CHECKOUT_WINDOW", "30m"), 30*time.Minute),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", "noreply@polyphonicarecordertrio.com"),
		ContactEmail: getEnv("CONTACT_EMAIL", "info@polyphonicarecordertrio.com"),

		TurnstileSecretKey: getEnv("TURNSTILE_SECRET_KEY", ""),

		UploadDir: getEnv("UPLOAD_DIR", "./uploads"),

		SchedulerInterval: parseDuration(getEnv("SCHEDULER_INTERVAL", "1m"), time.Minute),
		FeeSyncInterval:   parseDuration(getEnv("FEE_SYNC_INTERVAL", "6h"), 6*time.Hour),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	duration, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return duration
}
