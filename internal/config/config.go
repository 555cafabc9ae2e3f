package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// JWT configuration (validation only; tokens are issued elsewhere)
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Booking policy configuration
	Booking BookingConfig

	// Refund policy configuration
	Refund RefundConfig

	// M-Pesa Daraja configuration
	Mpesa MpesaConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds JWT validation configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// BookingConfig holds seat-hold and payment lifecycle policy
type BookingConfig struct {
	HoldTTL        time.Duration // how long held seats stay reserved without payment
	PaymentTimeout time.Duration // how long a payment may stay non-terminal
	SweepInterval  time.Duration // how often the reclaim/expiry sweeps run
	SweepBatchSize int           // max rows claimed per sweep pass
	Currency       string
}

// RefundConfig holds refund policy
type RefundConfig struct {
	AutoApproveLimit float64 // refunds at or below this amount skip manual approval
}

// MpesaConfig holds Safaricom Daraja API configuration
type MpesaConfig struct {
	Environment    string // "sandbox" or "production"
	ConsumerKey    string
	ConsumerSecret string // SECRET - never expose to client
	ShortCode      string
	Passkey        string
	InitiatorName  string // B2C initiator credential
	SecurityCred   string // B2C encrypted security credential
	CallbackURL    string // STK Push callback URL
	ResultURL      string // B2C result callback URL
	WebhookSecret  string // shared secret for callback signature verification
	HTTPTimeout    time.Duration
}

// BaseURL returns the Daraja API base for the configured environment.
func (m MpesaConfig) BaseURL() string {
	if m.Environment == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Booking: BookingConfig{
			HoldTTL:        time.Duration(getEnvAsInt("BOOKING_HOLD_TTL_SECONDS", 600)) * time.Second,
			PaymentTimeout: time.Duration(getEnvAsInt("PAYMENT_TIMEOUT_SECONDS", 120)) * time.Second,
			SweepInterval:  time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 15)) * time.Second,
			SweepBatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 100),
			Currency:       getEnv("BOOKING_CURRENCY", "KES"),
		},
		Refund: RefundConfig{
			AutoApproveLimit: getEnvAsFloat("REFUND_AUTO_APPROVE_LIMIT", 1000.00),
		},
		Mpesa: MpesaConfig{
			Environment:    getEnv("MPESA_ENVIRONMENT", "sandbox"),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("MPESA_SHORTCODE", ""),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			InitiatorName:  getEnv("MPESA_INITIATOR_NAME", ""),
			SecurityCred:   getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
			ResultURL:      getEnv("MPESA_RESULT_URL", ""),
			WebhookSecret:  getEnv("MPESA_WEBHOOK_SECRET", ""),
			HTTPTimeout:    time.Duration(getEnvAsInt("MPESA_HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("BOOKING_HOLD_TTL_SECONDS must be positive")
	}

	if c.Booking.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT_SECONDS must be positive")
	}

	if c.Booking.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}

	if c.Refund.AutoApproveLimit < 0 {
		return fmt.Errorf("REFUND_AUTO_APPROVE_LIMIT must not be negative")
	}

	// Provider credentials are only mandatory outside the sandbox
	if c.Mpesa.Environment == "production" {
		if c.Mpesa.ConsumerKey == "" {
			return fmt.Errorf("MPESA_CONSUMER_KEY is required in production mode")
		}
		if c.Mpesa.ConsumerSecret == "" {
			return fmt.Errorf("MPESA_CONSUMER_SECRET is required in production mode")
		}
		if c.Mpesa.ShortCode == "" {
			return fmt.Errorf("MPESA_SHORTCODE is required in production mode")
		}
		if c.Mpesa.Passkey == "" {
			return fmt.Errorf("MPESA_PASSKEY is required in production mode")
		}
		if c.Mpesa.WebhookSecret == "" {
			return fmt.Errorf("MPESA_WEBHOOK_SECRET is required in production mode")
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %f", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
