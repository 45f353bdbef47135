package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port          int
	JWTSecret     string
	DatabaseURL   string
	EncryptionKey string
	CORSOrigins   []string
	AdminEmail    string
	AdminPassword string

	// Paystack gateway
	PaystackSecretKey string
	PaystackPublicKey string
	PaystackBaseURL   string
	CallbackURL       string
	GatewayTimeout    time.Duration
	VerifyRetries     int
	VerifyBackoff     time.Duration

	// Expiry sweep for abandoned payments
	PaymentExpiryWindow  time.Duration
	PaymentSweepInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port, _ := strconv.Atoi(getEnv("PORT", "4001"))

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	encKey := getEnv("ENCRYPTION_KEY", "")
	if encKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required (must be exactly 32 bytes)")
	}
	if len(encKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(encKey))
	}

	secretKey := getEnv("PAYSTACK_SECRET_KEY", "")
	if secretKey == "" {
		return nil, fmt.Errorf("PAYSTACK_SECRET_KEY is required")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:5000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	expiryWindow, err := getDuration("PAYMENT_EXPIRY_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := getDuration("PAYMENT_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	gatewayTimeout, err := getDuration("GATEWAY_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	verifyBackoff, err := getDuration("GATEWAY_VERIFY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	verifyRetries, err := strconv.Atoi(getEnv("GATEWAY_VERIFY_RETRIES", "3"))
	if err != nil || verifyRetries < 0 {
		return nil, fmt.Errorf("GATEWAY_VERIFY_RETRIES must be a non-negative integer")
	}

	return &Config{
		Port:                 port,
		JWTSecret:            jwtSecret,
		DatabaseURL:          dbURL,
		EncryptionKey:        encKey,
		CORSOrigins:          origins,
		AdminEmail:           getEnv("ADMIN_EMAIL", "admin@eduhealth.app"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "admin123"),
		PaystackSecretKey:    secretKey,
		PaystackPublicKey:    getEnv("PAYSTACK_PUBLIC_KEY", ""),
		PaystackBaseURL:      getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		CallbackURL:          getEnv("PAYMENT_CALLBACK_URL", "http://localhost:3000/payment/callback"),
		GatewayTimeout:       gatewayTimeout,
		VerifyRetries:        verifyRetries,
		VerifyBackoff:        verifyBackoff,
		PaymentExpiryWindow:  expiryWindow,
		PaymentSweepInterval: sweepInterval,
	}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. 24h): %w", key, err)
	}
	return d, nil
}
