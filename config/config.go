package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration. It merges file defaults and
// environment overrides to support both local and deployed runs.
type Config struct {
	HTTPPort int

	DatabaseURL string
	RedisURL    string

	JWTSecret string

	PublicBaseURL string
	BlobBaseURL   string

	SMSEndpoint   string
	SMSAPIKey     string
	EmailEndpoint string
	EmailAPIKey   string

	GatewayTimeout   time.Duration
	ReminderInterval time.Duration

	// TaxRate is a percentage (12 means 12%).
	TaxRate float64

	CompanyName         string
	CompanyAddress      string
	CompanyEmail        string
	CompanyPhone        string
	PaymentInstructions string
}

// configFile mirrors the YAML schema used by configs/default.yaml. Kept
// separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		HTTPPort      int    `yaml:"http_port"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		RedisURL    string `yaml:"redis_url"`
		BlobBaseURL string `yaml:"blob_base_url"`
	} `yaml:"dependencies"`
	Messaging struct {
		SMSEndpoint   string `yaml:"sms_endpoint"`
		EmailEndpoint string `yaml:"email_endpoint"`
	} `yaml:"messaging"`
	Billing struct {
		TaxRate float64 `yaml:"tax_rate"`
	} `yaml:"billing"`
	Company struct {
		Name                string `yaml:"name"`
		Address             string `yaml:"address"`
		Email               string `yaml:"email"`
		Phone               string `yaml:"phone"`
		PaymentInstructions string `yaml:"payment_instructions"`
	} `yaml:"company"`
}

// Load resolves configuration in priority order: defaults -> file -> env.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPPort:         8080,
		GatewayTimeout:   10 * time.Second,
		ReminderInterval: time.Minute,
		TaxRate:          12,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("config: parse file: %w", unmarshalErr)
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.PublicBaseURL != "" {
			cfg.PublicBaseURL = f.Service.PublicBaseURL
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if f.Dependencies.BlobBaseURL != "" {
			cfg.BlobBaseURL = f.Dependencies.BlobBaseURL
		}
		if f.Messaging.SMSEndpoint != "" {
			cfg.SMSEndpoint = f.Messaging.SMSEndpoint
		}
		if f.Messaging.EmailEndpoint != "" {
			cfg.EmailEndpoint = f.Messaging.EmailEndpoint
		}
		if f.Billing.TaxRate > 0 {
			cfg.TaxRate = f.Billing.TaxRate
		}
		cfg.CompanyName = f.Company.Name
		cfg.CompanyAddress = f.Company.Address
		cfg.CompanyEmail = f.Company.Email
		cfg.CompanyPhone = f.Company.Phone
		cfg.PaymentInstructions = f.Company.PaymentInstructions
	}

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.PublicBaseURL = envOrDefault("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.BlobBaseURL = envOrDefault("BLOB_BASE_URL", cfg.BlobBaseURL)
	cfg.SMSEndpoint = envOrDefault("SMS_ENDPOINT", cfg.SMSEndpoint)
	cfg.SMSAPIKey = envOrDefault("SMS_API_KEY", cfg.SMSAPIKey)
	cfg.EmailEndpoint = envOrDefault("EMAIL_ENDPOINT", cfg.EmailEndpoint)
	cfg.EmailAPIKey = envOrDefault("EMAIL_API_KEY", cfg.EmailAPIKey)
	cfg.GatewayTimeout = time.Duration(envInt("GATEWAY_TIMEOUT_SECONDS", int(cfg.GatewayTimeout.Seconds()))) * time.Second
	cfg.ReminderInterval = time.Duration(envInt("REMINDER_POLL_SECONDS", int(cfg.ReminderInterval.Seconds()))) * time.Second
	cfg.TaxRate = envFloat("TAX_RATE", cfg.TaxRate)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: missing DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: missing JWT_SECRET")
	}
	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
