package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	AuthSecret  string   `mapstructure:"AUTH_SECRET"`
	AuthIssuer  string   `mapstructure:"AUTH_ISSUER"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	LiveKitURL       string        `mapstructure:"LIVEKIT_URL"`
	LiveKitAPIKey    string        `mapstructure:"LIVEKIT_API_KEY"`
	LiveKitAPISecret string        `mapstructure:"LIVEKIT_API_SECRET"`
	LiveKitTokenTTL  time.Duration `mapstructure:"LIVEKIT_TOKEN_TTL"`

	PendingMaxAge time.Duration `mapstructure:"TELECONSULT_PENDING_MAX_AGE"`
	WSSendBuffer  int           `mapstructure:"WS_SEND_BUFFER"`
	RelayChannel  string        `mapstructure:"WS_RELAY_CHANNEL"`
	BodyLimit     string        `mapstructure:"BODY_LIMIT"`
	TLSEnabled    bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile   string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile    string        `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_SECRET", "AUTH_ISSUER", "CORS_ORIGINS",
	"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "LIVEKIT_TOKEN_TTL",
	"TELECONSULT_PENDING_MAX_AGE", "WS_SEND_BUFFER", "WS_RELAY_CHANNEL", "BODY_LIMIT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("AUTH_ISSUER", "dermoai")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LIVEKIT_URL", "ws://localhost:7880")
	v.SetDefault("LIVEKIT_API_KEY", "devkey")
	v.SetDefault("LIVEKIT_API_SECRET", "secret")
	v.SetDefault("LIVEKIT_TOKEN_TTL", "2h")
	v.SetDefault("TELECONSULT_PENDING_MAX_AGE", "15m")
	v.SetDefault("WS_SEND_BUFFER", 64)
	v.SetDefault("WS_RELAY_CHANNEL", "dermoai:specialists")
	v.SetDefault("BODY_LIMIT", "1M")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.AuthSecret == "" {
		log.Println("WARNING: AUTH_SECRET is empty, development identity middleware is active.")
		log.Println("WARNING: Unauthenticated requests are served as an ADMIN user.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// an AUTH_SECRET is mandatory, and production refuses the LiveKit dev keys.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET must be set when ENV=%q", c.Env)
	}
	if c.LiveKitURL == "" {
		return fmt.Errorf("LIVEKIT_URL is required")
	}
	if c.LiveKitAPIKey == "" || c.LiveKitAPISecret == "" {
		return fmt.Errorf("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}
	if c.IsProduction() && c.LiveKitAPIKey == "devkey" {
		return fmt.Errorf("LIVEKIT_API_KEY uses the development key in production")
	}
	if c.LiveKitTokenTTL <= 0 {
		return fmt.Errorf("LIVEKIT_TOKEN_TTL must be positive, got %s", c.LiveKitTokenTTL)
	}
	if c.PendingMaxAge <= 0 {
		return fmt.Errorf("TELECONSULT_PENDING_MAX_AGE must be positive, got %s", c.PendingMaxAge)
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.WSSendBuffer)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
