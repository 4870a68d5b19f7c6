package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/susu3304/splitbot/internal/retry"
)

// eventMargin covers the image download and the replies around the remote
// calls of one chat event.
const eventMargin = 30 * time.Second

type Config struct {
	// Discord Bot
	DiscordToken    string `yaml:"discord_token"`
	DiscordDisabled bool   `yaml:"discord_disabled"`

	// Discord OAuth2
	DiscordClientID     string   `yaml:"discord_client_id"`
	DiscordClientSecret string   `yaml:"discord_client_secret"`
	DiscordRedirectURI  string   `yaml:"discord_redirect_uri"`
	AdminUserIDs        []string `yaml:"admin_user_ids"`

	// Storage
	DatabaseURL   string `yaml:"database_url"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// Web Server
	WebBind string `yaml:"web_bind"`

	// PlivoAuthToken signs inbound SMS webhooks. Empty disables the check.
	PlivoAuthToken string `yaml:"plivo_auth_token"`

	// Session
	JWTSecret      string        `yaml:"jwt_secret"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`

	// Extraction
	OpenAIAPIKey       string        `yaml:"openai_api_key"`
	OpenAIBaseURL      string        `yaml:"openai_base_url"`
	VisionModel        string        `yaml:"vision_model"`
	ExtractTimeout     time.Duration `yaml:"extract_timeout"`
	ExtractMaxAttempts int           `yaml:"extract_max_attempts"`
	ExtractBaseBackoff time.Duration `yaml:"extract_base_backoff"`
	ExtractMaxBackoff  time.Duration `yaml:"extract_max_backoff"`
	ExtractRPS         float64       `yaml:"extract_rps"`

	// Pricing and payment links
	PriceFeedURL    string            `yaml:"price_feed_url"`
	PriceTimeout    time.Duration     `yaml:"price_timeout"`
	StaticPrices    map[string]string `yaml:"static_prices"`
	CryptoAsset     string            `yaml:"crypto_asset"`
	ChainID         int64             `yaml:"chain_id"`
	CryptoPlaces    int               `yaml:"crypto_places"`
	WeiDecimals     int               `yaml:"wei_decimals"`
	MaxParticipants int               `yaml:"max_participants"`

	LogLevel string `yaml:"log_level"`
}

func defaults() *Config {
	return &Config{
		DiscordRedirectURI: "http://localhost:3000/api/auth/callback",
		WebBind:            "0.0.0.0:3000",
		JWTSecret:          "dev-only-change-me",
		SessionTimeout:     30 * time.Minute,
		SweepInterval:      time.Minute,
		VisionModel:        "gpt-4o-mini",
		ExtractTimeout:     60 * time.Second,
		ExtractMaxAttempts: 3,
		ExtractBaseBackoff: time.Second,
		ExtractMaxBackoff:  8 * time.Second,
		ExtractRPS:         2,
		PriceTimeout:       5 * time.Second,
		CryptoAsset:        "ETH",
		ChainID:            84532,
		CryptoPlaces:       18,
		WeiDecimals:        18,
		MaxParticipants:    50,
		LogLevel:           "info",
	}
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DiscordToken = getEnvDefault("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DiscordClientID = getEnvDefault("DISCORD_CLIENT_ID", cfg.DiscordClientID)
	cfg.DiscordClientSecret = getEnvDefault("DISCORD_CLIENT_SECRET", cfg.DiscordClientSecret)
	cfg.DiscordRedirectURI = getEnvDefault("DISCORD_REDIRECT_URI", cfg.DiscordRedirectURI)
	cfg.DatabaseURL = getEnvDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnvDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnvDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.WebBind = getEnvDefault("WEB_BIND", cfg.WebBind)
	cfg.PlivoAuthToken = getEnvDefault("PLIVO_AUTH_TOKEN", cfg.PlivoAuthToken)
	cfg.JWTSecret = getEnvDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.OpenAIAPIKey = getEnvDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnvDefault("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.VisionModel = getEnvDefault("VISION_MODEL", cfg.VisionModel)
	cfg.PriceFeedURL = getEnvDefault("PRICE_FEED_URL", cfg.PriceFeedURL)
	cfg.CryptoAsset = strings.ToUpper(getEnvDefault("CRYPTO_ASSET", cfg.CryptoAsset))
	cfg.LogLevel = getEnvDefault("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("ADMIN_USER_IDS"); v != "" {
		cfg.AdminUserIDs = splitList(v)
	}
	if v := os.Getenv("STATIC_PRICES"); v != "" {
		prices, err := parsePrices(v)
		if err != nil {
			return err
		}
		cfg.StaticPrices = prices
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envBool("DISCORD_DISABLED", &cfg.DiscordDisabled))
	collect(envDuration("SESSION_TIMEOUT", &cfg.SessionTimeout))
	collect(envDuration("SWEEP_INTERVAL", &cfg.SweepInterval))
	collect(envDuration("EXTRACT_TIMEOUT", &cfg.ExtractTimeout))
	collect(envInt("EXTRACT_MAX_ATTEMPTS", &cfg.ExtractMaxAttempts))
	collect(envDuration("EXTRACT_BASE_BACKOFF", &cfg.ExtractBaseBackoff))
	collect(envDuration("EXTRACT_MAX_BACKOFF", &cfg.ExtractMaxBackoff))
	collect(envFloat("EXTRACT_RPS", &cfg.ExtractRPS))
	collect(envDuration("PRICE_TIMEOUT", &cfg.PriceTimeout))
	collect(envInt64("CHAIN_ID", &cfg.ChainID))
	collect(envInt("CRYPTO_PLACES", &cfg.CryptoPlaces))
	collect(envInt("WEI_DECIMALS", &cfg.WeiDecimals))
	collect(envInt("MAX_PARTICIPANTS", &cfg.MaxParticipants))
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.DiscordToken == "" && !c.DiscordDisabled {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive, got %d", c.ChainID)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("EXTRACT_TIMEOUT must be positive")
	}
	if c.PriceTimeout <= 0 {
		return fmt.Errorf("PRICE_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.ExtractMaxAttempts < 1 {
		return fmt.Errorf("EXTRACT_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxParticipants < 1 {
		return fmt.Errorf("MAX_PARTICIPANTS must be at least 1")
	}
	if c.PriceFeedURL == "" && len(c.StaticPrices) == 0 {
		return fmt.Errorf("either PRICE_FEED_URL or STATIC_PRICES is required")
	}
	if _, err := c.Prices(); err != nil {
		return err
	}
	return nil
}

// RetryPolicy is the backoff schedule for receipt extraction.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.ExtractMaxAttempts,
		BaseDelay:   c.ExtractBaseBackoff,
		MaxDelay:    c.ExtractMaxBackoff,
	}
}

// EventTimeout bounds the handling of one chat event. It always exceeds the
// full extraction retry budget plus a price lookup, so a hung remote runs
// out of attempts before the event runs out of time.
func (c *Config) EventTimeout() time.Duration {
	policy := c.RetryPolicy()
	budget := time.Duration(policy.MaxAttempts) * c.ExtractTimeout
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		budget += policy.Delay(attempt)
	}
	return budget + c.PriceTimeout + eventMargin
}

// Prices returns the static rates keyed by upper-case currency code.
func (c *Config) Prices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.StaticPrices))
	for code, raw := range c.StaticPrices {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid static price for %s: %q", code, raw)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return out, nil
}

// IsAdmin reports whether the Discord user id may use the admin API.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePrices reads "USD=3000,EUR=2750".
func parsePrices(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(v) {
		code, rate, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("STATIC_PRICES: malformed entry %q", pair)
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = strings.TrimSpace(rate)
	}
	return out, nil
}
