package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Oracle   Oracle   `mapstructure:"oracle"`
	Wallet   Wallet   `mapstructure:"wallet"`
	SMTP     SMTP     `mapstructure:"smtp"`
	Logger   Logger   `mapstructure:"logger"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Oracle holds the configuration for the upstream price oracle.
type Oracle struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	FallbackRate   string  `mapstructure:"fallback_rate"`
}

// Wallet holds the transfer-engine policy knobs. Decimal-valued fields are
// strings so they can be parsed without going through binary floats.
type Wallet struct {
	QuoteTTLSeconds   int    `mapstructure:"quote_ttl_seconds"`
	SlippageTolerance string `mapstructure:"slippage_tolerance"`
	SeedMin           string `mapstructure:"seed_min"`
	SeedMax           string `mapstructure:"seed_max"`
}

// SMTP holds the configuration for outbound email notifications.
// An empty Host leaves the notifier in console mode.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.port", 3001)
	viper.SetDefault("database.dsn", "wallet.db")
	viper.SetDefault("oracle.base_url", "https://api.skip.build/v2")
	viper.SetDefault("oracle.timeout_seconds", 10)
	viper.SetDefault("oracle.rate_limit", 5) // requests per second
	viper.SetDefault("oracle.rate_limit_burst", 2)
	viper.SetDefault("oracle.fallback_rate", "0.0004")
	viper.SetDefault("wallet.quote_ttl_seconds", 30)
	viper.SetDefault("wallet.slippage_tolerance", "0.01")
	viper.SetDefault("wallet.seed_min", "1")
	viper.SetDefault("wallet.seed_max", "10")
	viper.SetDefault("smtp.port", 587)
	viper.SetDefault("smtp.from", "CypherD Wallet <noreply@cypherwalletmvp.com>")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
