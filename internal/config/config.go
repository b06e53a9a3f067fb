package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the support API.
type Config struct {
	AppName         string
	AppEnv          string
	AppPort         string
	AppBaseURL      string
	DatabaseURL     string
	RedisURL        string
	NATSURL         string
	JWTSecret       string
	ChannelBase     string
	NotifyCooldown  time.Duration
	ClosingWindow   time.Duration
	StreamKeepAlive time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXPERTDESK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "ExpertDesk API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("channel.base", "expertdesk")
	v.SetDefault("notify.cooldown", "1h")
	v.SetDefault("closing.window", "48h")
	v.SetDefault("stream.keepalive", "30s")

	cooldown, err := parseDuration(v, "notify.cooldown", time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("invalid notify cooldown: %w", err)
	}

	closing, err := parseDuration(v, "closing.window", 48*time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("invalid closing window: %w", err)
	}

	keepAlive, err := parseDuration(v, "stream.keepalive", 30*time.Second)
	if err != nil {
		return Config{}, fmt.Errorf("invalid stream keepalive: %w", err)
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		AppBaseURL:      strings.TrimRight(v.GetString("app.base_url"), "/"),
		DatabaseURL:     v.GetString("database.url"),
		RedisURL:        v.GetString("redis.url"),
		NATSURL:         v.GetString("nats.url"),
		JWTSecret:       v.GetString("jwt.secret"),
		ChannelBase:     v.GetString("channel.base"),
		NotifyCooldown:  cooldown,
		ClosingWindow:   closing,
		StreamKeepAlive: keepAlive,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.NotifyCooldown <= 0 {
		cfg.NotifyCooldown = time.Hour
	}

	if cfg.ClosingWindow <= 0 {
		cfg.ClosingWindow = 48 * time.Hour
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}

	return time.ParseDuration(raw)
}
