package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json or pretty
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"` // room id lease
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Quiz struct {
		TTL  string `yaml:"ttl"`
		File string `yaml:"file"`
	} `yaml:"quiz"`
	Auth struct {
		JWTSecret     string `yaml:"jwtSecret"`
		VerifyTimeout string `yaml:"verifyTimeout"`
		TokenTTL      string `yaml:"tokenTTL"`
	} `yaml:"auth"`
	Rooms struct {
		GracePeriod       string `yaml:"gracePeriod"`
		IdleTimeout       string `yaml:"idleTimeout"`
		SweepInterval     string `yaml:"sweepInterval"`
		JoinTimeout       string `yaml:"joinTimeout"`
		AllowAnswerChange bool   `yaml:"allowAnswerChange"`
	} `yaml:"rooms"`
	WebSocket struct {
		PingInterval   string   `yaml:"pingInterval"`
		PongWait       string   `yaml:"pongWait"`
		WriteWait      string   `yaml:"writeWait"`
		SendBuffer     int      `yaml:"sendBuffer"`
		MaxMessageSize int64    `yaml:"maxMessageSize"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"websocket"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// the service can run on defaults and environment alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
