package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port             string   `yaml:"port"`
		CORSOrigins      []string `yaml:"cors_origins"`
		ProgressInterval string   `yaml:"progress_interval"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// PresenceTTL is how long a socket heartbeat stays valid.
		PresenceTTL string `yaml:"presence_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Bank struct {
		TTL string `yaml:"ttl"`
		// Seed is a YAML question bank served when postgres is not configured.
		Seed string `yaml:"seed"`
	} `yaml:"bank"`
	Engine struct {
		JoinWindow    string `yaml:"join_window"`
		SweepInterval string `yaml:"sweep_interval"`
		XP            struct {
			Low    int `yaml:"low"`
			Medium int `yaml:"medium"`
			High   int `yaml:"high"`
		} `yaml:"xp"`
	} `yaml:"engine"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load reads YAML config from path. Environment variables referenced as
// ${NAME} are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, err
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

// LogJSON reports whether structured JSON logs were requested.
func (c Config) LogJSON() bool {
	return strings.EqualFold(c.Log.Format, "json")
}
