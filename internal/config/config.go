package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIURL       string `yaml:"api_url"`
	APIToken     string `yaml:"api_token"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
	SnapshotPath string `yaml:"snapshot_path"`
	LogMode      string `yaml:"log_mode"`
}

func Default() Config {
	return Config{
		APIURL:       "http://localhost:3000/api",
		RedisChannel: "pathsync:mutations",
		SnapshotPath: "pathsync.db",
		LogMode:      "development",
	}
}

// Load reads an optional yaml file and then applies env overrides, so a
// deployment can pin everything through the environment alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if strings.TrimSpace(cfg.APIURL) == "" {
		return cfg, fmt.Errorf("api_url is required")
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getenv("PATHSYNC_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := getenv("PATHSYNC_TOKEN"); v != "" {
		cfg.APIToken = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := getenv("REDIS_CHANNEL"); v != "" {
		cfg.RedisChannel = v
	}
	if v := getenv("PATHSYNC_SNAPSHOT_PATH"); v != "" {
		cfg.SnapshotPath = v
	}
	if v := getenv("LOG_MODE"); v != "" {
		cfg.LogMode = v
	}
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
