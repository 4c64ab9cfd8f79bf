package main

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the business policy file, loaded once at startup. Everything
// has a sane default so the file is optional.
type Config struct {
	DefaultTaxRate        float64 `yaml:"default_tax_rate"`
	AllowBackorder        bool    `yaml:"allow_backorder"`
	MaxLoginAttempts      int     `yaml:"max_login_attempts"`
	LockoutMinutes        int     `yaml:"lockout_minutes"`
	NotifyIntervalMinutes int     `yaml:"notify_interval_minutes"`
}

func defaultConfig() Config {
	return Config{
		DefaultTaxRate:        0.0625,
		AllowBackorder:        false,
		MaxLoginAttempts:      5,
		LockoutMinutes:        15,
		NotifyIntervalMinutes: 5,
	}
}

func loadConfig(path string) Config {
	cfg := defaultConfig()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: %v (using defaults)", err)
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Printf("config: parse %s: %v (using defaults)", path, err)
		return defaultConfig()
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LockoutMinutes <= 0 {
		cfg.LockoutMinutes = 15
	}
	if cfg.NotifyIntervalMinutes <= 0 {
		cfg.NotifyIntervalMinutes = 5
	}
	return cfg
}
