package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// SandboxConfig is the sandboxd file configuration.
type SandboxConfig struct {
	ID            string   `toml:"id"`
	Addr          string   `toml:"addr"`
	CorsOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	SessionTTL    string   `toml:"session_ttl"`
	SweepInterval string   `toml:"sweep_interval"`
	WorkRoot      string   `toml:"work_root"`
	SeedFiles     *bool    `toml:"seed_files"`
	Shell         []string `toml:"shell"`
	LedgerPath    string   `toml:"ledger_path"`

	ttl   time.Duration
	sweep time.Duration
}

func DefaultSandboxConfig() SandboxConfig {
	seed := true
	return SandboxConfig{
		ID:            "sandboxd",
		Addr:          ":8000",
		CorsOrigins:   []string{"http://localhost:3000"},
		SessionTTL:    "10m",
		SweepInterval: "1m",
		SeedFiles:     &seed,
		Shell:         []string{"/bin/bash", "-l"},
		ttl:           10 * time.Minute,
		sweep:         time.Minute,
	}
}

func LoadSandboxConfig(path string) (SandboxConfig, error) {
	cfg := DefaultSandboxConfig()
	if err := loadToml(path, &cfg); err != nil {
		return SandboxConfig{}, err
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "sandboxd"
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8000"
	}
	if cfg.SeedFiles == nil {
		seed := true
		cfg.SeedFiles = &seed
	}
	if err := ValidateSandboxConfig(&cfg); err != nil {
		return SandboxConfig{}, err
	}
	return cfg, nil
}

// ValidateSandboxConfig checks required fields and resolves durations.
func ValidateSandboxConfig(cfg *SandboxConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("sandbox config missing addr")
	}
	if len(cfg.Shell) == 0 || strings.TrimSpace(cfg.Shell[0]) == "" {
		return fmt.Errorf("sandbox config missing shell")
	}
	ttl, err := parsePositive("session_ttl", cfg.SessionTTL, 10*time.Minute)
	if err != nil {
		return err
	}
	sweep, err := parsePositive("sweep_interval", cfg.SweepInterval, time.Minute)
	if err != nil {
		return err
	}
	cfg.ttl = ttl
	cfg.sweep = sweep
	return nil
}

func (c SandboxConfig) TTL() time.Duration {
	return c.ttl
}

func (c SandboxConfig) Sweep() time.Duration {
	return c.sweep
}

func (c SandboxConfig) Seed() bool {
	return c.SeedFiles == nil || *c.SeedFiles
}

func parsePositive(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
