package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/deskterm/internal/protocol/session"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "DESKTERM"

type storeKind string

const (
	storeFile   storeKind = "file"
	storeSQLite storeKind = "sqlite"
	storeMemory storeKind = "memory"
)

// clientConfig is the resolved deskterm configuration.
type clientConfig struct {
	APIBase    string
	StreamBase string
	APIKey     string
	Store      storeKind
	StorePath  string
	SealKey    string
	LogFile    string
	Session    session.Config
}

type fileConfig struct {
	APIBase              string  `toml:"api_base"`
	StreamBase           string  `toml:"stream_base"`
	APIKey               string  `toml:"api_key"`
	Store                string  `toml:"store"`
	StorePath            string  `toml:"store_path"`
	SealKey              string  `toml:"seal_key"`
	LogFile              string  `toml:"log_file"`
	SecurityMode         string  `toml:"security_mode"`
	ConnectTimeout       string  `toml:"connect_timeout"`
	RequestTimeout       string  `toml:"request_timeout"`
	PingInterval         string  `toml:"ping_interval"`
	ReconnectBaseDelay   string  `toml:"reconnect_base_delay"`
	ReconnectMaxAttempts int     `toml:"reconnect_max_attempts"`
	TLS                  tlsFile `toml:"tls"`
}

type tlsFile struct {
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

// envOverrides are read with the DESKTERM_ prefix; empty values leave the
// file configuration alone.
type envOverrides struct {
	APIBase      string `envconfig:"API_BASE"`
	StreamBase   string `envconfig:"STREAM_BASE"`
	APIKey       string `envconfig:"API_KEY"`
	Store        string `envconfig:"STORE"`
	StorePath    string `envconfig:"STORE_PATH"`
	SealKey      string `envconfig:"SEAL_KEY"`
	LogFile      string `envconfig:"LOG_FILE"`
	SecurityMode string `envconfig:"SECURITY_MODE"`
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		APIBase: "http://localhost:8000",
		Store:   storeFile,
		LogFile: filepath.Join(os.TempDir(), "deskterm.log"),
		Session: session.DefaultConfig(),
	}
}

// loadClientConfig applies defaults, then the optional TOML file, then
// environment overrides.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return clientConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return clientConfig{}, err
	}
	return finalize(cfg)
}

func applyFile(cfg *clientConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load deskterm config: %w", err)
	}

	if meta.IsDefined("api_base") {
		cfg.APIBase = strings.TrimSpace(raw.APIBase)
	}
	if meta.IsDefined("stream_base") {
		cfg.StreamBase = strings.TrimSpace(raw.StreamBase)
	}
	if meta.IsDefined("api_key") {
		cfg.APIKey = strings.TrimSpace(raw.APIKey)
	}
	if meta.IsDefined("store") {
		cfg.Store = storeKind(strings.ToLower(strings.TrimSpace(raw.Store)))
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("seal_key") {
		cfg.SealKey = strings.TrimSpace(raw.SealKey)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}
	if meta.IsDefined("security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(raw.SecurityMode)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.Session.RequestTimeout},
		{"ping_interval", raw.PingInterval, &cfg.Session.PingInterval},
		{"reconnect_base_delay", raw.ReconnectBaseDelay, &cfg.Session.Backoff.BaseDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("reconnect_max_attempts") {
		cfg.Session.Backoff.MaxAttempts = raw.ReconnectMaxAttempts
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}
	return nil
}

func applyEnv(cfg *clientConfig) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("load deskterm env: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.APIBase, env.APIBase)
	set(&cfg.StreamBase, env.StreamBase)
	set(&cfg.APIKey, env.APIKey)
	set(&cfg.StorePath, env.StorePath)
	set(&cfg.SealKey, env.SealKey)
	set(&cfg.LogFile, env.LogFile)
	if v := strings.TrimSpace(env.Store); v != "" {
		cfg.Store = storeKind(strings.ToLower(v))
	}
	if v := strings.TrimSpace(env.SecurityMode); v != "" {
		cfg.Session.SecurityMode = session.SecurityMode(v)
	}
	return nil
}

func finalize(cfg clientConfig) (clientConfig, error) {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.StreamBase == "" {
		derived, err := streamBaseFor(cfg.APIBase)
		if err != nil {
			return clientConfig{}, err
		}
		cfg.StreamBase = derived
	}
	cfg.StreamBase = strings.TrimRight(cfg.StreamBase, "/")

	switch cfg.Store {
	case storeFile, storeSQLite, storeMemory:
	default:
		return clientConfig{}, fmt.Errorf("unknown store %q (file|sqlite|memory)", cfg.Store)
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateEndpoint(cfg.APIBase); err != nil {
		return clientConfig{}, fmt.Errorf("api_base: %w", err)
	}
	if err := cfg.Session.ValidateEndpoint(cfg.StreamBase); err != nil {
		return clientConfig{}, fmt.Errorf("stream_base: %w", err)
	}
	return cfg, nil
}

// streamBaseFor maps http(s)://host to ws(s)://host.
func streamBaseFor(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("api_base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("api_base: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
