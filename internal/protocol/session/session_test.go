package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/deskterm/internal/testutil/testlog"
)

func TestNextBackoffDelayLinear(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{BaseDelay: time.Second, MaxAttempts: 3}
	if got := NextBackoffDelay(cfg, 1); got != time.Second {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2); got != 2*time.Second {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3); got != 3*time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 0); got != time.Second {
		t.Fatalf("attempt0 got=%v", got)
	}
}

func TestNextBackoffDelayStrictlyIncreasing(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	prev := time.Duration(0)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		got := NextBackoffDelay(cfg, attempt)
		if got <= prev {
			t.Fatalf("attempt%d delay=%v not greater than %v", attempt, got, prev)
		}
		prev = got
	}
}

func TestNextBackoffDelayCapped(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{BaseDelay: time.Second, MaxDelay: 2500 * time.Millisecond}
	if got := NextBackoffDelay(cfg, 5); got != 2500*time.Millisecond {
		t.Fatalf("capped got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 2); got != 0 {
		t.Fatalf("zero base got=%v", got)
	}
}

func TestShouldReconnect(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{BaseDelay: time.Second, MaxAttempts: 3}
	for attempts, want := range []bool{true, true, true, false, false} {
		if got := ShouldReconnect(cfg, attempts); got != want {
			t.Fatalf("attempts=%d got=%v want=%v", attempts, got, want)
		}
	}
	if ShouldReconnect(BackoffConfig{}, 0) {
		t.Fatalf("zero max attempts should never reconnect")
	}
}

func TestInputQueueFIFO(t *testing.T) {
	testlog.Start(t)
	q := NewInputQueue()
	now := time.Unix(1700000000, 0)
	q.Push("a", now)
	q.Push("b", now.Add(time.Millisecond))
	q.Push("c", now.Add(2*time.Millisecond))
	if q.Len() != 3 {
		t.Fatalf("unexpected len=%d", q.Len())
	}
	got := q.Drain()
	if len(got) != 3 || got[0].Data != "a" || got[1].Data != "b" || got[2].Data != "c" {
		t.Fatalf("unexpected drain order: %+v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain")
	}
}

func TestInputQueueRequeueKeepsOrder(t *testing.T) {
	testlog.Start(t)
	q := NewInputQueue()
	now := time.Unix(1700000000, 0)
	q.Push("a", now)
	q.Push("b", now)
	drained := q.Drain()
	q.Push("c", now)
	q.Requeue(drained[1:])
	got := q.List()
	if len(got) != 2 || got[0].Data != "b" || got[1].Data != "c" {
		t.Fatalf("unexpected order after requeue: %+v", got)
	}
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("clear should empty queue")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{PingInterval: -time.Second}.WithDefaults()
	def := DefaultConfig()
	if cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.ConnectTimeout)
	}
	if cfg.Backoff.MaxAttempts != 3 || cfg.Backoff.BaseDelay != def.Backoff.BaseDelay {
		t.Fatalf("unexpected backoff: %+v", cfg.Backoff)
	}
	if cfg.PingInterval != 0 {
		t.Fatalf("negative ping interval should disable pings, got %v", cfg.PingInterval)
	}
	if cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("unexpected security mode: %q", cfg.SecurityMode)
	}
}

func TestValidateEndpointProductionRequiresTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateEndpoint("ws://sandbox.local"); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if err := cfg.ValidateEndpoint("wss://sandbox.local"); err != nil {
		t.Fatalf("expected valid endpoint, got %v", err)
	}

	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateEndpoint("https://sandbox.local"); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
}

func TestValidateEndpointRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.ValidateEndpoint("ftp://sandbox.local"); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint for scheme, got %v", err)
	}
	if err := cfg.ValidateEndpoint("http://"); !errors.Is(err, ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint for host, got %v", err)
	}
	cfg.SecurityMode = "staging"
	if err := cfg.ValidateEndpoint("http://localhost:8000"); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestClientTLSConfig(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	tlsCfg, err := cfg.ClientTLSConfig()
	if err != nil || tlsCfg != nil {
		t.Fatalf("expected nil tls config for defaults, got %v err=%v", tlsCfg, err)
	}

	cfg.TLS.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := cfg.ClientTLSConfig(); err == nil {
		t.Fatalf("expected missing ca file error")
	}

	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	cfg.TLS.CAFile = bad
	if _, err := cfg.ClientTLSConfig(); err == nil {
		t.Fatalf("expected parse error")
	}

	cfg.TLS.CAFile = ""
	cfg.TLS.ServerName = "sandbox.local"
	tlsCfg, err = cfg.ClientTLSConfig()
	if err != nil {
		t.Fatalf("client tls config: %v", err)
	}
	if tlsCfg.ServerName != "sandbox.local" {
		t.Fatalf("unexpected server name: %q", tlsCfg.ServerName)
	}
}
