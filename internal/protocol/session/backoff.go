package session

import "time"

// NextBackoffDelay returns the reconnect delay for attempt N (1-based).
// Delays grow linearly (attempt x base) so successive attempts are strictly
// further apart.
func NextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		return 0
	}
	delay := cfg.BaseDelay * time.Duration(attempt)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// ShouldReconnect reports whether another automatic attempt is allowed after
// `attempts` have already been made.
func ShouldReconnect(cfg BackoffConfig, attempts int) bool {
	if cfg.MaxAttempts <= 0 {
		return false
	}
	return attempts < cfg.MaxAttempts
}
