// Package sandbox is the session-issuing service the terminal client talks
// to: it issues short-lived tokens and bridges each stream to a pty shell.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/deskterm/internal/auth"
	"github.com/danmuck/deskterm/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultSessionTTL = 10 * time.Minute

var ErrSessionNotFound = errors.New("sandbox: session not found or expired")

// Session is one issued token and its working directory.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	Workdir   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type RegistryOptions struct {
	TTL      time.Duration
	WorkRoot string
	Seed     bool
	Ledger   Ledger
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Registry tracks live sessions by token.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	ttl      time.Duration
	workRoot string
	seed     bool
	ledger   Ledger
	now      func() time.Time
	logger   zerolog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WorkRoot == "" {
		opts.WorkRoot = os.TempDir()
	}
	return &Registry{
		sessions: make(map[string]Session),
		ttl:      opts.TTL,
		workRoot: opts.WorkRoot,
		seed:     opts.Seed,
		ledger:   opts.Ledger,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Create issues a new session with a fresh working directory.
func (r *Registry) Create() (Session, error) {
	now := r.now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
	if err := os.MkdirAll(r.workRoot, 0o755); err != nil {
		return Session{}, fmt.Errorf("sandbox: work root: %w", err)
	}
	dir, err := os.MkdirTemp(r.workRoot, "session-")
	if err != nil {
		return Session{}, fmt.Errorf("sandbox: workdir: %w", err)
	}
	s.Workdir = dir
	if r.seed {
		if err := SeedWorkdir(dir, r.ttl); err != nil {
			_ = os.RemoveAll(dir)
			return Session{}, err
		}
	}
	if r.ledger != nil {
		if err := r.ledger.Record(s); err != nil {
			_ = os.RemoveAll(dir)
			return Session{}, err
		}
	}

	r.mu.Lock()
	r.sessions[s.Token] = s
	n := len(r.sessions)
	r.mu.Unlock()

	observability.SetSandboxSessions(n)
	r.logger.Info().Str("session", s.ID).Int("sessions", n).Msg("session created")
	return s, nil
}

// Lookup returns a live session; an expired one is evicted on the way.
func (r *Registry) Lookup(token string) (Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok && s.Expired(r.now()) {
		delete(r.sessions, token)
		ok = false
		r.mu.Unlock()
		r.release(s, "expired")
		return Session{}, false
	}
	r.mu.Unlock()
	return s, ok
}

// Validator checks stream tokens against live sessions.
func (r *Registry) Validator() auth.Validator {
	return auth.FuncValidator(func(token string) error {
		if _, ok := r.Lookup(token); !ok {
			return ErrSessionNotFound
		}
		return nil
	})
}

// Terminate ends a session. Unknown tokens report false.
func (r *Registry) Terminate(token string) bool {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.release(s, "terminated")
	return true
}

// Sweep evicts every expired session and reports how many went.
func (r *Registry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	var expired []Session
	for token, s := range r.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(r.sessions, token)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		r.release(s, "expired")
	}
	return len(expired)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns live sessions ordered by creation.
func (r *Registry) List() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) release(s Session, reason string) {
	if s.Workdir != "" && filepath.Dir(s.Workdir) == filepath.Clean(r.workRoot) {
		if err := os.RemoveAll(s.Workdir); err != nil {
			r.logger.Warn().Err(err).Str("session", s.ID).Msg("workdir cleanup failed")
		}
	}
	if r.ledger != nil {
		if err := r.ledger.Deactivate(s.Token); err != nil {
			r.logger.Warn().Err(err).Str("session", s.ID).Msg("ledger update failed")
		}
	}
	observability.SetSandboxSessions(r.Len())
	r.logger.Info().Str("session", s.ID).Str("reason", reason).Msg("session released")
}
