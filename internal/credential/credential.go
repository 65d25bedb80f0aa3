package credential

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	KeyToken  = "terminal_session_token"
	KeyExpiry = "terminal_session_expiry"
)

var (
	ErrNotFound   = errors.New("credential: key not found")
	ErrEmptyToken = errors.New("credential: empty token")
)

// SessionCredential authorizes one remote PTY session until ExpiresAt.
type SessionCredential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the token is set and expires strictly after now.
func (c SessionCredential) Valid(now time.Time) bool {
	return strings.TrimSpace(c.Token) != "" && c.ExpiresAt.After(now)
}

// KV is the durable key-value backend behind a Store.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Store reads and writes exactly one SessionCredential.
type Store struct {
	mu     sync.Mutex
	kv     KV
	sealer Sealer
	now    func() time.Time
	logger zerolog.Logger
}

type Option func(*Store)

func WithSealer(s Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

func WithClock(now func() time.Time) Option {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(st *Store) { st.logger = logger }
}

func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored credential if present and unexpired. An expired,
// unreadable, or undecryptable value is erased as a side effect.
func (s *Store) Load() (SessionCredential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv == nil {
		return SessionCredential{}, false
	}

	rawToken, err := s.kv.Get(KeyToken)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Msg("credential store unavailable; treating as no session")
		}
		return SessionCredential{}, false
	}
	rawExpiry, err := s.kv.Get(KeyExpiry)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Msg("credential store unavailable; treating as no session")
			return SessionCredential{}, false
		}
		s.clearLocked()
		return SessionCredential{}, false
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(rawExpiry))
	if err != nil {
		s.logger.Warn().Str("expiry", rawExpiry).Err(err).Msg("credential expiry unreadable; clearing")
		s.clearLocked()
		return SessionCredential{}, false
	}

	token := rawToken
	if s.sealer != nil {
		token, err = s.sealer.Open(rawToken)
		if err != nil {
			s.logger.Warn().Err(err).Msg("credential token could not be opened; clearing")
			s.clearLocked()
			return SessionCredential{}, false
		}
	}

	cred := SessionCredential{Token: token, ExpiresAt: expiresAt}
	if !cred.Valid(s.now()) {
		s.logger.Debug().Time("expires_at", expiresAt).Msg("stored credential expired; clearing")
		s.clearLocked()
		return SessionCredential{}, false
	}
	return cred, true
}

// Save overwrites the stored credential.
func (s *Store) Save(cred SessionCredential) error {
	if strings.TrimSpace(cred.Token) == "" {
		return ErrEmptyToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv == nil {
		return nil
	}

	token := cred.Token
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(cred.Token)
		if err != nil {
			return err
		}
		token = sealed
	}
	if err := s.kv.Set(KeyToken, token); err != nil {
		return err
	}
	return s.kv.Set(KeyExpiry, cred.ExpiresAt.UTC().Format(time.RFC3339Nano))
}

// Clear removes the stored credential. It is idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	if s.kv == nil {
		return
	}
	for _, key := range []string{KeyToken, KeyExpiry} {
		if err := s.kv.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Str("key", key).Err(err).Msg("credential clear failed")
		}
	}
}
