package negotiator

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/deskterm/internal/credential"
	"github.com/danmuck/deskterm/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const negotiateKey = "session"

// Connector is the transport surface the negotiator drives.
type Connector interface {
	IsOpen() bool
	Connect(ctx context.Context, token string) bool
	ResetAttempts()
}

// Negotiator obtains a session token at most once per need. Negotiation
// failures are retried lazily, on the next EnsureSession call, never eagerly.
type Negotiator struct {
	issuer Issuer
	creds  *credential.Cache
	conn   Connector
	group  singleflight.Group
	logger zerolog.Logger

	mu sync.Mutex
	// epoch moves on Invalidate; a negotiation that started in an older
	// epoch discards its result.
	epoch uint64
}

func New(issuer Issuer, creds *credential.Cache, conn Connector, logger zerolog.Logger) *Negotiator {
	return &Negotiator{
		issuer: issuer,
		creds:  creds,
		conn:   conn,
		logger: logger,
	}
}

// EnsureSession makes sure a valid credential exists and the transport is
// open (or an open attempt has been made). Concurrent callers share one
// negotiation and observe the same result.
func (n *Negotiator) EnsureSession(ctx context.Context) bool {
	if ok, done := n.reuseCredential(ctx); done {
		return ok
	}

	// The shared call outlives any single caller's cancellation.
	shared := context.WithoutCancel(ctx)
	v, _, _ := n.group.Do(negotiateKey, func() (any, error) {
		// A negotiation that finished between the check above and joining
		// the group already stored a credential.
		if ok, done := n.reuseCredential(shared); done {
			return ok, nil
		}
		return n.negotiate(shared), nil
	})
	return v.(bool)
}

func (n *Negotiator) reuseCredential(ctx context.Context) (ok bool, done bool) {
	cred, valid := n.creds.Current()
	if !valid {
		return false, false
	}
	if n.conn.IsOpen() {
		return true, true
	}
	return n.conn.Connect(ctx, cred.Token), true
}

// Invalidate makes any negotiation in flight discard its credential instead
// of storing it. Called when the session is ended deliberately.
func (n *Negotiator) Invalidate() {
	n.mu.Lock()
	n.epoch++
	n.mu.Unlock()
}

func (n *Negotiator) currentEpoch() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.epoch
}

func (n *Negotiator) negotiate(ctx context.Context) bool {
	epoch := n.currentEpoch()
	start := time.Now()
	cred, err := n.issuer.Create(ctx)
	observability.RecordNegotiation(err == nil, time.Since(start))
	if err != nil {
		n.logger.Error().Err(err).Msg("session negotiation failed")
		return false
	}

	n.mu.Lock()
	if epoch != n.epoch {
		n.mu.Unlock()
		n.logger.Info().Msg("session ended during negotiation; discarding token")
		if err := n.issuer.Terminate(ctx, cred.Token); err != nil {
			n.logger.Warn().Err(err).Msg("terminate discarded session failed")
		}
		return false
	}
	n.creds.Set(cred)
	n.mu.Unlock()
	n.conn.ResetAttempts()
	n.logger.Info().Time("expires_at", cred.ExpiresAt).Msg("session negotiated")
	return n.conn.Connect(ctx, cred.Token)
}
