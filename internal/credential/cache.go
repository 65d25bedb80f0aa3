package credential

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache fronts a Store with an in-memory copy for fast validity checks.
// Writers are the negotiator (Set), the transport (Clear on an unknown
// session), and the session facade (Clear on end).
type Cache struct {
	mu     sync.RWMutex
	store  *Store
	cred   SessionCredential
	now    func() time.Time
	logger zerolog.Logger
}

// NewCache loads the persisted credential once.
func NewCache(store *Store, logger zerolog.Logger) *Cache {
	c := &Cache{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	if store != nil {
		c.now = store.now
		if cred, ok := store.Load(); ok {
			c.cred = cred
		}
	}
	return c
}

// Current returns the cached credential and whether it is valid now.
func (c *Cache) Current() (SessionCredential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.cred.Valid(c.now())
}

func (c *Cache) Valid() bool {
	_, ok := c.Current()
	return ok
}

// Token returns the token when valid, else "".
func (c *Cache) Token() string {
	cred, ok := c.Current()
	if !ok {
		return ""
	}
	return cred.Token
}

// Set caches cred and persists it. A persistence failure is logged; the
// cached copy still serves the running process.
func (c *Cache) Set(cred SessionCredential) {
	c.mu.Lock()
	c.cred = cred
	c.mu.Unlock()
	if c.store == nil {
		return
	}
	if err := c.store.Save(cred); err != nil {
		c.logger.Warn().Err(err).Msg("credential persist failed")
	}
}

// Clear drops the cached copy and the persisted value.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.cred = SessionCredential{}
	c.mu.Unlock()
	if c.store != nil {
		c.store.Clear()
	}
}
