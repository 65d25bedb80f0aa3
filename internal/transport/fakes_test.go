package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/deskterm/internal/credential"
	"github.com/danmuck/deskterm/internal/protocol"
	"github.com/danmuck/deskterm/internal/protocol/session"
	"github.com/rs/zerolog"
)

var errWriteClosed = errors.New("fake socket closed")

type fakeSocket struct {
	in      chan []byte
	closeCh chan error
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []protocol.Frame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:      make(chan []byte, 16),
		closeCh: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case p := <-s.in:
		return p, nil
	case err := <-s.closeCh:
		return nil, err
	case <-s.done:
		return nil, &CloseError{Code: CloseNormal}
	}
}

func (s *fakeSocket) WriteMessage(payload []byte) error {
	select {
	case <-s.done:
		return errWriteClosed
	default:
	}
	f, err := protocol.DecodeServerBound(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.writes = append(s.writes, f)
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSocket) serverClose(code int) {
	s.closeCh <- &CloseError{Code: code}
}

func (s *fakeSocket) push(t *testing.T, f protocol.Frame) {
	t.Helper()
	payload, err := protocol.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s.in <- payload
}

func (s *fakeSocket) inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, f := range s.writes {
		if f.Type == protocol.TypeInput {
			out = append(out, f.Data)
		}
	}
	return out
}

func (s *fakeSocket) frames() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Frame(nil), s.writes...)
}

type fakeFactory struct {
	mu      sync.Mutex
	urls    []string
	sockets []*fakeSocket
	entered chan struct{}
	gate    chan struct{}
	fail    func(n int) error
}

func (f *fakeFactory) Dial(ctx context.Context, url string) (Socket, error) {
	f.mu.Lock()
	n := len(f.urls)
	f.urls = append(f.urls, url)
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	if n == 0 && f.entered != nil {
		close(f.entered)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}
	s := newFakeSocket()
	f.mu.Lock()
	f.sockets = append(f.sockets, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func (f *fakeFactory) last() *fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) == 0 {
		return nil
	}
	return f.sockets[len(f.sockets)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	c.scheduled = append(c.scheduled, d)
	return t
}

// Advance moves time forward and runs due timers on the caller goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) Scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.scheduled...)
}

func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func validCache(token string) *credential.Cache {
	creds := credential.NewCache(credential.NewStore(credential.NewMemoryKV()), zerolog.Nop())
	if token != "" {
		creds.Set(credential.SessionCredential{Token: token, ExpiresAt: time.Now().Add(10 * time.Minute)})
	}
	return creds
}

func newTestTransport(f *fakeFactory, clock *fakeClock, creds *credential.Cache) *Transport {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	return New(Options{
		BaseURL: "ws://sandbox.test/",
		Factory: f,
		Creds:   creds,
		Config:  cfg,
		Clock:   clock,
		Logger:  zerolog.Nop(),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
