package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/danmuck/deskterm/internal/auth"
	"github.com/danmuck/deskterm/internal/credential"
	"github.com/danmuck/deskterm/internal/observability"
	"github.com/danmuck/deskterm/internal/protocol"
	"github.com/danmuck/deskterm/internal/protocol/session"
	"github.com/rs/zerolog"
)

// StreamPath is the path prefix of the per-token duplex stream.
const StreamPath = "/api/terminal/ws/"

// State is the connection lifecycle position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type connectAttempt struct {
	done chan struct{}
	ok   bool
}

// Options wires a Transport. Factory and Creds are required.
type Options struct {
	BaseURL string
	Factory SocketFactory
	Creds   *credential.Cache
	Config  session.Config
	Clock   Clock
	Logger  zerolog.Logger
}

// Transport keeps at most one live socket. Lock order is writeMu before mu;
// writeMu serializes every outbound write so the pending drain always
// precedes direct sends.
type Transport struct {
	baseURL string
	factory SocketFactory
	creds   *credential.Cache
	cfg     session.Config
	clock   Clock
	logger  zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	socket   Socket
	token    string
	attempt  *connectAttempt
	attempts int
	timer    Timer
	// gen invalidates reconnect timers and in-flight opens across Close.
	gen uint64

	queue *session.InputQueue
	subs  *Subscribers
}

func New(opts Options) *Transport {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &Transport{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		factory: opts.Factory,
		creds:   opts.Creds,
		cfg:     opts.Config.WithDefaults(),
		clock:   clock,
		logger:  opts.Logger,
		queue:   session.NewInputQueue(),
		subs:    NewSubscribers(),
	}
}

// StreamURL is the stream address for token.
func (t *Transport) StreamURL(token string) string {
	return t.baseURL + StreamPath + url.PathEscape(token)
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) IsOpen() bool {
	return t.State() == StateOpen
}

func (t *Transport) Subscribers() *Subscribers {
	return t.subs
}

// Pending lists queued input not yet transmitted.
func (t *Transport) Pending() []session.PendingInput {
	return t.queue.List()
}

// Attempts reports the current reconnect attempt counter.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// ResetAttempts zeroes the reconnect counter; called after a fresh
// credential is negotiated.
func (t *Transport) ResetAttempts() {
	t.mu.Lock()
	t.attempts = 0
	t.mu.Unlock()
}

// Connect opens the stream for token. A caller arriving while an attempt is
// in flight joins it instead of dialing a second socket. It reports whether
// the stream ended up open.
func (t *Transport) Connect(ctx context.Context, token string) bool {
	t.mu.Lock()
	if t.state == StateOpen && t.token == token {
		t.mu.Unlock()
		return true
	}
	if a := t.attempt; a != nil {
		t.mu.Unlock()
		select {
		case <-a.done:
			return a.ok
		case <-ctx.Done():
			return false
		}
	}

	var stale Socket
	if t.socket != nil {
		// A different token replaces the live stream.
		stale = t.socket
		t.socket = nil
	}
	a := &connectAttempt{done: make(chan struct{})}
	t.attempt = a
	t.state = StateConnecting
	t.token = token
	gen := t.gen
	t.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}
	return t.open(ctx, token, gen, a)
}

func (t *Transport) open(ctx context.Context, token string, gen uint64, a *connectAttempt) bool {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()
	sock, err := t.factory.Dial(dialCtx, t.StreamURL(token))

	t.writeMu.Lock()
	t.mu.Lock()
	if t.attempt == a {
		t.attempt = nil
	}
	if gen != t.gen {
		t.mu.Unlock()
		t.writeMu.Unlock()
		if sock != nil {
			_ = sock.Close()
		}
		t.logger.Debug().Msg("discarding open superseded by close")
		finish(a, false)
		return false
	}
	if err != nil {
		t.state = StateClosed
		t.mu.Unlock()
		t.writeMu.Unlock()
		observability.RecordConnectAttempt(false)
		t.logger.Warn().Err(err).Str("token", auth.Mask(token)).Msg("stream open failed")
		finish(a, false)
		return false
	}
	t.socket = sock
	t.state = StateOpen
	t.mu.Unlock()

	observability.RecordConnectAttempt(true)
	t.logger.Info().Str("token", auth.Mask(token)).Msg("stream open")
	go t.readLoop(sock)

	// The attempt counter only resets once the socket has carried the
	// backlog, so a stream that keeps failing writes stays bounded.
	if t.drainLocked(sock) {
		t.mu.Lock()
		t.attempts = 0
		t.mu.Unlock()
	}
	t.writeMu.Unlock()
	finish(a, true)
	return true
}

func finish(a *connectAttempt, ok bool) {
	a.ok = ok
	close(a.done)
}

// drainLocked flushes the pending queue in FIFO order and reports whether
// every item went out. Items that cannot be encoded are dropped. Caller
// holds writeMu.
func (t *Transport) drainLocked(sock Socket) bool {
	items := t.queue.Drain()
	clean := true
	for i, item := range items {
		f := protocol.InputFrame(item.Data)
		payload, err := protocol.Encode(f)
		if err != nil {
			t.logger.Warn().Err(err).Int("bytes", len(item.Data)).Msg("dropping unencodable pending input")
			continue
		}
		if err := t.writePayload(sock, f.Type, payload); err != nil {
			t.queue.Requeue(items[i:])
			t.logger.Warn().Err(err).Int("remaining", len(items)-i).Msg("pending drain interrupted")
			t.dropSocket(sock)
			clean = false
			break
		}
	}
	observability.SetPendingInput(t.queue.Len())
	return clean
}

// Send transmits msg when open. Otherwise msg is queued and a connection
// attempt is started if none is pending. It reports whether msg went out now.
// Input that cannot be encoded as a frame is rejected and never queued.
func (t *Transport) Send(msg string) bool {
	f := protocol.InputFrame(msg)
	payload, err := protocol.Encode(f)
	if err != nil {
		t.logger.Warn().Err(err).Int("bytes", len(msg)).Msg("rejecting input")
		return false
	}

	t.writeMu.Lock()
	t.mu.Lock()
	sock := t.socket
	open := t.state == StateOpen && sock != nil
	t.mu.Unlock()

	if open {
		err := t.writePayload(sock, f.Type, payload)
		if err == nil {
			t.writeMu.Unlock()
			return true
		}
		t.logger.Warn().Err(err).Msg("input write failed; queued")
		t.queue.Push(msg, t.clock.Now())
		t.writeMu.Unlock()
		observability.SetPendingInput(t.queue.Len())
		t.dropSocket(sock)
		return false
	}
	t.queue.Push(msg, t.clock.Now())
	t.writeMu.Unlock()
	observability.SetPendingInput(t.queue.Len())

	t.kick()
	return false
}

// Resize sends a viewport change. Dropped when not open.
func (t *Transport) Resize(rows, cols int) bool {
	f := protocol.ResizeFrame(rows, cols)
	if err := f.Validate(); err != nil {
		return false
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.mu.Lock()
	sock := t.socket
	open := t.state == StateOpen && sock != nil
	t.mu.Unlock()
	if !open {
		return false
	}
	if err := t.writeFrame(sock, f); err != nil {
		t.logger.Warn().Err(err).Msg("resize write failed")
		return false
	}
	return true
}

// kick starts a background connect when nothing is in flight or scheduled
// and a valid credential exists.
func (t *Transport) kick() {
	t.mu.Lock()
	busy := t.attempt != nil || t.timer != nil || t.state == StateOpen
	t.mu.Unlock()
	if busy || t.creds == nil {
		return
	}
	token := t.creds.Token()
	if token == "" {
		return
	}
	go t.Connect(context.Background(), token)
}

func (t *Transport) writeFrame(sock Socket, f protocol.Frame) error {
	payload, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return t.writePayload(sock, f.Type, payload)
}

// writePayload writes an encoded frame; an error here means the socket is
// unusable.
func (t *Transport) writePayload(sock Socket, typ protocol.FrameType, payload []byte) error {
	if err := sock.WriteMessage(payload); err != nil {
		return err
	}
	observability.RecordFrame("out", string(typ))
	return nil
}

// dropSocket closes sock after a write failure; the reader observes the
// close and runs the normal close handling.
func (t *Transport) dropSocket(sock Socket) {
	_ = sock.Close()
}

func (t *Transport) readLoop(sock Socket) {
	for {
		payload, err := sock.ReadMessage()
		if err != nil {
			t.handleClose(sock, err)
			return
		}
		f, err := protocol.DecodeClientBound(payload)
		if err != nil {
			t.logger.Warn().Err(err).Int("bytes", len(payload)).Msg("dropping inbound message")
			continue
		}
		observability.RecordFrame("in", string(f.Type))
		switch f.Type {
		case protocol.TypeOutput:
			t.subs.Publish(f.Data)
		case protocol.TypeError:
			t.subs.Publish("Error: " + f.Message)
		}
	}
}

func (t *Transport) handleClose(sock Socket, err error) {
	code := CloseCode(err)

	t.mu.Lock()
	if t.socket != sock {
		// explicit close or replaced stream
		t.mu.Unlock()
		return
	}
	t.socket = nil
	t.state = StateClosed
	t.mu.Unlock()

	observability.RecordClose(code)
	if code == protocol.CloseSessionNotFound {
		t.logger.Warn().Int("code", code).Msg("session not found; clearing credential")
		if t.creds != nil {
			t.creds.Clear()
		}
		return
	}
	t.logger.Info().Int("code", code).Msg("stream closed")
	t.scheduleReconnect()
}

// scheduleReconnect arms one reconnect timer when the credential is still
// valid and attempts remain.
func (t *Transport) scheduleReconnect() {
	if t.creds == nil || !t.creds.Valid() {
		t.logger.Debug().Msg("no valid credential; not reconnecting")
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil || t.state == StateOpen || t.attempt != nil {
		return
	}
	if !session.ShouldReconnect(t.cfg.Backoff, t.attempts) {
		t.logger.Warn().Int("attempts", t.attempts).Msg("reconnect attempts exhausted")
		return
	}
	t.attempts++
	delay := session.NextBackoffDelay(t.cfg.Backoff, t.attempts)
	gen := t.gen
	t.timer = t.clock.AfterFunc(delay, func() { t.reconnect(gen) })
	observability.RecordReconnectScheduled()
	t.logger.Info().Int("attempt", t.attempts).Dur("delay", delay).Msg("reconnect scheduled")
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	if t.creds == nil {
		return
	}
	token := t.creds.Token()
	if token == "" {
		return
	}
	if t.Connect(context.Background(), token) {
		return
	}
	t.mu.Lock()
	current := gen == t.gen
	t.mu.Unlock()
	if current {
		// a failed open counts as another transient close
		t.scheduleReconnect()
	}
}

// Close tears down the socket and cancels any scheduled reconnect. Safe to
// call repeatedly; a later Connect starts a fresh lifecycle.
func (t *Transport) Close() {
	t.mu.Lock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	// an in-flight open sees the new generation and discards its socket
	t.attempt = nil
	sock := t.socket
	t.socket = nil
	if t.state != StateIdle {
		t.state = StateClosed
	}
	t.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}
}

// Reset closes the stream and forgets queued input and attempt history.
func (t *Transport) Reset() {
	t.Close()
	t.queue.Clear()
	observability.SetPendingInput(0)
	t.ResetAttempts()
}
