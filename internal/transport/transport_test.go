package transport

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/deskterm/internal/credential"
	"github.com/danmuck/deskterm/internal/protocol"
	"github.com/danmuck/deskterm/internal/testutil/testlog"
)

func TestStreamURLEscapesToken(t *testing.T) {
	testlog.Start(t)
	tr := newTestTransport(&fakeFactory{}, newFakeClock(), validCache(""))
	if got := tr.StreamURL("abc/def"); got != "ws://sandbox.test/api/terminal/ws/abc%2Fdef" {
		t.Fatalf("unexpected stream url: %s", got)
	}
}

func TestQueuedInputDrainsInOrderOnOpen(t *testing.T) {
	testlog.Start(t)
	creds := validCache("")
	f := &fakeFactory{}
	tr := newTestTransport(f, newFakeClock(), creds)

	for _, msg := range []string{"ls\n", "pwd\n", "whoami\n"} {
		if tr.Send(msg) {
			t.Fatalf("send %q should queue while idle", msg)
		}
	}
	if f.dials() != 0 {
		t.Fatalf("no credential, no dial expected; got %d", f.dials())
	}
	if len(tr.Pending()) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(tr.Pending()))
	}

	creds.Set(credential.SessionCredential{Token: "tok-1234567890", ExpiresAt: time.Now().Add(time.Minute)})
	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	if !tr.Send("date\n") {
		t.Fatalf("send while open should transmit")
	}
	want := []string{"ls\n", "pwd\n", "whoami\n", "date\n"}
	if got := f.last().inputs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected order got=%q want=%q", got, want)
	}
	if len(tr.Pending()) != 0 {
		t.Fatalf("queue should be empty after drain")
	}
}

func TestSendWhileConnectingKeepsOrder(t *testing.T) {
	testlog.Start(t)
	f := &fakeFactory{entered: make(chan struct{}), gate: make(chan struct{})}
	tr := newTestTransport(f, newFakeClock(), validCache("tok-1234567890"))

	done := make(chan bool)
	go func() { done <- tr.Connect(context.Background(), "tok-1234567890") }()
	<-f.entered
	if tr.State() != StateConnecting {
		t.Fatalf("expected connecting, got %s", tr.State())
	}
	tr.Send("a")
	tr.Send("b")
	close(f.gate)
	if !<-done {
		t.Fatalf("connect failed")
	}
	if tr.Send("c") != true {
		t.Fatalf("send after open should transmit")
	}
	if got := f.last().inputs(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected order: %q", got)
	}
	if f.dials() != 1 {
		t.Fatalf("send during connect must not dial again; dials=%d", f.dials())
	}
}

func TestConcurrentConnectSharesOneSocket(t *testing.T) {
	testlog.Start(t)
	f := &fakeFactory{entered: make(chan struct{}), gate: make(chan struct{})}
	tr := newTestTransport(f, newFakeClock(), validCache("tok-1234567890"))

	var wg sync.WaitGroup
	results := make([]bool, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tr.Connect(context.Background(), "tok-1234567890")
		}(i)
	}
	<-f.entered
	time.Sleep(10 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	for i, ok := range results {
		if !ok {
			t.Fatalf("caller %d saw failure", i)
		}
	}
	if f.dials() != 1 {
		t.Fatalf("expected one dial, got %d", f.dials())
	}
}

func TestOpenTimeout(t *testing.T) {
	testlog.Start(t)
	f := &fakeFactory{gate: make(chan struct{})}
	tr := newTestTransport(f, newFakeClock(), validCache("tok-1234567890"))

	start := time.Now()
	if tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect should time out")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout not honored: %v", elapsed)
	}
	if tr.State() != StateClosed {
		t.Fatalf("expected closed, got %s", tr.State())
	}
}

func TestSessionNotFoundClearsCredentialWithoutReconnect(t *testing.T) {
	testlog.Start(t)
	creds := validCache("tok-1234567890")
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, creds)

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	f.last().serverClose(protocol.CloseSessionNotFound)
	waitFor(t, "credential cleared", func() bool { return !creds.Valid() })
	waitFor(t, "closed state", func() bool { return tr.State() == StateClosed })

	clock.Advance(time.Minute)
	if n := len(clock.Scheduled()); n != 0 {
		t.Fatalf("expected no reconnect timers, got %d", n)
	}
	if f.dials() != 1 {
		t.Fatalf("expected no reconnect dial, got %d dials", f.dials())
	}
}

func TestTransientCloseReconnectsWithLinearBackoff(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{fail: func(n int) error {
		if n == 0 {
			return nil
		}
		return errors.New("refused")
	}}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	f.last().serverClose(1006)
	waitFor(t, "first reconnect timer", func() bool { return clock.Active() == 1 })

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if got := clock.Scheduled(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected delays got=%v want=%v", got, want)
	}
	if f.dials() != 4 {
		t.Fatalf("expected initial dial plus 3 reconnects, got %d", f.dials())
	}
	if tr.Attempts() != 3 {
		t.Fatalf("expected attempts=3, got %d", tr.Attempts())
	}
}

func TestSuccessfulReconnectResetsAttempts(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	f.last().serverClose(1011)
	waitFor(t, "reconnect timer", func() bool { return clock.Active() == 1 })
	clock.Advance(time.Second)
	if !tr.IsOpen() {
		t.Fatalf("expected reopen, state=%s", tr.State())
	}
	if tr.Attempts() != 0 {
		t.Fatalf("attempts should reset on open, got %d", tr.Attempts())
	}
	if f.dials() != 2 {
		t.Fatalf("expected 2 dials, got %d", f.dials())
	}
}

func TestNoReconnectWithoutValidCredential(t *testing.T) {
	testlog.Start(t)
	creds := validCache("tok-1234567890")
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, creds)

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	creds.Clear()
	f.last().serverClose(1006)
	waitFor(t, "closed state", func() bool { return tr.State() == StateClosed })
	if n := len(clock.Scheduled()); n != 0 {
		t.Fatalf("expected no timers, got %d", n)
	}
}

func TestCloseCancelsScheduledReconnect(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	f.last().serverClose(1006)
	waitFor(t, "reconnect timer", func() bool { return clock.Active() == 1 })

	tr.Close()
	tr.Close()
	clock.Advance(time.Minute)
	if f.dials() != 1 {
		t.Fatalf("cancelled timer must not dial; dials=%d", f.dials())
	}
	if tr.State() != StateClosed {
		t.Fatalf("expected closed, got %s", tr.State())
	}
}

func TestExplicitCloseDoesNotReconnect(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	tr.Close()
	time.Sleep(20 * time.Millisecond)
	if n := len(clock.Scheduled()); n != 0 {
		t.Fatalf("explicit close scheduled %d timers", n)
	}
}

func TestInboundFramesReachSubscribers(t *testing.T) {
	testlog.Start(t)
	f := &fakeFactory{}
	tr := newTestTransport(f, newFakeClock(), validCache("tok-1234567890"))

	var mu sync.Mutex
	var got []string
	dispose := tr.Subscribers().SubscribeFunc(func(text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})
	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	sock := f.last()
	sock.push(t, protocol.OutputFrame("hello\r\n"))
	sock.in <- []byte("{not json")
	sock.push(t, protocol.ErrorFrame("shell exited"))
	waitFor(t, "two deliveries", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	dispose()
	dispose()
	sock.push(t, protocol.OutputFrame("late"))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []string{"hello\r\n", "Error: shell exited"}) {
		t.Fatalf("unexpected deliveries: %q", got)
	}
}

func TestResize(t *testing.T) {
	testlog.Start(t)
	f := &fakeFactory{}
	tr := newTestTransport(f, newFakeClock(), validCache("tok-1234567890"))

	if tr.Resize(24, 80) {
		t.Fatalf("resize while idle should be dropped")
	}
	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	if tr.Resize(0, 80) {
		t.Fatalf("invalid resize should be rejected")
	}
	if !tr.Resize(40, 120) {
		t.Fatalf("resize while open should send")
	}
	frames := f.last().frames()
	if len(frames) != 1 || frames[0].Type != protocol.TypeResize || frames[0].Rows != 40 || frames[0].Cols != 120 {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestResetDropsPendingInput(t *testing.T) {
	testlog.Start(t)
	tr := newTestTransport(&fakeFactory{gate: make(chan struct{})}, newFakeClock(), validCache(""))
	tr.Send("queued")
	tr.Reset()
	if len(tr.Pending()) != 0 {
		t.Fatalf("reset should clear pending input")
	}
}

func TestSendKicksConnectWhenCredentialValid(t *testing.T) {
	testlog.Start(t)
	f := &fakeFactory{}
	tr := newTestTransport(f, newFakeClock(), validCache("tok-1234567890"))

	if tr.Send("echo hi\n") {
		t.Fatalf("send while idle should queue")
	}
	waitFor(t, "background open", tr.IsOpen)
	waitFor(t, "drained input", func() bool {
		s := f.last()
		return s != nil && len(s.inputs()) == 1
	})
}

func TestCloseDuringReconnectDialDoesNotReschedule(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.fail = func(n int) error {
		if n > 0 {
			return errors.New("refused")
		}
		return nil
	}
	f.mu.Unlock()

	f.last().serverClose(1006)
	waitFor(t, "reconnect timer", func() bool { return clock.Active() == 1 })

	fired := make(chan struct{})
	go func() {
		clock.Advance(time.Second)
		close(fired)
	}()
	waitFor(t, "reconnect dial", func() bool { return f.dials() == 2 })

	tr.Close()
	close(gate)
	<-fired

	if clock.Active() != 0 {
		t.Fatalf("no timer may be armed after close; active=%d", clock.Active())
	}
	if got := len(clock.Scheduled()); got != 1 {
		t.Fatalf("expected one scheduled reconnect, got %d", got)
	}
}

func TestOversizedInputIsRejectedWithoutDroppingStream(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	if tr.Send(strings.Repeat("x", protocol.MaxFrameSize)) {
		t.Fatalf("oversized input must not report sent")
	}
	if !tr.Send("pwd\n") {
		t.Fatalf("follow-up input should go out on the open stream")
	}
	if got := f.last().inputs(); !reflect.DeepEqual(got, []string{"pwd\n"}) {
		t.Fatalf("unexpected inputs %q", got)
	}
	if len(tr.Pending()) != 0 {
		t.Fatalf("oversized input must not be queued; pending=%d", len(tr.Pending()))
	}
	if !tr.IsOpen() || f.dials() != 1 || clock.Active() != 0 {
		t.Fatalf("stream should stay up: open=%v dials=%d timers=%d", tr.IsOpen(), f.dials(), clock.Active())
	}
}

func TestDrainSkipsUnencodablePendingInput(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	tr.queue.Push(strings.Repeat("x", protocol.MaxFrameSize), clock.Now())
	tr.queue.Push("pwd\n", clock.Now())

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	if got := f.last().inputs(); !reflect.DeepEqual(got, []string{"pwd\n"}) {
		t.Fatalf("unexpected inputs %q", got)
	}
	if len(tr.Pending()) != 0 {
		t.Fatalf("queue should be empty, pending=%d", len(tr.Pending()))
	}
	if !tr.IsOpen() || clock.Active() != 0 {
		t.Fatalf("stream should stay up: open=%v timers=%d", tr.IsOpen(), clock.Active())
	}
}

func TestInputQueuedDuringReconnectFlushesOnReopen(t *testing.T) {
	testlog.Start(t)
	clock := newFakeClock()
	f := &fakeFactory{}
	tr := newTestTransport(f, clock, validCache("tok-1234567890"))

	if !tr.Connect(context.Background(), "tok-1234567890") {
		t.Fatalf("connect failed")
	}
	f.last().serverClose(1006)
	waitFor(t, "reconnect timer", func() bool { return clock.Active() == 1 })

	if tr.Send("a") || tr.Send("b") {
		t.Fatalf("input while reconnecting must be queued")
	}
	if f.dials() != 1 {
		t.Fatalf("queued input must wait for the scheduled reconnect; dials=%d", f.dials())
	}

	clock.Advance(time.Second)
	if !tr.IsOpen() {
		t.Fatalf("expected reopen, state=%s", tr.State())
	}
	if f.dials() != 2 {
		t.Fatalf("expected 2 dials, got %d", f.dials())
	}
	if got := f.last().inputs(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected queued input in order on the new socket, got %q", got)
	}
	if tr.Attempts() != 0 {
		t.Fatalf("attempts should reset after a clean reopen, got %d", tr.Attempts())
	}
}
