package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	CloseNormal   = 1000
	CloseAbnormal = 1006
)

// Socket is one open duplex stream. ReadMessage blocks until a message or
// a close; Close is idempotent and may run concurrently with ReadMessage.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteMessage(payload []byte) error
	Close() error
}

// SocketFactory opens sockets. Dial must honor ctx for the open handshake.
type SocketFactory interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// CloseError carries the close code observed when a stream ends.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport: stream closed code=%d reason=%q", e.Code, e.Reason)
}

// CloseCode extracts the close code from a read error; anything without one
// is an abnormal closure.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
func SystemClock() Clock {
	return realClock{}
}
