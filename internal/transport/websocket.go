package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/deskterm/internal/protocol/session"
	"github.com/gorilla/websocket"
)

// WebsocketFactory dials gorilla websocket streams.
type WebsocketFactory struct {
	dialer *websocket.Dialer
	cfg    session.Config
	header http.Header
}

func NewWebsocketFactory(cfg session.Config) (*WebsocketFactory, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := cfg.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return &WebsocketFactory{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			TLSClientConfig:  tlsCfg,
		},
		cfg:    cfg,
		header: http.Header{},
	}, nil
}

func (f *WebsocketFactory) Dial(ctx context.Context, rawURL string) (Socket, error) {
	if err := f.cfg.ValidateEndpoint(rawURL); err != nil {
		return nil, err
	}
	conn, resp, err := f.dialer.DialContext(ctx, rawURL, f.header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(f.cfg.ReadLimit)

	s := &wsSocket{
		conn:         conn,
		writeTimeout: f.cfg.WriteTimeout,
		ping:         f.cfg.PingInterval,
		done:         make(chan struct{}),
	}
	if s.ping > 0 {
		s.extendRead()
		conn.SetPongHandler(func(string) error {
			s.extendRead()
			return nil
		})
		go s.pingLoop()
	}
	return s, nil
}

type wsSocket struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	ping         time.Duration
	closeOnce    sync.Once
	done         chan struct{}
}

func (s *wsSocket) extendRead() {
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.ping))
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, closeErrorFrom(err)
		}
		if s.ping > 0 {
			s.extendRead()
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (s *wsSocket) WriteMessage(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSocket) pingLoop() {
	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

func closeErrorFrom(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
}
