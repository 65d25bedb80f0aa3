package sandbox

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/danmuck/deskterm/internal/auth"
	"github.com/danmuck/deskterm/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait = 10 * time.Second
	ptyReadSize     = 4096
)

type stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (st *stream) send(f protocol.Frame) error {
	payload, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return st.conn.WriteMessage(websocket.TextMessage, payload)
}

func (st *stream) close(code int, reason string) {
	st.once.Do(func() {
		st.writeMu.Lock()
		_ = st.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		st.writeMu.Unlock()
		_ = st.conn.Close()
	})
}

func (s *Server) handleStream(c *gin.Context) {
	token := c.Param("token")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stream upgrade failed")
		return
	}
	st := &stream{conn: conn}
	defer st.close(websocket.CloseNormalClosure, "")

	sess, ok := s.registry.Lookup(token)
	if err := s.tokens.Validate(token); err != nil || !ok {
		s.logger.Info().Str("token", auth.Mask(token)).Msg("stream rejected: unknown session")
		st.close(protocol.CloseSessionNotFound, "session not found")
		return
	}
	if s.spawner == nil {
		_ = st.send(protocol.ErrorFrame("no shell available"))
		st.close(websocket.CloseInternalServerErr, "no shell")
		return
	}
	shell, err := s.spawner.Spawn(sess.Workdir, defaultRows, defaultCols)
	if err != nil {
		s.logger.Error().Err(err).Str("session", sess.ID).Msg("shell spawn failed")
		_ = st.send(protocol.ErrorFrame("failed to start shell"))
		st.close(websocket.CloseInternalServerErr, "spawn failed")
		return
	}
	defer shell.Close()

	s.track(token, st)
	defer s.untrack(token, st)

	// the stream ends with 4001 once the session expires
	expiry := time.AfterFunc(time.Until(sess.ExpiresAt), func() {
		st.close(protocol.CloseSessionNotFound, "session expired")
	})
	defer expiry.Stop()

	s.logger.Info().Str("session", sess.ID).Msg("stream attached")
	go s.pumpOutput(st, shell)
	s.pumpInput(st, shell)
	s.logger.Info().Str("session", sess.ID).Msg("stream detached")
}

// pumpOutput forwards shell output as output frames, never splitting a
// UTF-8 sequence across frames.
func (s *Server) pumpOutput(st *stream, shell Shell) {
	buf := make([]byte, ptyReadSize)
	var carry []byte
	for {
		n, err := shell.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			complete, rest := splitUTF8(chunk)
			carry = append([]byte(nil), rest...)
			if len(complete) > 0 {
				if werr := st.send(protocol.OutputFrame(string(complete))); werr != nil {
					return
				}
			}
		}
		if err != nil {
			_ = st.send(protocol.OutputFrame("\r\n[process exited]\r\n"))
			st.close(websocket.CloseNormalClosure, "shell exited")
			return
		}
	}
}

func (s *Server) pumpInput(st *stream, shell Shell) {
	st.conn.SetReadLimit(protocol.MaxFrameSize)
	for {
		_, payload, err := st.conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.DecodeServerBound(payload)
		if err != nil {
			if werr := st.send(protocol.ErrorFrame(err.Error())); werr != nil {
				return
			}
			continue
		}
		switch f.Type {
		case protocol.TypeInput:
			if _, err := shell.Write([]byte(f.Data)); err != nil {
				return
			}
		case protocol.TypeResize:
			if err := shell.Resize(f.Rows, f.Cols); err != nil {
				s.logger.Warn().Err(err).Msg("pty resize failed")
			}
		}
	}
}

func (s *Server) track(token string, st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.streams[token]
	if !ok {
		set = make(map[*stream]struct{})
		s.streams[token] = set
	}
	set[st] = struct{}{}
}

func (s *Server) untrack(token string, st *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.streams[token]; ok {
		delete(set, st)
		if len(set) == 0 {
			delete(s.streams, token)
		}
	}
}

func (s *Server) closeStreams(token, reason string) {
	s.mu.Lock()
	targets := make([]*stream, 0, len(s.streams[token]))
	for st := range s.streams[token] {
		targets = append(targets, st)
	}
	s.mu.Unlock()
	for _, st := range targets {
		st.close(protocol.CloseSessionNotFound, reason)
	}
}

func (s *Server) closeAllStreams() {
	s.mu.Lock()
	var targets []*stream
	for _, set := range s.streams {
		for st := range set {
			targets = append(targets, st)
		}
	}
	s.mu.Unlock()
	for _, st := range targets {
		st.close(websocket.CloseGoingAway, "shutting down")
	}
}

// splitUTF8 returns the longest prefix of b that ends on a rune boundary and
// the trailing partial sequence.
func splitUTF8(b []byte) ([]byte, []byte) {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start], b[start:]
		}
		break
	}
	return b, nil
}
