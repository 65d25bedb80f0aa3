package sandbox

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/deskterm/internal/auth"
	"github.com/danmuck/deskterm/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	StartPath  = "/api/terminal/session/start"
	EndPath    = "/api/terminal/session/end"
	StreamPath = "/api/terminal/ws/:token"

	APIKeyHeader = "X-API-Key"

	defaultRows = 24
	defaultCols = 80
)

type Options struct {
	ID            string
	Addr          string
	CorsOrigins   []string
	APIKey        string
	SweepInterval time.Duration
	Registry      *Registry
	Spawner       Spawner
	Logger        zerolog.Logger
}

// Server exposes session issuance and the duplex stream over gin.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	registry *Registry
	spawner  Spawner
	issuers  auth.Validator
	tokens   auth.Validator
	origins  []string
	sweep    time.Duration
	upgrader websocket.Upgrader
	router   *gin.Engine
	logger   zerolog.Logger

	mu      sync.Mutex
	streams map[string]map[*stream]struct{}
}

func New(opts Options) *Server {
	observability.RegisterMetrics()
	if opts.ID == "" {
		opts.ID = "sandboxd"
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry(RegistryOptions{Logger: opts.Logger})
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	origins := normalizeOrigins(opts.CorsOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.ID))
	r.Use(cors.New(corsConfig(origins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	var issuers auth.Validator = auth.AllowAll{}
	if strings.TrimSpace(opts.APIKey) != "" {
		issuers = auth.StaticToken{Token: opts.APIKey}
	}

	s := &Server{
		ID:       opts.ID,
		Addr:     opts.Addr,
		Appeared: time.Now(),
		registry: opts.Registry,
		spawner:  opts.Spawner,
		issuers:  issuers,
		tokens:   opts.Registry.Validator(),
		origins:  origins,
		sweep:    opts.SweepInterval,
		router:   r,
		logger:   opts.Logger,
		streams:  make(map[string]map[*stream]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		ready := s.spawner != nil
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":    ready,
			"sessions": s.registry.Len(),
			"service":  s.ID,
		})
	})

	r.POST(StartPath, s.handleStart)
	r.POST(EndPath, s.handleEnd)
	r.GET(StreamPath, s.handleStream)
}

type startResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	ExpiresIn int64  `json:"expires_in"`
}

type endRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.issuers.Validate(c.GetHeader(APIKeyHeader)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.registry.Create()
	if err != nil {
		s.logger.Error().Err(err).Msg("session create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, startResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
		ExpiresIn: int64(s.registry.TTL() / time.Second),
	})
}

func (s *Server) handleEnd(c *gin.Context) {
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	if !s.registry.Terminate(req.Token) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrSessionNotFound.Error()})
		return
	}
	s.closeStreams(req.Token, "session ended")
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// Run serves until ctx is done and sweeps expired sessions meanwhile.
func (s *Server) Run(ctx context.Context) error {
	s.RegisterRoutes()
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr).Msg("sandbox listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeAllStreams()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}

// SweepExpired evicts expired sessions and closes their streams.
func (s *Server) SweepExpired() int {
	n := s.registry.Sweep()

	s.mu.Lock()
	tokens := make([]string, 0, len(s.streams))
	for token := range s.streams {
		tokens = append(tokens, token)
	}
	s.mu.Unlock()
	for _, token := range tokens {
		if _, ok := s.registry.Lookup(token); !ok {
			s.closeStreams(token, "session expired")
		}
	}
	if n > 0 {
		s.logger.Info().Int("expired", n).Int("live", s.registry.Len()).Msg("session sweep")
	}
	return n
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", APIKeyHeader},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
