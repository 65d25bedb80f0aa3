package negotiator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/deskterm/internal/credential"
)

const (
	StartPath = "/api/terminal/session/start"
	EndPath   = "/api/terminal/session/end"

	// APIKeyHeader carries the optional issuing key on session start.
	APIKeyHeader = "X-API-Key"

	maxResponseBytes = 64 * 1024
)

var (
	ErrIssuerStatus   = errors.New("negotiator: issuer returned non-success status")
	ErrInvalidSession = errors.New("negotiator: invalid session response")
	ErrBaseURLMissing = errors.New("negotiator: issuer base url required")
)

// Issuer is the remote service that creates and terminates session tokens.
type Issuer interface {
	Create(ctx context.Context) (credential.SessionCredential, error)
	Terminate(ctx context.Context, token string) error
}

// CreateResponse is the session creation body.
type CreateResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at,omitempty"`
	ExpiresIn int64  `json:"expires_in"`
}

// TerminateRequest is the session termination body.
type TerminateRequest struct {
	Token string `json:"token"`
}

// Credential converts the response, preferring the absolute expiry and
// falling back to now + expires_in.
func (r CreateResponse) Credential(now time.Time) (credential.SessionCredential, error) {
	token := strings.TrimSpace(r.Token)
	if token == "" {
		return credential.SessionCredential{}, fmt.Errorf("%w: missing token", ErrInvalidSession)
	}
	var parseErr error
	if raw := strings.TrimSpace(r.ExpiresAt); raw != "" {
		expiresAt, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			return credential.SessionCredential{Token: token, ExpiresAt: expiresAt}, nil
		}
		// zone-less timestamps fall through to expires_in
		parseErr = err
	}
	if r.ExpiresIn <= 0 {
		if parseErr != nil {
			return credential.SessionCredential{}, fmt.Errorf("%w: expires_at: %v", ErrInvalidSession, parseErr)
		}
		return credential.SessionCredential{}, fmt.Errorf("%w: missing expiry", ErrInvalidSession)
	}
	return credential.SessionCredential{
		Token:     token,
		ExpiresAt: now.Add(time.Duration(r.ExpiresIn) * time.Second),
	}, nil
}

// HTTPIssuer talks to the issuing service over HTTP.
type HTTPIssuer struct {
	baseURL string
	client  *http.Client
	apiKey  string
	now     func() time.Time
}

type IssuerOption func(*HTTPIssuer)

// WithAPIKey sends key in the X-API-Key header; empty sends nothing.
func WithAPIKey(key string) IssuerOption {
	return func(h *HTTPIssuer) {
		h.apiKey = strings.TrimSpace(key)
	}
}

func NewHTTPIssuer(baseURL string, client *http.Client, opts ...IssuerOption) (*HTTPIssuer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLMissing
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	h := &HTTPIssuer{
		baseURL: baseURL,
		client:  client,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *HTTPIssuer) Create(ctx context.Context) (credential.SessionCredential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+StartPath, nil)
	if err != nil {
		return credential.SessionCredential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.apiKey != "" {
		req.Header.Set(APIKeyHeader, h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return credential.SessionCredential{}, fmt.Errorf("start session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return credential.SessionCredential{}, fmt.Errorf("read start response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return credential.SessionCredential{}, fmt.Errorf("%w: %d %s", ErrIssuerStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return credential.SessionCredential{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return out.Credential(h.now())
}

func (h *HTTPIssuer) Terminate(ctx context.Context, token string) error {
	payload, err := json.Marshal(TerminateRequest{Token: token})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+EndPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrIssuerStatus, resp.StatusCode)
	}
	return nil
}
