// Package terminal is the single entry point a UI uses to drive a remote
// shell session.
package terminal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/deskterm/internal/credential"
	"github.com/danmuck/deskterm/internal/negotiator"
	"github.com/danmuck/deskterm/internal/protocol/session"
	"github.com/danmuck/deskterm/internal/transport"
	"github.com/rs/zerolog"
)

var ErrStoreRequired = errors.New("terminal: credential store required")

// Options wires a Client. Issuer and Factory default to the HTTP issuer and
// the websocket dialer built from APIBase/StreamBase and Config. APIKey is
// sent on session start by the default issuer.
type Options struct {
	APIBase    string
	StreamBase string
	APIKey     string
	Store      *credential.Store
	Config     session.Config
	HTTPClient *http.Client
	Issuer     negotiator.Issuer
	Factory    transport.SocketFactory
	Clock      transport.Clock
	Logger     zerolog.Logger
}

// Client composes credential cache, negotiator, and transport. Construct one
// per process and hand it to the UI.
type Client struct {
	cfg        session.Config
	creds      *credential.Cache
	issuer     negotiator.Issuer
	transport  *transport.Transport
	negotiator *negotiator.Negotiator
	logger     zerolog.Logger
}

func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, ErrStoreRequired
	}
	cfg := opts.Config.WithDefaults()

	issuer := opts.Issuer
	if issuer == nil {
		if err := cfg.ValidateEndpoint(opts.APIBase); err != nil {
			return nil, err
		}
		httpClient := opts.HTTPClient
		if httpClient == nil {
			tlsCfg, err := cfg.ClientTLSConfig()
			if err != nil {
				return nil, err
			}
			httpClient = &http.Client{
				Timeout:   cfg.RequestTimeout,
				Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			}
		}
		h, err := negotiator.NewHTTPIssuer(opts.APIBase, httpClient, negotiator.WithAPIKey(opts.APIKey))
		if err != nil {
			return nil, err
		}
		issuer = h
	}

	factory := opts.Factory
	if factory == nil {
		if err := cfg.ValidateEndpoint(opts.StreamBase); err != nil {
			return nil, err
		}
		ws, err := transport.NewWebsocketFactory(cfg)
		if err != nil {
			return nil, err
		}
		factory = ws
	}

	creds := credential.NewCache(opts.Store, opts.Logger.With().Str("component", "credential").Logger())
	tr := transport.New(transport.Options{
		BaseURL: opts.StreamBase,
		Factory: factory,
		Creds:   creds,
		Config:  cfg,
		Clock:   opts.Clock,
		Logger:  opts.Logger.With().Str("component", "transport").Logger(),
	})
	neg := negotiator.New(issuer, creds, tr, opts.Logger.With().Str("component", "negotiator").Logger())

	return &Client{
		cfg:        cfg,
		creds:      creds,
		issuer:     issuer,
		transport:  tr,
		negotiator: neg,
		logger:     opts.Logger,
	}, nil
}

// InitSession ensures a valid session and an open (or attempted) stream.
// Concurrent calls share one negotiation.
func (c *Client) InitSession(ctx context.Context) bool {
	return c.negotiator.EnsureSession(ctx)
}

// SendInput reports whether text was transmitted now; otherwise it is queued.
func (c *Client) SendInput(text string) bool {
	return c.transport.Send(text)
}

// ExecuteCommand sends command followed by a newline and returns at once.
// Without a valid session a negotiation is started in the background; a
// failed one is retried on the next use.
func (c *Client) ExecuteCommand(command string) {
	if !c.creds.Valid() {
		go func() {
			if !c.InitSession(context.Background()) {
				c.logger.Warn().Msg("background session init failed")
			}
		}()
	}
	c.SendInput(command + "\n")
}

// OnOutput registers cb for every output message; call the returned func to
// unregister.
func (c *Client) OnOutput(cb func(string)) func() {
	return c.transport.Subscribers().SubscribeFunc(cb)
}

// Subscribe registers a subscriber by identity.
func (c *Client) Subscribe(sub transport.Subscriber) func() {
	return c.transport.Subscribers().Subscribe(sub)
}

func (c *Client) Resize(rows, cols int) bool {
	return c.transport.Resize(rows, cols)
}

// EndSession clears the credential, closes the stream, and asks the service
// to terminate the session. Termination failures are only logged.
func (c *Client) EndSession(ctx context.Context) {
	cred, _ := c.creds.Current()
	// cleared first so no send, reconnect or pending negotiation can reuse
	// the ending session
	c.negotiator.Invalidate()
	c.creds.Clear()
	c.transport.Reset()
	if cred.Token != "" {
		tctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		if err := c.issuer.Terminate(tctx, cred.Token); err != nil {
			c.logger.Warn().Err(err).Msg("session terminate failed")
		}
		cancel()
	}
}

// Close drops the stream but keeps the credential for a later resume.
func (c *Client) Close() {
	c.transport.Close()
}

func (c *Client) IsSessionValid() bool {
	return c.creds.Valid()
}

func (c *Client) IsConnected() bool {
	return c.transport.IsOpen()
}

// SessionToken is the current token, or "" without a valid session.
func (c *Client) SessionToken() string {
	return c.creds.Token()
}

// ExpiresAt is the current credential expiry; zero without a valid session.
func (c *Client) ExpiresAt() time.Time {
	cred, ok := c.creds.Current()
	if !ok {
		return time.Time{}
	}
	return cred.ExpiresAt
}
