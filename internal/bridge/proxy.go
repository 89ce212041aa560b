package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/logging"
)

// User-facing messages for bridge failures.
const (
	MsgPairingFailed   = "Failed to get pairing token"
	MsgBridgeConnect   = "Bridge connection failed"
	MsgAppReadyTimeout = "Mobile app connection timeout"
	MsgAckTimeout      = "Backend acknowledgment timeout"
)

// Proxy fronts the token service and the bridge channel for one session at
// a time.
type Proxy struct {
	tokens  TokenService
	channel Channel
	apiURL  string
	wsURL   string
	logger  *logging.Logger
	now     func() time.Time

	mu           sync.Mutex
	token        string
	handler      Handler
	connected    bool
	lastActivity time.Time
	reconnects   int
}

// NewProxy creates a Proxy. apiURL and wsURL are used to build QR payloads.
func NewProxy(tokens TokenService, channel Channel, apiURL, wsURL string, opts ...Option) *Proxy {
	if tokens == nil {
		panic("bridge: TokenService must not be nil")
	}
	if channel == nil {
		panic("bridge: Channel must not be nil")
	}
	cfg := &config{
		logger: logging.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Proxy{
		tokens:  tokens,
		channel: channel,
		apiURL:  apiURL,
		wsURL:   wsURL,
		logger:  cfg.logger.WithComponent("bridge"),
		now:     cfg.now,
	}
}

// IssueToken requests a pairing token. Failures are flow errors.
func (p *Proxy) IssueToken(ctx context.Context) (Token, error) {
	p.logger.Info("requesting pairing token")
	tok, err := p.tokens.IssueToken(ctx)
	if err != nil {
		if errors.IsCanceled(err) {
			return Token{}, err
		}
		return Token{}, errors.NewFlowError(MsgPairingFailed, err)
	}
	if tok.Value == "" {
		return Token{}, errors.NewFlowError("Invalid token response from backend", errors.ErrPairingFailed)
	}
	return tok, nil
}

// QRPayload builds the pairing QR payload for token.
func (p *Proxy) QRPayload(token string) QRPayload {
	return BuildQRPayload(p.apiURL, p.wsURL, token)
}

// Connect opens the channel with token. handler receives every inbound
// message except pings. Failures are flow errors.
func (p *Proxy) Connect(ctx context.Context, token string, handler Handler) error {
	p.mu.Lock()
	p.token = token
	p.handler = handler
	p.mu.Unlock()

	if err := p.connect(ctx); err != nil {
		if errors.IsCanceled(err) {
			return err
		}
		return errors.NewFlowError(MsgBridgeConnect, errors.Join(errors.ErrBridgeConnect, err))
	}
	return nil
}

func (p *Proxy) connect(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	err := p.channel.Connect(ctx, token, p.receive)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = err == nil
	if err == nil {
		p.lastActivity = p.now()
	}
	return err
}

func (p *Proxy) receive(msg Message) {
	p.mu.Lock()
	p.lastActivity = p.now()
	handler := p.handler
	p.mu.Unlock()

	p.logger.Debug("bridge message received", "type", msg.Type)
	if handler != nil {
		handler(msg)
	}
}

// Reconnect drops and reopens the channel with the current token.
func (p *Proxy) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.reconnects++
	p.mu.Unlock()

	if token == "" {
		return errors.ErrNotConnected
	}
	p.logger.Warn("reconnecting bridge channel")
	if err := p.channel.Disconnect(); err != nil {
		p.logger.Debug("disconnect before reconnect failed", "error", err)
	}
	return p.connect(ctx)
}

// Send writes payload to the channel.
func (p *Proxy) Send(ctx context.Context, payload any) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return errors.ErrNotConnected
	}
	return p.channel.Send(ctx, payload)
}

// Disconnect closes the channel and forgets the session token.
func (p *Proxy) Disconnect() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.token = ""
	p.handler = nil
	p.mu.Unlock()

	if err := p.channel.Disconnect(); err != nil {
		p.logger.Warn("error disconnecting bridge", "error", err)
	}
	if wasConnected {
		p.logger.Info("bridge disconnected")
	}
}

// Connected reports whether a session channel is open.
func (p *Proxy) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SilentFor returns how long the bridge has been quiet. It is zero when no
// channel is open, so an idle kiosk never looks silent.
func (p *Proxy) SilentFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || p.lastActivity.IsZero() {
		return 0
	}
	return p.now().Sub(p.lastActivity)
}

// Reconnects returns how many reconnects have been attempted.
func (p *Proxy) Reconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnects
}
