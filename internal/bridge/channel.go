package bridge

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mdai-dev/kiosk/internal/errors"
	"github.com/mdai-dev/kiosk/internal/logging"
)

// Handler receives inbound messages. It runs on the channel's read
// goroutine and must not block for long.
type Handler func(Message)

// Channel is a bidirectional message channel to the bridge.
type Channel interface {
	Connect(ctx context.Context, token string, handler Handler) error
	Send(ctx context.Context, payload any) error
	Disconnect() error
}

const writeTimeout = 5 * time.Second

// WSChannel is a Channel over a gorilla/websocket connection to
// {ws_url}/hardware?token=...
type WSChannel struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	readers sync.WaitGroup

	writeMu sync.Mutex
}

// NewWSChannel creates an unconnected channel.
func NewWSChannel(wsURL string, logger *logging.Logger) *WSChannel {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &WSChannel{
		baseURL: strings.TrimRight(wsURL, "/"),
		dialer:  websocket.DefaultDialer,
		logger:  logger.WithComponent("bridge_ws"),
	}
}

// URL returns the hardware endpoint for token.
func (c *WSChannel) URL(token string) string {
	return c.baseURL + "/hardware?" + url.Values{"token": {token}}.Encode()
}

// Connect implements Channel. An existing connection is closed first.
func (c *WSChannel) Connect(ctx context.Context, token string, handler Handler) error {
	if err := c.Disconnect(); err != nil {
		c.logger.Warn("error closing previous bridge connection", "error", err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.URL(token), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return errors.Join(errors.ErrBridgeConnect, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.readers.Add(1)
	c.mu.Unlock()

	c.logger.Info("bridge websocket connected", "url", c.baseURL+"/hardware")
	go c.listen(conn, handler)
	return nil
}

func (c *WSChannel) listen(conn *websocket.Conn, handler Handler) {
	defer c.readers.Done()
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("bridge websocket closed cleanly")
			} else {
				c.logger.Warn("bridge websocket closed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid JSON from bridge", "payload", string(data))
			continue
		}
		if msg.Type == TypePing {
			if err := c.write(conn, map[string]any{"type": TypePong}); err != nil {
				c.logger.Warn("failed to answer ping", "error", err)
			}
			continue
		}
		if handler != nil {
			c.dispatch(handler, msg)
		}
	}
}

func (c *WSChannel) dispatch(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("bridge message handler panicked", "type", msg.Type, "panic", r)
		}
	}()
	handler(msg)
}

// Send implements Channel.
func (c *WSChannel) Send(ctx context.Context, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.ErrNotConnected
	}
	return c.write(conn, payload)
}

func (c *WSChannel) write(conn *websocket.Conn, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(payload)
}

// Disconnect implements Channel. It waits for the read goroutine to exit.
func (c *WSChannel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.readers.Wait()
	return err
}

// Connected reports whether a connection is open.
func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
