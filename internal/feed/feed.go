// Package feed republishes pushed location names into the loader.
//
// A Client keeps one WebSocket connection to the location notifier for the
// life of the process and reconnects with capped exponential backoff when it
// drops. Delivery is best effort: nothing is replayed after a reconnect.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultURL is where the location notifier listens by default.
const DefaultURL = "ws://localhost:4000"

// Sink receives every location name in arrival order.
type Sink interface {
	SetLocation(ctx context.Context, name string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, name string) error

func (f SinkFunc) SetLocation(ctx context.Context, name string) error { return f(ctx, name) }

// Message is one push from the notifier.
type Message struct {
	ID   json.RawMessage `json:"id,omitempty"` // ignored
	Name string          `json:"name"`
}

// Config configures a Client.
type Config struct {
	URL              string
	Logger           zerolog.Logger
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration // default 10s
	ReadTimeout      time.Duration // max silence before reconnecting (0 = unlimited)
	MinBackoff       time.Duration // default 500ms
	MaxBackoff       time.Duration // default 30s
}

// Stats counts feed activity since the client was created.
type Stats struct {
	Connects  uint64 `json:"connects"`
	Messages  uint64 `json:"messages"`
	Malformed uint64 `json:"malformed"`
}

// Client is the long-lived notifier subscription.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	sink   Sink
	dialer *websocket.Dialer

	connects  atomic.Uint64
	messages  atomic.Uint64
	malformed atomic.Uint64
}

// New validates cfg and returns a client that delivers into sink.
func New(cfg Config, sink Sink) (*Client, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink required")
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	return &Client{cfg: cfg, log: cfg.Logger, sink: sink, dialer: dialer}, nil
}

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connects:  c.connects.Load(),
		Messages:  c.messages.Load(),
		Malformed: c.malformed.Load(),
	}
}

// Run connects and delivers messages until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.cfg.MinBackoff
		}
		c.log.Warn().Err(err).Str("url", c.cfg.URL).Dur("retry_in", backoff).Msg("location feed disconnected")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	n := c.connects.Add(1)
	c.log.Info().Str("url", c.cfg.URL).Uint64("connects", n).Msg("location feed connected")

	// ReadMessage does not observe ctx, so closing the conn unblocks it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("read: %w", err)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := c.deliver(ctx, data); err != nil {
			return true, err
		}
	}
}

// deliver decodes one push and hands it to the sink. Only a canceled ctx is
// returned as an error; bad messages and sink failures are logged.
func (c *Client) deliver(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Name == "" {
		c.malformed.Add(1)
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("skipping malformed location message")
		return nil
	}
	c.messages.Add(1)
	if err := c.sink.SetLocation(ctx, msg.Name); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		c.log.Warn().Err(err).Str("location", msg.Name).Msg("location sink rejected update")
		return nil
	}
	c.log.Debug().Str("location", msg.Name).Msg("location changed")
	return nil
}
