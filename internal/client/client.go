// Package client is the receiving side of the demo room: it mirrors the
// server's state into an auto-decoding world and runs the receiver systems
// after every decoded message.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/ecsync/internal/config"
	"github.com/zeusync/ecsync/internal/core/observability/log"
	"github.com/zeusync/ecsync/internal/core/protocol"
	"github.com/zeusync/ecsync/internal/demo/simulation"
	"github.com/zeusync/ecsync/pkg/ecsync"
	"github.com/zeusync/ecsync/pkg/schema"
)

const handshakeTimeout = 10 * time.Second

type Option func(*Client)

func WithLogger(l log.Log) Option {
	return func(c *Client) { c.log = l }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is one connection to a room.
type Client struct {
	cfg    config.Client
	log    log.Log
	dialer *websocket.Dialer

	conn      *websocket.Conn
	handshake protocol.Handshake

	mu       sync.Mutex
	mirror   *simulation.Mirror
	dec      *schema.Decoder
	messages int
	bytes    int
	started  time.Time
	last     time.Time
}

// Dial connects to cfg.URL and completes the handshake. It fails when the
// server's schema fingerprint differs from the local one.
func Dial(ctx context.Context, cfg config.Client, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg, dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.Provide()
	}
	c.log = c.log.With(log.String("component", "client"))

	mirror, err := simulation.NewMirror(cfg.ReportEvery, ecsync.WithLogger(c.log))
	if err != nil {
		return nil, err
	}
	c.mirror = mirror
	c.dec = schema.NewDecoder(mirror.World.Context(), mirror.State)

	target, err := c.target()
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	c.conn = conn

	if err = c.readHandshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.log = c.log.With(log.String("session", c.handshake.Session))
	c.log.Info("connected", log.String("url", cfg.URL), log.Int("patch_rate", c.handshake.PatchRate))
	return c, nil
}

func (c *Client) target() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) readHandshake() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	kind, payload, err := protocol.Parse(msg)
	if err != nil {
		return err
	}
	if kind != protocol.KindHandshake {
		return fmt.Errorf("%w: %s before handshake", protocol.ErrUnexpectedMessage, kind)
	}
	h, err := protocol.DecodeHandshake(payload)
	if err != nil {
		return err
	}
	if err = h.Check(c.mirror.World.Context().Fingerprint()); err != nil {
		return err
	}
	c.handshake = h
	return nil
}

// Session is the id the server assigned to this connection.
func (c *Client) Session() string { return c.handshake.Session }

// Run applies incoming messages until ctx is done or the server closes
// the connection. A normal close is not an error.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return c.conn.Close()
	})
	g.Go(func() error {
		for {
			_, msg, err := c.conn.ReadMessage()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return err
			}
			if err = c.apply(msg); err != nil {
				return err
			}
		}
	})

	err := g.Wait()
	c.mu.Lock()
	c.mirror.Stop()
	c.mu.Unlock()
	switch {
	case errors.Is(err, context.Canceled),
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Info("disconnected", log.Int("messages", c.Messages()))
		return nil
	default:
		return err
	}
}

func (c *Client) apply(msg []byte) error {
	kind, payload, err := protocol.Parse(msg)
	if err != nil {
		return err
	}
	if kind != protocol.KindFullState && kind != protocol.KindPatch {
		return fmt.Errorf("%w: %s", protocol.ErrUnexpectedMessage, kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err = c.dec.Decode(payload); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	now := time.Now()
	if c.started.IsZero() {
		c.started, c.last = now, now
	}
	delta := float64(now.Sub(c.last)) / float64(time.Millisecond)
	c.mirror.Execute(max(delta, 1e-3), float64(now.Sub(c.started))/float64(time.Millisecond))
	c.last = now
	c.messages++
	c.bytes += len(payload)
	c.log.Debug("state applied", log.String("kind", kind.String()), log.Int("bytes", len(payload)))
	return nil
}

// Close drops the connection without waiting for Run.
func (c *Client) Close() error { return c.conn.Close() }

// Messages is the number of state messages applied so far.
func (c *Client) Messages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}

// Summary is what the receiver systems saw after the last message.
func (c *Client) Summary() simulation.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror.Report.Summary()
}

// Inspect runs fn against the mirrored world while no message is applied.
func (c *Client) Inspect(fn func(m *simulation.Mirror)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.mirror)
}
