// Package statsfeed follows the dashboard's /ws push feed.
package statsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Frame types pushed by the server.
const (
	FrameStats    = "stats"
	FrameSnapshot = "snapshot"
)

// Frame is one message from the feed.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	logger *zap.Logger

	url          string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan Frame
	errCh   chan error
	closeCh chan struct{}

	msgCount        uint64
	lastMsgUnixNano int64
}

func NewClient(logger *zap.Logger, url string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger:       logger,
		url:          url,
		dialer:       websocket.DefaultDialer,
		pingInterval: 10 * time.Second,

		msgCh:   make(chan Frame, 256),
		errCh:   make(chan error, 16),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the feed and starts the read and ping loops. The connection
// is closed when ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial stats feed: %w", err)
	}

	c.logger.Info("stats feed dialed", zap.String("url", c.url))

	c.connMu.Lock()
	c.conn = conn
	closeCh := c.closeCh
	c.connMu.Unlock()

	go c.readLoop(conn, closeCh)
	go c.pingLoop(conn, closeCh)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-closeCh:
		}
	}()

	return nil
}

// Run keeps the feed connected until ctx is done, reconnecting with backoff,
// and calls handle for every frame.
func (c *Client) Run(ctx context.Context, handle func(Frame)) error {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: true}

	for {
		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d := b.Duration()
			c.logger.Warn("stats feed connect failed", zap.Error(err), zap.Duration("retry_in", d))
			if !sleep(ctx, d) {
				return ctx.Err()
			}
			continue
		}
		b.Reset()

		if err := c.pump(ctx, handle); err != nil && ctx.Err() == nil {
			c.logger.Warn("stats feed disconnected", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleep(ctx, b.Duration()) {
			return ctx.Err()
		}
	}
}

func (c *Client) pump(ctx context.Context, handle func(Frame)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.msgCh:
			handle(f)
		case err := <-c.errCh:
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) Messages() <-chan Frame {
	return c.msgCh
}

func (c *Client) Errors() <-chan error {
	return c.errCh
}

type Stats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *Client) Stats() Stats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return Stats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	// Fresh channel so Run can reconnect.
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *Client) pingLoop(conn *websocket.Conn, closeCh <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("stats feed ping failed", zap.Error(err))
				return
			}
		case <-closeCh:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, closeCh <-chan struct{}) {
	for {
		select {
		case <-closeCh:
			return
		default:
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closeCh:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = errors.New("stats feed closed by server")
			}
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.emitFrame(b)
	}
}

func (c *Client) emitFrame(b []byte) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		c.logger.Warn("stats feed bad frame", zap.Error(err), zap.Int("bytes", len(b)))
		return
	}
	if f.Type == "" {
		return
	}
	c.forward(f)
}

func (c *Client) forward(f Frame) {
	select {
	case c.msgCh <- f:
	default:
		c.logger.Warn("dropping stats frame: msgCh full")
	}
}
