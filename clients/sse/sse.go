// Package sse reads server-sent event streams.
package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// Event is one dispatched SSE message.
type Event struct {
	ID    string
	Event string
	Data  string
}

// Reader splits an SSE body into events. Comment lines and the retry field
// are ignored; an event without a name is reported as "message".
type Reader struct {
	sc  *bufio.Scanner
	cur Event
	buf []string
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{sc: sc}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (r *Reader) Next() (Event, error) {
	for r.sc.Scan() {
		line := strings.TrimSuffix(r.sc.Text(), "\r")
		if line == "" {
			if len(r.buf) == 0 && r.cur.Event == "" {
				continue
			}
			ev := r.cur
			ev.Data = strings.Join(r.buf, "\n")
			if ev.Event == "" {
				ev.Event = "message"
			}
			r.cur = Event{ID: r.cur.ID}
			r.buf = r.buf[:0]
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			r.cur.Event = value
		case "data":
			r.buf = append(r.buf, value)
		case "id":
			r.cur.ID = value
		}
	}
	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

type Client struct {
	logger *zap.Logger
	url    string
	http   *http.Client
}

func NewClient(logger *zap.Logger, url string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	// No timeout: the stream stays open.
	return &Client{logger: logger, url: url, http: &http.Client{}}
}

// Subscribe reads the stream once, calling handle for every event until the
// stream ends or ctx is done.
func (c *Client) Subscribe(ctx context.Context, handle func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connect %s: HTTP %d", c.url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("connect %s: unexpected content type %q", c.url, ct)
	}

	r := NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		handle(ev)
	}
}

// Run subscribes until ctx is done, reconnecting with backoff.
func (c *Client) Run(ctx context.Context, handle func(Event)) error {
	b := &backoff.Backoff{Min: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		start := time.Now()
		err := c.Subscribe(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A connection that stayed up for a while starts the delays over.
		if time.Since(start) > time.Minute {
			b.Reset()
		}

		d := b.Duration()
		if err != nil {
			c.logger.Warn("sse stream failed", zap.String("url", c.url), zap.Error(err), zap.Duration("retry_in", d))
		} else {
			c.logger.Info("sse stream ended", zap.String("url", c.url), zap.Duration("retry_in", d))
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
