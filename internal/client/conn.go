package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"
)

// ErrIdle is the cancellation cause when a camera stops sending bytes
// without closing the connection.
var ErrIdle = errors.New("camera stream idle")

// Conn is one open camera response. It is owned by the relay operation that
// opened it and must be closed exactly once; Close is safe to call repeatedly.
type Conn struct {
	URL        string // redacted, for logging
	StatusCode int
	Header     http.Header
	Body       io.Reader

	body      io.ReadCloser
	ctx       context.Context
	cancel    context.CancelCauseFunc
	idle      *time.Timer
	closeOnce sync.Once
	closeErr  error
}

func newConn(ctx context.Context, cancel context.CancelCauseFunc, redacted string, resp *http.Response) *Conn {
	return &Conn{
		URL:        redacted,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		body:       resp.Body,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ContentType returns the camera's Content-Type, or fallback when it is
// missing or unparsable.
func (c *Conn) ContentType(fallback string) string {
	ct := c.Header.Get("Content-Type")
	if ct == "" {
		return fallback
	}
	if _, _, err := mime.ParseMediaType(ct); err != nil {
		return fallback
	}
	return ct
}

// WatchIdle aborts the connection when a single Read waits longer than d.
// Time spent outside Read (a slow client holding up the relay) does not count.
func (c *Conn) WatchIdle(d time.Duration) {
	if d <= 0 || c.idle != nil {
		return
	}
	c.idle = time.AfterFunc(d, func() { c.cancel(ErrIdle) })
	c.idle.Stop()
	c.Body = &idleReader{r: c.body, timer: c.idle, d: d}
}

// ReadError translates an error returned while reading Body into the relay
// error taxonomy (timeout, idle, client gone or unreachable).
func (c *Conn) ReadError(err error) error {
	return fmt.Errorf("read camera body: %w", classify(c.ctx, err))
}

// Close releases the upstream socket. Only the first call has any effect.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.idle != nil {
			c.idle.Stop()
		}
		c.closeErr = c.body.Close()
		c.cancel(nil)
	})
	return c.closeErr
}

type idleReader struct {
	r     io.Reader
	timer *time.Timer
	d     time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	ir.timer.Reset(ir.d)
	n, err := ir.r.Read(p)
	ir.timer.Stop()
	return n, err
}
