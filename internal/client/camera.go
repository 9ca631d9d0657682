// Package client provides the upstream HTTP client for LAN IP cameras.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"camera-relay/internal/config"
	"camera-relay/internal/metrics"
	"camera-relay/internal/model"
)

const userAgent = "camera-relay/1.0"

// fallbackTimeout applies when Open is called without a positive timeout.
const fallbackTimeout = 15 * time.Second

// CameraClient opens connections to cameras. Plain and TLS cameras are served
// by separate transports so that TLS settings never leak into plain dials.
type CameraClient struct {
	plain   *http.Client
	secure  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewCameraClient creates a CameraClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewCameraClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *CameraClient {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		// Cameras on the LAN commonly ship self-signed certificates.
		InsecureSkipVerify: cfg.Camera.InsecureSkipVerify, //nolint:gosec // opt-in via config
	}

	return &CameraClient{
		plain:   newHTTPClient(newTransport(nil, cfg.Camera.IdleConnections)),
		secure:  newHTTPClient(newTransport(tlsCfg, cfg.Camera.IdleConnections)),
		logger:  logger.With("component", "camera_client"),
		metrics: m,
	}
}

func newTransport(tlsCfg *tls.Config, idle int) *http.Transport {
	return &http.Transport{
		// Cameras are dialed directly; an environment proxy would not reach the LAN.
		Proxy:               nil,
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: 10 * time.Second,
		// Relay bytes exactly as the camera sent them.
		DisableCompression: true,
	}
}

// newHTTPClient returns a client without an overall Timeout: a live stream
// has no end, so deadlines are applied per request through the context.
func newHTTPClient(t *http.Transport) *http.Client {
	return &http.Client{
		Transport: t,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// clientFor selects the transport matching the URL scheme.
func (c *CameraClient) clientFor(u *url.URL) (*http.Client, error) {
	switch strings.ToLower(u.Scheme) {
	case "http":
		return c.plain, nil
	case "https":
		return c.secure, nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", model.ErrInvalidURL, u.Scheme)
	}
}

// Open issues a GET to target and waits at most timeout for the response head.
// On success the caller owns the returned Conn and must Close it. The Conn
// stays bound to ctx: cancelling ctx aborts any pending body read.
func (c *CameraClient) Open(ctx context.Context, target string, p model.Purpose, timeout time.Duration) (*Conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidURL, err)
	}
	hc, err := c.clientFor(u)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = fallbackTimeout
	}

	connCtx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(timeout, func() { cancel(model.ErrUpstreamTimeout) })

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		timer.Stop()
		cancel(nil)
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptFor(p))

	c.logger.Debug("camera request",
		"purpose", p.String(),
		"url", u.Redacted(),
	)

	start := time.Now()
	resp, err := hc.Do(req) //nolint:bodyclose // body ownership transfers to caller via Conn
	// A false Stop means the timer fired, so connCtx is already cancelled even
	// if the head made it in.
	inTime := timer.Stop()
	duration := time.Since(start).Seconds()

	if err == nil && !inTime {
		_ = resp.Body.Close()
		err = context.Cause(connCtx)
	}
	if err != nil {
		err = classify(connCtx, err)
		cancel(nil)
		c.record(p, duration, err)
		c.logger.Debug("camera request failed",
			"purpose", p.String(),
			"url", u.Redacted(),
			"err", err,
		)
		return nil, fmt.Errorf("open camera %s: %w", u.Host, err)
	}

	c.record(p, duration, nil)

	return newConn(connCtx, cancel, u.Redacted(), resp), nil
}

func (c *CameraClient) record(p model.Purpose, seconds float64, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamConnectDuration.WithLabelValues(p.String()).Observe(seconds)
	c.metrics.UpstreamResults.WithLabelValues(p.String(), outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, model.ErrUpstreamTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeUnreachable
	}
}

func acceptFor(p model.Purpose) string {
	if p == model.PurposeSnapshot {
		return "image/jpeg, image/*;q=0.8"
	}
	return "multipart/x-mixed-replace, */*;q=0.5"
}

// classify maps a transport or body-read error onto the relay error taxonomy,
// using the cancellation cause recorded on ctx when there is one.
func classify(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		switch {
		case errors.Is(cause, model.ErrUpstreamTimeout), errors.Is(cause, ErrIdle):
			return cause
		case errors.Is(cause, context.DeadlineExceeded):
			return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, cause)
		default:
			// The client went away; not an upstream failure.
			return cause
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", model.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", model.ErrUpstreamUnreachable, err)
}
