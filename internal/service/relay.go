// Package service implements the camera stream and snapshot relays.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"camera-relay/internal/client"
	"camera-relay/internal/config"
	"camera-relay/internal/metrics"
	"camera-relay/internal/model"
)

const (
	// DefaultStreamContentType is used when the camera does not name its multipart boundary.
	DefaultStreamContentType = "multipart/x-mixed-replace; boundary=--BoundaryString"
	// DefaultSnapshotContentType is used when the camera omits Content-Type on a snapshot.
	DefaultSnapshotContentType = "image/jpeg"
)

// RelayService composes URL resolution and the camera client into the
// stream and snapshot relays. It holds no per-request state.
type RelayService struct {
	client  *client.CameraClient
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	allow   hostAllowlist
}

// NewRelayService creates a RelayService.
// The metrics parameter is optional; pass nil to disable relay metrics.
func NewRelayService(c *client.CameraClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*RelayService, error) {
	allow, err := newHostAllowlist(cfg.Camera.AllowedHosts)
	if err != nil {
		return nil, err
	}

	return &RelayService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
		allow:   allow,
	}, nil
}

// resolve normalizes the caller-supplied URL and enforces the host allowlist.
// Errors are returned unwrapped so their text can be shown to the caller.
func (s *RelayService) resolve(raw string, p model.Purpose) (string, error) {
	target, err := Resolve(raw, p)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url", model.ErrInvalidURL)
	}
	if !s.allow.allows(u.Hostname()) {
		return "", fmt.Errorf("%w: camera host %q is not allowed", model.ErrInvalidURL, u.Hostname())
	}
	return target, nil
}

// Snapshot is one fully buffered camera image.
type Snapshot struct {
	ContentType string
	Data        []byte
}

// Snapshot fetches exactly one image. The snapshot timeout bounds the whole
// exchange, body included, and there is no retry: callers poll on their own.
func (s *RelayService) Snapshot(pr *model.ProxyRequest) (*Snapshot, error) {
	target, err := s.resolve(pr.URL, model.PurposeSnapshot)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.Camera.SnapshotTimeout()
	ctx, cancel := context.WithTimeoutCause(pr.Ctx, timeout, model.ErrUpstreamTimeout)
	defer cancel()

	conn, err := s.client.Open(ctx, target, model.PurposeSnapshot, timeout)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Redirects and partial content are not images we can vouch for.
	if conn.StatusCode != http.StatusOK {
		return nil, &model.StatusError{Code: conn.StatusCode}
	}

	limit := s.cfg.Camera.SnapshotMaxBytes
	data, err := io.ReadAll(io.LimitReader(conn.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", conn.ReadError(err))
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("snapshot: %w: image larger than %d bytes", model.ErrUpstreamBadStatus, limit)
	}

	if s.metrics != nil {
		s.metrics.RelayedBytes.WithLabelValues(model.PurposeSnapshot.String()).Add(float64(len(data)))
	}

	return &Snapshot{
		ContentType: conn.ContentType(DefaultSnapshotContentType),
		Data:        data,
	}, nil
}
