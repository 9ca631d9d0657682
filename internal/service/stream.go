package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"camera-relay/internal/client"
	"camera-relay/internal/metrics"
	"camera-relay/internal/model"
)

// StreamState is the lifecycle of one relayed stream.
type StreamState int

const (
	StateIdle StreamState = iota
	StateConnecting
	StateFailed
	StateStreaming
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateFailed:
		return "failed"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// copyBufSize bounds how much of a stream is in flight per viewer.
const copyBufSize = 32 * 1024

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufSize)
		return &b
	},
}

// Stream is an open camera stream ready to be copied to one client.
// It must be closed by the caller.
type Stream struct {
	conn    *client.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics

	state     StreamState
	closeOnce sync.Once
}

// OpenStream resolves the camera URL and connects within the stream timeout.
// On error nothing has been written anywhere and no connection is left open.
func (s *RelayService) OpenStream(pr *model.ProxyRequest) (*Stream, error) {
	st := &Stream{logger: s.logger, metrics: s.metrics}

	target, err := s.resolve(pr.URL, model.PurposeStream)
	if err != nil {
		st.set(StateFailed)
		return nil, err
	}

	st.set(StateConnecting)
	conn, err := s.client.Open(pr.Ctx, target, model.PurposeStream, s.cfg.Camera.StreamTimeout())
	if err != nil {
		st.set(StateFailed)
		return nil, fmt.Errorf("stream: %w", err)
	}
	// Redirects are not followed, so a 3xx head carries no stream.
	if conn.StatusCode < http.StatusOK || conn.StatusCode >= http.StatusMultipleChoices {
		_ = conn.Close()
		st.set(StateFailed)
		return nil, &model.StatusError{Code: conn.StatusCode}
	}

	conn.WatchIdle(s.cfg.Camera.IdleTimeout())
	st.conn = conn
	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
	}
	return st, nil
}

// ContentType is the camera's multipart content type, or the default boundary.
func (st *Stream) ContentType() string {
	return st.conn.ContentType(DefaultStreamContentType)
}

// State reports where the stream is in its lifecycle.
func (st *Stream) State() StreamState {
	return st.state
}

// CopyTo forwards camera bytes to w as they arrive until either side ends.
// Each chunk is flushed before the next read, so a slow client stalls the
// camera read rather than growing a buffer.
//
// A nil error means the camera ended the stream. An error matching
// context.Canceled means the client went away, which is normal termination.
func (st *Stream) CopyTo(w io.Writer) (int64, error) {
	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)
	buf := *bufp

	flusher, _ := w.(http.Flusher)
	st.set(StateStreaming)

	var written int64
	for {
		nr, rerr := st.conn.Body.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if st.metrics != nil {
				st.metrics.RelayedBytes.WithLabelValues(model.PurposeStream.String()).Add(float64(nw))
			}
			if werr != nil {
				return written, fmt.Errorf("write to client: %w: %w", context.Canceled, werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, st.conn.ReadError(rerr)
		}
	}
}

// Close tears down the camera connection. Only the first call has any effect.
func (st *Stream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		err = st.conn.Close()
		st.set(StateClosed)
		if st.metrics != nil {
			st.metrics.ActiveStreams.Dec()
		}
	})
	return err
}

func (st *Stream) set(to StreamState) {
	st.logger.Debug("stream state", "from", st.state.String(), "to", to.String())
	st.state = to
}
