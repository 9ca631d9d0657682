package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"camera-relay/internal/client"
	"camera-relay/internal/model"
	"camera-relay/internal/service"
)

// RelayHandler serves the camera stream and snapshot endpoints.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Stream relays the camera's MJPEG stream named by the url query parameter.
// Nothing is written until the camera has answered with an acceptable status,
// so every failure before that point is a JSON error.
func (h *RelayHandler) Stream(c echo.Context) error {
	req := c.Request()
	pr := &model.ProxyRequest{
		Ctx: req.Context(),
		URL: c.QueryParam("url"),
	}

	st, err := h.service.OpenStream(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = st.Close() }()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, st.ContentType())
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	// From here on the status is committed; failures can only end the stream.
	n, err := st.CopyTo(res)
	switch {
	case err == nil:
		h.logger.Info("camera ended stream", "bytes", n)
	case errors.Is(err, context.Canceled):
		h.logger.Debug("viewer disconnected", "bytes", n)
	case errors.Is(err, client.ErrIdle):
		h.logger.Warn("camera stream went idle", "bytes", n)
	default:
		h.logger.Warn("camera stream interrupted", "err", err, "bytes", n)
	}

	return nil
}

// Snapshot relays one JPEG frame from the camera named by the url query parameter.
func (h *RelayHandler) Snapshot(c echo.Context) error {
	pr := &model.ProxyRequest{
		Ctx: c.Request().Context(),
		URL: c.QueryParam("url"),
	}

	snap, err := h.service.Snapshot(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(snap.Data)))
	return c.Blob(http.StatusOK, snap.ContentType, snap.Data)
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, model.ErrInvalidURL) {
		h.logger.Info("rejected camera url", "err", err, "path", path)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	if errors.Is(err, model.ErrUpstreamTimeout) {
		h.logger.Warn("camera timed out", "err", err, "path", path)
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "camera did not respond in time",
		})
	}

	var se *model.StatusError
	if errors.As(err, &se) {
		h.logger.Warn("camera refused request", "status", se.Code, "path", path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": se.Error(),
		})
	}

	if errors.Is(err, model.ErrUpstreamBadStatus) {
		h.logger.Warn("camera response rejected", "err", err, "path", path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "camera response rejected",
		})
	}

	if errors.Is(err, context.Canceled) {
		// The viewer left before the camera answered; nobody reads this body.
		h.logger.Debug("viewer disconnected before camera answered", "path", path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	if errors.Is(err, model.ErrUpstreamUnreachable) {
		h.logger.Warn("camera unreachable", "err", err, "path", path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "camera unreachable",
		})
	}

	h.logger.Error("relay error", "err", err, "path", path)
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
