// Package model defines shared types for the camera relay.
package model

import (
	"context"
	"errors"
	"fmt"
)

// Purpose selects how a camera URL is resolved and relayed.
type Purpose int

const (
	PurposeStream Purpose = iota
	PurposeSnapshot
)

// String returns the metric/log label for the purpose.
func (p Purpose) String() string {
	switch p {
	case PurposeStream:
		return "stream"
	case PurposeSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// ProxyRequest represents a client request to relay one camera resource.
type ProxyRequest struct {
	Ctx context.Context
	URL string // untrusted, as supplied by the caller
}

// Relay failures. Handlers map these to HTTP statuses.
var (
	ErrInvalidURL          = errors.New("invalid camera url")
	ErrUpstreamUnreachable = errors.New("camera unreachable")
	ErrUpstreamBadStatus   = errors.New("camera returned an unexpected status")
	ErrUpstreamTimeout     = errors.New("camera did not respond in time")
)

// StatusError reports a camera response status the relay refuses to pass on.
// It matches ErrUpstreamBadStatus with errors.Is.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("camera returned status %d", e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUpstreamBadStatus
}
