package service

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"camera-relay/internal/model"
)

// Path conventions of the Android "IP Webcam" app, the reference camera
// firmware: /video serves MJPEG and /shot.jpg serves one frame. They are
// heuristics for that firmware, not a general camera protocol.
var (
	streamMarkers   = []string{"/video", "/stream"}
	snapshotMarkers = []string{"/shot", "/jpeg", "/snapshot"}
)

const (
	defaultStreamPath   = "/video"
	defaultSnapshotPath = "/shot.jpg"
)

// Resolve turns an operator-entered camera address into the URL to fetch for
// the given purpose. A path that already names a stream or snapshot endpoint
// is left untouched; a bare base URL gets the firmware default.
func Resolve(raw string, p model.Purpose) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", model.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url", model.ErrInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", model.ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: host is required", model.ErrInvalidURL)
	}

	path := strings.ToLower(u.Path)
	switch p {
	case model.PurposeStream:
		if !containsAny(path, streamMarkers) {
			u.Path = strings.TrimRight(u.Path, "/") + defaultStreamPath
			if u.RawPath != "" {
				u.RawPath = strings.TrimRight(u.RawPath, "/") + defaultStreamPath
			}
		}
	case model.PurposeSnapshot:
		if !containsAny(path, snapshotMarkers) {
			u.Path = defaultSnapshotPath
			u.RawPath = ""
		}
	default:
		return "", fmt.Errorf("%w: unknown purpose %d", model.ErrInvalidURL, p)
	}

	return u.String(), nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// hostAllowlist restricts which cameras the relay will connect to.
// An empty allowlist permits every host.
type hostAllowlist struct {
	prefixes []netip.Prefix
	names    map[string]bool
}

func newHostAllowlist(entries []string) (hostAllowlist, error) {
	a := hostAllowlist{names: make(map[string]bool)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return hostAllowlist{}, fmt.Errorf("parse allowed host %q: %w", e, err)
			}
			a.prefixes = append(a.prefixes, p.Masked())
			continue
		}
		a.names[strings.ToLower(e)] = true
	}
	return a, nil
}

func (a hostAllowlist) empty() bool {
	return len(a.prefixes) == 0 && len(a.names) == 0
}

// allows reports whether host (without port) may be dialed. Hostnames are
// matched by name only; they are not resolved.
func (a hostAllowlist) allows(host string) bool {
	if a.empty() {
		return true
	}
	host = strings.ToLower(host)
	if a.names[host] {
		return true
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
