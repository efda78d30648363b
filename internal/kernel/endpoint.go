package kernel

import (
	"errors"
	"fmt"
	"net/url"
	"path"
)

// Endpoint identifies one kernel on a gateway. The triple is immutable for
// the lifetime of a session.
type Endpoint struct {
	// BaseURL is the gateway's HTTP(S) base URL.
	BaseURL string

	// KernelID is the gateway-assigned kernel id.
	KernelID string

	// Token is the gateway auth token, empty when the gateway is open.
	Token string
}

// ChannelURL derives the kernel's channel WebSocket URL from the HTTP base
// URL: the scheme switches to its WebSocket counterpart and the fixed
// channel path is appended.
func (e Endpoint) ChannelURL() (string, error) {
	if e.KernelID == "" {
		return "", errors.New("kernel id is required")
	}

	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// Already a WebSocket URL.
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}

	u.Path = path.Join(u.Path, "api", "kernels", e.KernelID, "channels")
	return u.String(), nil
}
