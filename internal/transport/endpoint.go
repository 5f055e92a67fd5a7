// ABOUTME: Endpoint normalization and scheme/host:port validation.
// ABOUTME: Shared by transports and the agent's connection dialer.

package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	SchemeInMemory  = "inmemory://"
	SchemeRedis     = "redis://"
	SchemeWebsocket = "ws://"
)

// NormalizeEndpoint trims and lower-cases an endpoint.
func NormalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.ToLower(strings.TrimSpace(endpoint))
	if endpoint == "" {
		return "", fmt.Errorf("%w: empty endpoint", ErrInvalidEndpoint)
	}
	return endpoint, nil
}

// Scheme returns the scheme prefix of an endpoint, or "".
func Scheme(endpoint string) string {
	idx := strings.Index(endpoint, "://")
	if idx < 0 {
		return ""
	}
	return endpoint[:idx+3]
}

// RequireScheme normalizes endpoint and checks it begins with scheme.
func RequireScheme(endpoint, scheme string) (string, error) {
	endpoint, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(endpoint, scheme) {
		return "", fmt.Errorf("%w: expected endpoint to begin with %q, got %q", ErrInvalidEndpoint, scheme, endpoint)
	}
	return endpoint, nil
}

// HostPort extracts and validates host:port after the scheme prefix.
func HostPort(endpoint, scheme string) (string, error) {
	endpoint, err := RequireScheme(endpoint, scheme)
	if err != nil {
		return "", err
	}
	addr := strings.TrimSuffix(strings.TrimPrefix(endpoint, scheme), "/")
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, endpoint, err)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return "", fmt.Errorf("%w: bad port in %q", ErrInvalidEndpoint, endpoint)
	}
	return net.JoinHostPort(host, port), nil
}
