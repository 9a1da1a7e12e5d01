// Package discovery finds a free listen port for the relay and publishes the
// chosen endpoint in a small JSON file so local clients can locate it.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultFallbackURL is returned by ReadEndpointURL when no file is usable.
const DefaultFallbackURL = "http://localhost:3002"

// Endpoint is the content of the discovery file.
type Endpoint struct {
	Port      int       `json:"port"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEndpoint describes a listener bound to port. The URL always names
// localhost since the file is only read by co-located clients.
func NewEndpoint(port int, now time.Time) Endpoint {
	return Endpoint{
		Port:      port,
		URL:       "http://localhost:" + strconv.Itoa(port),
		Timestamp: now.UTC(),
	}
}

// Listen binds the first free port in [basePort, basePort+attempts) and
// returns the open listener so the port cannot be taken between the probe and
// the server start.
func Listen(host string, basePort, attempts int) (net.Listener, int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for port := basePort; port < basePort+attempts; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, port, nil
		}
		lastErr = err
	}
	return nil, 0, fmt.Errorf("discovery: no free port in %d-%d: %w", basePort, basePort+attempts-1, lastErr)
}

// WriteEndpointFile writes ep to path through a temp file and rename, so a
// reader never sees a partial document.
func WriteEndpointFile(path string, ep Endpoint) error {
	data, err := json.MarshalIndent(ep, "", "  ")
	if err != nil {
		return fmt.Errorf("discovery: marshal endpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".endpoint-*.json")
	if err != nil {
		return fmt.Errorf("discovery: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("discovery: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("discovery: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("discovery: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("discovery: rename endpoint file: %w", err)
	}
	return nil
}

// RemoveEndpointFile deletes the discovery file. A missing file is not an
// error.
func RemoveEndpointFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discovery: remove endpoint file: %w", err)
	}
	return nil
}

// ReadEndpointURL returns the URL recorded in path, or fallback when the file
// is missing, unreadable or has no URL. An empty fallback means
// DefaultFallbackURL.
func ReadEndpointURL(path, fallback string) string {
	if fallback == "" {
		fallback = DefaultFallbackURL
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	var ep Endpoint
	if err := json.Unmarshal(data, &ep); err != nil || ep.URL == "" {
		return fallback
	}
	return ep.URL
}
