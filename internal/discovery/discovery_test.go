package discovery

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen_SkipsBusyPort(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	ln, port, err := Listen("127.0.0.1", busyPort, 20)
	if err != nil {
		t.Skipf("no free port above %d: %v", busyPort, err)
	}
	defer ln.Close()

	assert.Greater(t, port, busyPort)
	assert.Equal(t, port, ln.Addr().(*net.TCPAddr).Port)
}

func TestListen_Exhausted(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	_, _, err = Listen("127.0.0.1", busyPort, 1)
	assert.Error(t, err)
}

func TestWriteAndReadEndpointFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "email-server-port.json")
	ep := NewEndpoint(3004, time.Date(2026, 3, 4, 10, 30, 0, 0, time.FixedZone("X", 3600)))

	require.NoError(t, WriteEndpointFile(path, ep))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Endpoint
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 3004, got.Port)
	assert.Equal(t, "http://localhost:3004", got.URL)
	assert.True(t, got.Timestamp.Equal(ep.Timestamp))
	assert.Equal(t, time.UTC, got.Timestamp.Location())

	assert.Equal(t, "http://localhost:3004", ReadEndpointURL(path, ""))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteEndpointFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint.json")
	require.NoError(t, WriteEndpointFile(path, NewEndpoint(3001, time.Now())))
	require.NoError(t, WriteEndpointFile(path, NewEndpoint(3002, time.Now())))

	assert.Equal(t, "http://localhost:3002", ReadEndpointURL(path, ""))
}

func TestReadEndpointURL_Fallbacks(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, DefaultFallbackURL, ReadEndpointURL(filepath.Join(dir, "missing.json"), ""))
	assert.Equal(t, "http://relay:9000", ReadEndpointURL(filepath.Join(dir, "missing.json"), "http://relay:9000"))

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0o644))
	assert.Equal(t, DefaultFallbackURL, ReadEndpointURL(garbage, ""))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"port":3001}`), 0o644))
	assert.Equal(t, DefaultFallbackURL, ReadEndpointURL(empty, ""))
}

func TestRemoveEndpointFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint.json")
	require.NoError(t, WriteEndpointFile(path, NewEndpoint(3001, time.Now())))

	require.NoError(t, RemoveEndpointFile(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, RemoveEndpointFile(path), "missing file is not an error")
}
