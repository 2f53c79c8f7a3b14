package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freePort asks the OS for an ephemeral port and releases it, so the test
// can use it as a private well-known port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	port := freePort(t)
	srv := NewServer(DefaultHost, port, time.Second, zerolog.Nop())
	t.Cleanup(func() { srv.Stop() })
	return srv, fmt.Sprintf("http://127.0.0.1:%d", port)
}

func httpDo(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestPortProbe(t *testing.T) {
	port := freePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	available, err := isPortAvailable(addr)
	require.NoError(t, err)
	assert.True(t, available)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln.Close()

	available, err = isPortAvailable(addr)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestServerCRUD(t *testing.T) {
	srv, base := newTestServer(t)
	require.NoError(t, srv.Start(nil))

	// Empty registry to start with.
	resp, data := httpDo(t, http.MethodGet, base+"/workers", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "{}", string(data))

	// Insert two workers.
	resp, data = httpDo(t, http.MethodPost, base+"/workers/a", WorkerDefinition{Port: intp(8787), Mode: ModeLocal})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(data))
	httpDo(t, http.MethodPost, base+"/workers/b", WorkerDefinition{Protocol: ProtocolHTTPS})

	var reg WorkerRegistry
	_, data = httpDo(t, http.MethodGet, base+"/workers", nil)
	require.NoError(t, json.Unmarshal(data, &reg))
	require.Len(t, reg, 2)
	assert.Equal(t, 8787, *reg["a"].Port)
	assert.Equal(t, ModeLocal, reg["a"].Mode)

	// Overwrite: last write wins.
	httpDo(t, http.MethodPost, base+"/workers/a", WorkerDefinition{Port: intp(9999)})
	_, data = httpDo(t, http.MethodGet, base+"/workers", nil)
	require.NoError(t, json.Unmarshal(data, &reg))
	assert.Equal(t, 9999, *reg["a"].Port)

	// Delete one.
	resp, data = httpDo(t, http.MethodDelete, base+"/workers/a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", string(data))
	_, data = httpDo(t, http.MethodGet, base+"/workers", nil)
	reg = nil // Unmarshal merges into a non-nil map; start fresh.
	require.NoError(t, json.Unmarshal(data, &reg))
	assert.NotContains(t, reg, "a")
	assert.Contains(t, reg, "b")

	// Deleting an absent worker is fine.
	resp, _ = httpDo(t, http.MethodDelete, base+"/workers/never", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Clear everything.
	resp, _ = httpDo(t, http.MethodDelete, base+"/workers", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, data = httpDo(t, http.MethodGet, base+"/workers", nil)
	assert.JSONEq(t, "{}", string(data))
}

func TestServerRejectsMalformedDefinition(t *testing.T) {
	srv, base := newTestServer(t)
	require.NoError(t, srv.Start(nil))

	req, err := http.NewRequest(http.MethodPost, base+"/workers/a", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerIdempotentStart(t *testing.T) {
	srv, base := newTestServer(t)
	require.NoError(t, srv.Start(nil))
	require.NoError(t, srv.Start(nil))
	assert.True(t, srv.Running())

	httpDo(t, http.MethodPost, base+"/workers/a", WorkerDefinition{})
	_, data := httpDo(t, http.MethodGet, base+"/workers", nil)
	var reg WorkerRegistry
	require.NoError(t, json.Unmarshal(data, &reg))
	assert.Contains(t, reg, "a")
}

func TestServerPortContention(t *testing.T) {
	port := freePort(t)
	first := NewServer(DefaultHost, port, time.Second, zerolog.Nop())
	second := NewServer(DefaultHost, port, time.Second, zerolog.Nop())
	t.Cleanup(func() { first.Stop(); second.Stop() })

	require.NoError(t, first.Start(nil))
	require.NoError(t, second.Start(nil))

	assert.True(t, first.Running())
	assert.False(t, second.Running())
	assert.Nil(t, second.Store())
}

func TestServerSeededState(t *testing.T) {
	srv, base := newTestServer(t)
	require.NoError(t, srv.Start(WorkerRegistry{"seeded": {Port: intp(1234)}}))

	var reg WorkerRegistry
	_, data := httpDo(t, http.MethodGet, base+"/workers", nil)
	require.NoError(t, json.Unmarshal(data, &reg))
	require.Contains(t, reg, "seeded")
	assert.Equal(t, 1234, *reg["seeded"].Port)
}

func TestServerStopReleasesPort(t *testing.T) {
	srv, base := newTestServer(t)
	require.NoError(t, srv.Start(nil))
	require.NoError(t, srv.Stop())
	assert.False(t, srv.Running())

	_, err := http.Get(base + "/workers")
	require.Error(t, err)

	// The port can be claimed again.
	require.NoError(t, srv.Start(nil))
	_, data := httpDo(t, http.MethodGet, base+"/workers", nil)
	assert.JSONEq(t, "{}", string(data))
}
