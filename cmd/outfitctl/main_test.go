package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sdko-org/outfit-relay/internal/config"
	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sdko-org/outfit-relay/internal/handlers"
	"github.com/sdko-org/outfit-relay/internal/overlay"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	images [][]byte
}

func (d *recordingDispatcher) SendOutfit(_ context.Context, image []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.images = append(d.images, image)
	return nil
}

func startRelay(t *testing.T) (string, *recordingDispatcher) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		AllowedOrigins:       []string{"http://localhost"},
		SharedSecret:         "s3cret",
		MaxRequestsPerMinute: 5,
		MaxRequestsPerHour:   20,
		MaxPayloadBytes:      1 << 20,
		EmailTimeout:         time.Second,
	}
	g, err := guard.New(cfg.GuardConfig(), nil, guard.WithLogger(logger))
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	h := handlers.NewRelayHandler(logger, cfg, g, overlay.NewMemoryStore(), dispatcher, nil, nil)
	r := mux.NewRouter()
	handlers.RegisterRoutes(r, h, nil)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		h.Wait()
	})
	return srv.URL, dispatcher
}

func runCLI(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server, "--token", "s3cret", "--origin", "http://localhost"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHealthCommand(t *testing.T) {
	server, _ := startRelay(t)

	out, err := runCLI(t, server, "health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestSendCommand(t *testing.T) {
	server, dispatcher := startRelay(t)
	path := filepath.Join(t.TempDir(), "outfit.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0o600))

	out, err := runCLI(t, server, "send", "--image", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Outfit sent")

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.images, 1)
	assert.Equal(t, []byte("\x89PNG fake"), dispatcher.images[0])

	_, err = runCLI(t, server, "send")
	assert.EqualError(t, err, "--image is required")
}

func TestOverlayCommands(t *testing.T) {
	server, _ := startRelay(t)

	out, err := runCLI(t, server, "overlay", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "No outfit set")

	path := filepath.Join(t.TempDir(), "outfit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shirt":"red-tee.png","accessories":["cap.png","watch.png"]}`), 0o600))

	out, err = runCLI(t, server, "overlay", "set", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Overlay updated")

	out, err = runCLI(t, server, "overlay", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "red-tee.png")
	assert.Contains(t, out, "cap.png, watch.png")
	assert.Contains(t, out, "Updated ")

	out, err = runCLI(t, server, "overlay", "get", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"shirt":"red-tee.png","accessories":["cap.png","watch.png"]}`, strings.TrimSpace(out))

	out, err = runCLI(t, server, "overlay", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Overlay cleared")

	out, err = runCLI(t, server, "overlay", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "No outfit set")
}

func TestOverlaySetRejectsInvalidJSON(t *testing.T) {
	server, _ := startRelay(t)
	path := filepath.Join(t.TempDir(), "outfit.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"shirt":`), 0o600))

	_, err := runCLI(t, server, "overlay", "set", "--file", path)
	assert.EqualError(t, err, "outfit is not valid JSON")
}

func TestWrongTokenSurfacesReason(t *testing.T) {
	server, _ := startRelay(t)

	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--server", server, "--token", "nope", "--origin", "http://localhost", "overlay", "clear"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, guard.ErrInvalidAuthentication)
}

func TestRenderOutfit(t *testing.T) {
	out := renderOutfit([]byte(`{"shoes":"boots.png","hat":null}`))
	assert.Contains(t, out, "boots.png")
	assert.Contains(t, out, "-")
	assert.Less(t, strings.Index(out, "hat"), strings.Index(out, "shoes"))

	assert.Equal(t, `["a","b"]`, renderOutfit([]byte(`["a","b"]`)))
	assert.Equal(t, "snapshot.png", formatItem("snapshot.png"))
}
