package microservice_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseServer_Lifecycle(t *testing.T) {
	// Arrange
	server := microservice.NewBaseServer(zerolog.Nop(), ":0")
	server.Router().Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	// Act
	require.NoError(t, server.Start())
	port := server.GetHTTPPort()
	require.NotEqual(t, ":0", port)

	// Assert
	for path, want := range map[string]string{"/healthz": "OK", "/ping": "pong"} {
		resp, err := http.Get("http://localhost" + port + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, want, string(body))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	_, err := http.Get("http://localhost" + port + "/healthz")
	assert.Error(t, err)
}

func TestBaseServer_PortInUse(t *testing.T) {
	first := microservice.NewBaseServer(zerolog.Nop(), ":0")
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	second := microservice.NewBaseServer(zerolog.Nop(), first.GetHTTPPort())
	require.Error(t, second.Start())
}

func TestBaseServer_Readiness(t *testing.T) {
	server := microservice.NewBaseServer(zerolog.Nop(), ":0")
	var failing atomic.Bool
	server.AddReadinessCheck(func() error {
		if failing.Load() {
			return errors.New("cache not ready")
		}
		return nil
	})

	require.NoError(t, server.Start())
	url := "http://localhost" + server.GetHTTPPort() + "/readyz"

	status := func() int {
		resp, err := http.Get(url)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, status())

	failing.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, status())

	require.NoError(t, server.Shutdown(context.Background()))
}
