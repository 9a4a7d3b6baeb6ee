package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsTimeouts(t *testing.T) {
	s := New(":0", http.NotFoundHandler())
	assert.Equal(t, readHeaderTimeout, s.httpServer.ReadHeaderTimeout)
	assert.Equal(t, idleTimeout, s.httpServer.IdleTimeout)
	assert.Zero(t, s.httpServer.WriteTimeout)
}

func TestShutdownRunsHooks(t *testing.T) {
	var closed atomic.Int32
	s := New(":0", http.NotFoundHandler(), func() { closed.Add(1) }, nil)

	require.NoError(t, s.Shutdown(context.Background()))
	require.Eventually(t, func() bool { return closed.Load() == 1 }, time.Second, 10*time.Millisecond)
}
