package http

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(Config{}, http.NotFoundHandler(), nil)
	assert.Equal(t, ":8080", s.Addr())
	assert.Equal(t, 30*time.Second, s.server.ReadTimeout)
	assert.Equal(t, 1<<20, s.server.MaxHeaderBytes)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, http.NotFoundHandler(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_RunReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := NewServer(Config{Addr: ln.Addr().String()}, http.NotFoundHandler(), nil)
	err = s.Run(context.Background(), time.Second)
	assert.Error(t, err)
}
