package networking

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(NewWebsocketHandlerFunc(func(r *http.Request) (WebsocketMessageHandler, int, error) {
		if strings.HasSuffix(r.URL.Path, "/unknown") {
			return nil, http.StatusNotFound, errors.New("call not found")
		}
		h := NewChanHandler(4)
		go func() {
			defer close(h.Writer)
			for msg := range h.Reader {
				h.Writer <- bytes.ToUpper(msg)
			}
		}()
		return h, 0, nil
	})))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestDialEcho(t *testing.T) {
	server := newEchoServer(t)
	client := NewChanHandler(4)

	done := make(chan error, 1)
	go func() {
		done <- Dial(context.Background(), wsURL(server, "/ws/voice/abc"), client)
	}()

	client.Writer <- []byte("hello")
	select {
	case msg := <-client.Reader:
		assert.Equal(t, "HELLO", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	close(client.Writer)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dial did not return")
	}
	_, ok := <-client.Reader
	assert.False(t, ok)
}

func TestDialCancel(t *testing.T) {
	server := newEchoServer(t)
	client := NewChanHandler(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Dial(ctx, wsURL(server, "/ws/voice/abc"), client)
	}()
	client.Writer <- []byte("ping")
	<-client.Reader

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("dial did not return")
	}
	close(client.Writer)
}

func TestRejectedConnection(t *testing.T) {
	server := newEchoServer(t)
	err := Dial(context.Background(), wsURL(server, "/ws/voice/unknown"), NewChanHandler(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestGetClientIpAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", getClientIpAddress(r))

	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "1.2.3.4", getClientIpAddress(r))

	r.Header.Set("X-Real-IP", "5.6.7.8")
	assert.Equal(t, "5.6.7.8", getClientIpAddress(r))
}

func TestDialFailureClosesReader(t *testing.T) {
	server := newEchoServer(t)
	client := NewChanHandler(1)
	err := Dial(context.Background(), wsURL(server, "/ws/voice/unknown"), client)
	require.Error(t, err)

	_, ok := <-client.Reader
	assert.False(t, ok)
	// Nobody reads the writer anymore, still it must not block.
	client.Writer <- []byte("lost")
	client.Writer <- []byte("lost")
	close(client.Writer)
}
