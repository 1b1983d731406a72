package httputil

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPanics(t *testing.T) {
	h := http.NotFoundHandler()

	require.Panics(t, func() { New(Prm{Handler: h}) })
	require.Panics(t, func() { New(Prm{Address: "localhost:0"}) })
	require.Panics(t, func() { New(Prm{Address: "localhost:0", Handler: h}, WithShutdownTimeout(0)) })
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Prm{
		Address: l.Addr().String(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
	}, WithShutdownTimeout(time.Second))

	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(l) }()

	resp, err := http.Get("http://" + l.Addr().String())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "ok", string(body))

	require.NoError(t, srv.Shutdown())
	require.NoError(t, <-done)
}
