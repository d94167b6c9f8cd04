package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyredis/tinyredis/config"
	"github.com/tinyredis/tinyredis/resp"
)

func TestConstructAndServePingRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Port = 17391
	cfg.BindAddress = "127.0.0.1"
	cfg.RDB.Enabled = false
	cfg.AOF.Enabled = false

	built, err := Construct(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- built.Run(cfg.Address()) }()

	var conn net.Conn
	require.Eventually(t, func() bool {
		c, derr := net.Dial("tcp", cfg.Address())
		if derr != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = conn.Write(resp.EncodeCommandArray([]byte("PING")))
	require.NoError(t, err)

	reader := resp.NewReader()
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	reader.Feed(buf[:n])
	v, _, err := reader.TryParseOne()
	require.NoError(t, err)
	require.Equal(t, resp.SimpleString, v.Type)
	require.Equal(t, "PONG", string(v.Str))

	built.Server.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
