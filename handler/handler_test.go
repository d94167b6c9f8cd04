package handler

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyredis/tinyredis/command"
	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/log"
	"github.com/tinyredis/tinyredis/rdb"
	"github.com/tinyredis/tinyredis/resp"
)

func testLogger() log.Logger { return log.New(log.Options{}) }

func TestStartReplaysAOFWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.aof")
	body := resp.EncodeCommandArray([]byte("SET"), []byte("k"), []byte("v"))
	require.NoError(t, os.WriteFile(path, body, 0o644))

	eng := keyspace.NewEngine()
	dispatcher := command.New(eng, nil, nil, nil, nil, nil, testLogger())
	h := New(eng, dispatcher, Options{AOFEnabled: true, AOFPath: path}, testLogger())

	require.NoError(t, h.Start())
	v, ok := eng.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestStartFallsBackToRDBWhenAOFDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")

	seed := keyspace.NewEngine()
	seed.Set("seeded", []byte("value"), nil)
	require.NoError(t, rdb.Save(path, seed))

	eng := keyspace.NewEngine()
	dispatcher := command.New(eng, nil, nil, nil, nil, nil, testLogger())
	h := New(eng, dispatcher, Options{RDBEnabled: true, RDBPath: path}, testLogger())

	require.NoError(t, h.Start())
	v, ok := eng.Get("seeded")
	require.True(t, ok)
	require.Equal(t, "value", string(v))
}

func TestHandleRequestResponseRoundTrip(t *testing.T) {
	eng := keyspace.NewEngine()
	dispatcher := command.New(eng, nil, nil, nil, nil, nil, testLogger())
	h := New(eng, dispatcher, Options{}, testLogger())

	client, srv := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Handle(ctx, srv)
		close(done)
	}()

	_, err := client.Write(resp.EncodeCommandArray([]byte("SET"), []byte("a"), []byte("1")))
	require.NoError(t, err)

	reader := resp.NewReader()
	buf := make([]byte, 4096)
	readOne := func() *resp.Value {
		for {
			v, _, perr := reader.TryParseOne()
			if perr == resp.ErrIncomplete {
				n, rerr := client.Read(buf)
				require.NoError(t, rerr)
				reader.Feed(buf[:n])
				continue
			}
			require.NoError(t, perr)
			return v
		}
	}
	v := readOne()
	require.Equal(t, resp.SimpleString, v.Type)
	require.Equal(t, "OK", string(v.Str))

	_, err = client.Write(resp.EncodeCommandArray([]byte("GET"), []byte("a")))
	require.NoError(t, err)
	v = readOne()
	require.Equal(t, resp.Bulk, v.Type)
	require.Equal(t, "1", string(v.Str))

	cancel()
	client.Close()
	<-done
}

type fakeSync struct {
	called chan struct{}
}

func (f *fakeSync) HandleSync(ctx context.Context, conn net.Conn, psync bool, offset int64) error {
	close(f.called)
	buf := make([]byte, 16)
	for {
		if _, err := conn.Read(buf); err != nil {
			return nil
		}
	}
}

func TestHandleStopsLoopOnSyncHandoff(t *testing.T) {
	eng := keyspace.NewEngine()
	fs := &fakeSync{called: make(chan struct{})}
	dispatcher := command.New(eng, nil, nil, fs, nil, nil, testLogger())
	h := New(eng, dispatcher, Options{}, testLogger())

	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		h.Handle(context.Background(), srv)
		close(done)
	}()

	_, err := client.Write(resp.EncodeCommandArray([]byte("SYNC")))
	require.NoError(t, err)

	select {
	case <-fs.called:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSync was never invoked")
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler loop did not return after sync handoff")
	}
}
