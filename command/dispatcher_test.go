package command

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/log"
)

func testLogger() log.Logger { return log.New(log.Options{}) }

func argv(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

type fakeAOF struct{ appended [][]byte }

func (f *fakeAOF) AppendRaw(raw []byte) int64 {
	f.appended = append(f.appended, raw)
	return int64(len(f.appended))
}

type fakeReplicator struct{ forwarded [][]byte }

func (f *fakeReplicator) Forward(raw []byte) { f.forwarded = append(f.forwarded, raw) }

type fakeSync struct {
	called bool
	psync  bool
	offset int64
}

func (f *fakeSync) HandleSync(ctx context.Context, conn net.Conn, psync bool, offset int64) error {
	f.called = true
	f.psync = psync
	f.offset = offset
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeAOF, *fakeReplicator, *fakeSync) {
	eng := keyspace.NewEngine()
	a := &fakeAOF{}
	r := &fakeReplicator{}
	s := &fakeSync{}
	d := New(eng, a, r, s,
		func() error { return nil },
		func() error { return nil },
		testLogger())
	return d, a, r, s
}

func TestPingEcho(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	reply, err := d.Do(context.Background(), nil, argv("PING"), nil)
	require.NoError(t, err)
	require.Equal(t, "+PONG\r\n", string(reply))

	reply, err = d.Do(context.Background(), nil, argv("ping", "hi"), nil)
	require.NoError(t, err)
	require.Equal(t, "$2\r\nhi\r\n", string(reply))

	reply, err = d.Do(context.Background(), nil, argv("ECHO", "hello"), nil)
	require.NoError(t, err)
	require.Equal(t, "$5\r\nhello\r\n", string(reply))
}

func TestSetGetAndExpiry(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	reply, err := d.Do(context.Background(), nil, argv("SET", "k", "v"), []byte("raw-set"))
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", string(reply))

	reply, err = d.Do(context.Background(), nil, argv("GET", "k"), nil)
	require.NoError(t, err)
	require.Equal(t, "$1\r\nv\r\n", string(reply))

	reply, err = d.Do(context.Background(), nil, argv("GET", "missing"), nil)
	require.NoError(t, err)
	require.Equal(t, "$-1\r\n", string(reply))

	_, err = d.Do(context.Background(), nil, argv("SET", "k2", "v2", "PX", "1"), []byte("raw-set-px"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	reply, err = d.Do(context.Background(), nil, argv("GET", "k2"), nil)
	require.NoError(t, err)
	require.Equal(t, "$-1\r\n", string(reply))
}

func TestArityErrors(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	reply, err := d.Do(context.Background(), nil, argv("SET", "k"), nil)
	require.NoError(t, err)
	require.Contains(t, string(reply), "SYNTAX")

	reply, err = d.Do(context.Background(), nil, argv("GET"), nil)
	require.NoError(t, err)
	require.Contains(t, string(reply), "SYNTAX")
}

func TestUnknownCommand(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	reply, err := d.Do(context.Background(), nil, argv("NOTACOMMAND"), nil)
	require.NoError(t, err)
	require.Contains(t, string(reply), "unknown command")
}

func TestWrongTypeErrors(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	_, err := d.Do(context.Background(), nil, argv("HSET", "k", "f", "v"), []byte("raw"))
	require.NoError(t, err)

	reply, err := d.Do(context.Background(), nil, argv("SET", "k", "v"), []byte("raw"))
	require.NoError(t, err)
	require.Contains(t, string(reply), "WRONGTYPE")

	reply, err = d.Do(context.Background(), nil, argv("ZADD", "k", "1", "m"), []byte("raw"))
	require.NoError(t, err)
	require.Contains(t, string(reply), "WRONGTYPE")
}

func TestDelExistsExpireTTL(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	_, _ = d.Do(context.Background(), nil, argv("SET", "k", "v"), []byte("raw"))

	reply, _ := d.Do(context.Background(), nil, argv("EXISTS", "k"), nil)
	require.Equal(t, ":1\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("EXPIRE", "k", "100"), []byte("raw-expire"))
	require.Equal(t, ":1\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("TTL", "k"), nil)
	require.Equal(t, ":100\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("DEL", "k", "missing"), []byte("raw-del"))
	require.Equal(t, ":1\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("EXISTS", "k"), nil)
	require.Equal(t, ":0\r\n", string(reply))
}

func TestHashAndZSetCommands(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	_, _ = d.Do(context.Background(), nil, argv("HSET", "h", "f", "v"), []byte("raw"))
	reply, _ := d.Do(context.Background(), nil, argv("HGET", "h", "f"), nil)
	require.Equal(t, "$1\r\nv\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("HLEN", "h"), nil)
	require.Equal(t, ":1\r\n", string(reply))

	_, _ = d.Do(context.Background(), nil, argv("ZADD", "z", "1.5", "a"), []byte("raw"))
	_, _ = d.Do(context.Background(), nil, argv("ZADD", "z", "2.5", "b"), []byte("raw"))
	reply, _ = d.Do(context.Background(), nil, argv("ZRANGE", "z", "0", "-1"), nil)
	require.Equal(t, "*2\r\n$1\r\na\r\n$1\r\nb\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("ZSCORE", "z", "a"), nil)
	want := strconv.FormatFloat(1.5, 'g', 17, 64)
	require.Equal(t, "$"+strconv.Itoa(len(want))+"\r\n"+want+"\r\n", string(reply))
}

func TestWriteCommandsForwardToAOFAndReplica(t *testing.T) {
	d, a, r, _ := newTestDispatcher()
	_, err := d.Do(context.Background(), nil, argv("SET", "k", "v"), []byte("raw-bytes"))
	require.NoError(t, err)
	require.Len(t, a.appended, 1)
	require.Equal(t, "raw-bytes", string(a.appended[0]))
	require.Len(t, r.forwarded, 1)

	_, err = d.Do(context.Background(), nil, argv("GET", "k"), []byte("raw-bytes"))
	require.NoError(t, err)
	require.Len(t, a.appended, 1, "reads must not be forwarded")
}

func TestExpireAtCommand(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	_, _ = d.Do(context.Background(), nil, argv("SET", "k", "v"), []byte("raw"))
	reply, err := d.Do(context.Background(), nil, argv("EXPIREAT", "k", "9999999999999"), []byte("raw"))
	require.NoError(t, err)
	require.Equal(t, ":1\r\n", string(reply))

	reply, _ = d.Do(context.Background(), nil, argv("TTL", "k"), nil)
	require.NotEqual(t, ":-2\r\n", string(reply))
	require.NotEqual(t, ":-1\r\n", string(reply))
}

func TestBgSaveAndBgRewriteAOFReplyImmediately(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	reply, err := d.Do(context.Background(), nil, argv("BGSAVE"), nil)
	require.NoError(t, err)
	require.Contains(t, string(reply), "Background saving started")

	reply, err = d.Do(context.Background(), nil, argv("BGREWRITEAOF"), nil)
	require.NoError(t, err)
	require.Contains(t, string(reply), "Background append only file rewriting started")
}

func TestSyncAndPsyncHandoff(t *testing.T) {
	d, _, _, s := newTestDispatcher()
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	reply, err := d.Do(context.Background(), srv, argv("SYNC"), nil)
	require.NoError(t, err)
	require.Nil(t, reply)
	require.True(t, s.called)
	require.False(t, s.psync)

	s.called = false
	reply, err = d.Do(context.Background(), srv, argv("PSYNC", "42"), nil)
	require.NoError(t, err)
	require.Nil(t, reply)
	require.True(t, s.called)
	require.True(t, s.psync)
	require.EqualValues(t, 42, s.offset)
}
