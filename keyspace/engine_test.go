package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyredis/tinyredis/skiplist"
)

func ttl(ms int64) *int64 { return &ms }

func TestStringSetGetDel(t *testing.T) {
	e := NewEngine()
	e.Set("k", []byte("v"), nil)
	v, ok := e.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", string(v))

	e.Set("k", []byte("v2"), nil)
	v, _ = e.Get("k")
	require.Equal(t, "v2", string(v))

	require.Equal(t, 1, e.Del([]string{"k", "missing"}))
	_, ok = e.Get("k")
	require.False(t, ok)
}

func TestStringTTLExpiry(t *testing.T) {
	e := NewEngine()
	e.Set("k", []byte("v"), ttl(-1000)) // already expired
	_, ok := e.Get("k")
	require.False(t, ok)
}

func TestExpireAtAbsolute(t *testing.T) {
	e := NewEngine()
	e.Set("k", []byte("v"), nil)
	require.True(t, e.ExpireAt("k", nowMs()+60_000))
	require.Greater(t, e.TTL("k"), int64(0))

	require.True(t, e.ExpireAt("k", nowMs()-60_000))
	_, ok := e.Get("k")
	require.False(t, ok)

	require.False(t, e.ExpireAt("missing", nowMs()+1000))
}

func TestTypeOf(t *testing.T) {
	e := NewEngine()
	e.Set("s", []byte("v"), nil)
	e.HSet("h", "f", "v")
	e.ZAdd("z", 1, "m")

	kind, ok := e.TypeOf("s")
	require.True(t, ok)
	require.Equal(t, "string", kind)

	kind, ok = e.TypeOf("h")
	require.True(t, ok)
	require.Equal(t, "hash", kind)

	kind, ok = e.TypeOf("z")
	require.True(t, ok)
	require.Equal(t, "zset", kind)

	_, ok = e.TypeOf("missing")
	require.False(t, ok)
}

func TestExpireGeneralizesAcrossTypes(t *testing.T) {
	e := NewEngine()
	e.HSet("h", "f", "v")
	require.True(t, e.Expire("h", 100))
	require.EqualValues(t, 100, e.TTL("h"))

	e.ZAdd("z", 1, "m")
	require.True(t, e.Expire("z", -1))
	require.EqualValues(t, -1, e.TTL("z"))

	require.False(t, e.Expire("missing", 10))
	require.EqualValues(t, -2, e.TTL("missing"))
}

func TestExistsAcrossTypes(t *testing.T) {
	e := NewEngine()
	require.False(t, e.Exists("k"))
	e.Set("k", []byte("v"), nil)
	require.True(t, e.Exists("k"))
	e.Del([]string{"k"})

	e.HSet("h", "f", "v")
	require.True(t, e.Exists("h"))

	e.ZAdd("z", 1, "m")
	require.True(t, e.Exists("z"))
}

func TestHashOps(t *testing.T) {
	e := NewEngine()
	require.Equal(t, 1, e.HSet("h", "f1", "v1"))
	require.Equal(t, 0, e.HSet("h", "f1", "v1b"))
	require.Equal(t, 1, e.HSet("h", "f2", "v2"))

	v, ok := e.HGet("h", "f1")
	require.True(t, ok)
	require.Equal(t, "v1b", v)

	require.True(t, e.HExists("h", "f2"))
	require.Equal(t, 2, e.HLen("h"))

	flat := e.HGetAllFlat("h")
	require.Len(t, flat, 4)

	require.Equal(t, 1, e.HDel("h", []string{"f1", "missing"}))
	require.Equal(t, 1, e.HLen("h"))

	require.Equal(t, 1, e.HDel("h", []string{"f2"}))
	require.False(t, e.Exists("h")) // emptied hash is removed
}

func TestZSetCompactRepresentation(t *testing.T) {
	e := NewEngine()
	require.Equal(t, 1, e.ZAdd("z", 3, "c"))
	require.Equal(t, 1, e.ZAdd("z", 1, "a"))
	require.Equal(t, 1, e.ZAdd("z", 2, "b"))
	require.Equal(t, 0, e.ZAdd("z", 5, "b")) // update existing

	require.Equal(t, []string{"a", "c", "b"}, e.ZRange("z", 0, -1))

	score, ok := e.ZScore("z", "b")
	require.True(t, ok)
	require.Equal(t, 5.0, score)

	require.Equal(t, 1, e.ZRem("z", []string{"a", "missing"}))
	require.Equal(t, []string{"c", "b"}, e.ZRange("z", 0, -1))
}

func TestZSetPromotesPastThreshold(t *testing.T) {
	e := NewEngine()
	for i := 0; i < zsetVectorThreshold+1; i++ {
		e.ZAdd("z", float64(i), memberFor(i))
	}
	r := e.zsets["z"]
	require.True(t, r.UseSkiplist)
	require.Nil(t, r.Items)

	out := e.ZRange("z", 0, 2)
	require.Equal(t, []string{memberFor(0), memberFor(1), memberFor(2)}, out)

	require.Equal(t, 1, e.ZRem("z", []string{memberFor(0)}))
	_, ok := e.ZScore("z", memberFor(0))
	require.False(t, ok)
}

func TestZSetEmptiedRecordRemoved(t *testing.T) {
	e := NewEngine()
	e.ZAdd("z", 1, "a")
	e.ZRem("z", []string{"a"})
	require.False(t, e.Exists("z"))
}

func TestListKeysDedupedSortedUnion(t *testing.T) {
	e := NewEngine()
	e.Set("b", []byte("1"), nil)
	e.HSet("a", "f", "v")
	e.ZAdd("c", 1, "m")
	require.Equal(t, []string{"a", "b", "c"}, e.ListKeys())
}

func TestExpireScanStepRemovesExpired(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 10; i++ {
		e.Set(memberFor(i), []byte("v"), ttl(-1))
	}
	e.Set("keep", []byte("v"), nil)

	total := 0
	for i := 0; i < 10 && total < 10; i++ {
		total += e.ExpireScanStep(3)
	}
	require.Equal(t, 10, total)
	require.True(t, e.Exists("keep"))
}

func TestSnapshotsAndRewriteCommands(t *testing.T) {
	e := NewEngine()
	e.Set("s", []byte("v"), nil)
	e.HSet("h", "f", "v")
	e.ZAdd("z", 1, "a")
	e.ZAdd("z", 2, "b")

	ss := e.SnapshotStrings()
	require.Len(t, ss, 1)
	cmds := ss[0].ToRewriteCommands()
	require.Equal(t, "SET", string(cmds[0][0]))

	hs := e.SnapshotHashes()
	require.Len(t, hs, 1)
	hcmds := hs[0].ToRewriteCommands()
	require.Equal(t, "HSET", string(hcmds[0][0]))

	zs := e.SnapshotZSets()
	require.Len(t, zs, 1)
	require.Equal(t, []skiplist.ScoredPair{{Score: 1, Member: "a"}, {Score: 2, Member: "b"}}, zs[0].Items)
}

func memberFor(i int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return "m" + string(alphabet[i%len(alphabet)]) + string(alphabet[(i/len(alphabet))%len(alphabet)])
}
