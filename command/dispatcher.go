// Package command implements the dispatcher: a table of case-insensitive,
// arity-checked command handlers that translate a parsed RESP command line
// into keyspace engine calls, forwarding successful writes to the AOF
// writer and to connected replicas.
package command

import (
	"context"
	"net"
	"strings"

	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/log"
)

// AOFWriter is the subset of aof.Writer the dispatcher depends on.
type AOFWriter interface {
	AppendRaw(raw []byte) int64
}

// Replicator forwards a successfully applied write command's exact wire
// bytes to every connected replica, advancing the master replication
// offset.
type Replicator interface {
	Forward(raw []byte)
}

// SyncHandler takes over a connection for SYNC/PSYNC: send a full RDB bulk
// (PSYNC passes its requested offset along) then stream forwarded writes
// until the connection closes. Dispatcher.Do blocks in this call for as
// long as the handoff owns the connection, then returns (nil, nil).
type SyncHandler interface {
	HandleSync(ctx context.Context, conn net.Conn, psync bool, offset int64) error
}

// Dispatcher resolves a parsed command line against the keyspace engine
// and, for commands that mutate it, against the AOF writer and replicator.
type Dispatcher struct {
	eng        *keyspace.Engine
	aof        AOFWriter
	repl       Replicator
	sync       SyncHandler
	saveNow    func() error
	rewriteAOF func() error
	log        log.Logger
}

// New builds a Dispatcher. aof, repl and sync may be nil (a replay-only
// dispatcher used by AOF load needs none of them); saveNow/rewriteAOF may
// be nil too, in which case BGSAVE/BGREWRITEAOF report an IO error.
func New(eng *keyspace.Engine, aof AOFWriter, repl Replicator, sync SyncHandler, saveNow, rewriteAOF func() error, logger log.Logger) *Dispatcher {
	return &Dispatcher{eng: eng, aof: aof, repl: repl, sync: sync, saveNow: saveNow, rewriteAOF: rewriteAOF, log: logger}
}

type handlerFunc func(d *Dispatcher, args [][]byte) ([]byte, error)

// cmdSpec describes one command's arity bounds (counted including the
// command name itself) and whether a successful call is a write that must
// be forwarded to AOF and replicas.
type cmdSpec struct {
	minArgs int
	maxArgs int // -1 means unbounded
	write   bool
	handle  handlerFunc
}

var table = map[string]cmdSpec{
	"PING":         {1, 2, false, cmdPing},
	"ECHO":         {2, 2, false, cmdEcho},
	"SELECT":       {2, 2, false, cmdSelect},
	"SET":          {3, 5, true, cmdSet},
	"GET":          {2, 2, false, cmdGet},
	"DEL":          {2, -1, true, cmdDel},
	"EXISTS":       {2, 2, false, cmdExists},
	"EXPIRE":       {3, 3, true, cmdExpire},
	"EXPIREAT":     {3, 3, true, cmdExpireAt},
	"TTL":          {2, 2, false, cmdTTL},
	"KEYS":         {2, 2, false, cmdKeys},
	"HSET":         {4, 4, true, cmdHSet},
	"HGET":         {3, 3, false, cmdHGet},
	"HDEL":         {3, -1, true, cmdHDel},
	"HEXISTS":      {3, 3, false, cmdHExists},
	"HGETALL":      {2, 2, false, cmdHGetAll},
	"HLEN":         {2, 2, false, cmdHLen},
	"ZADD":         {4, 4, true, cmdZAdd},
	"ZREM":         {3, -1, true, cmdZRem},
	"ZRANGE":       {4, 4, false, cmdZRange},
	"ZSCORE":       {3, 3, false, cmdZScore},
	"BGSAVE":       {1, 1, false, cmdBgSave},
	"BGREWRITEAOF": {1, 1, false, cmdBgRewriteAOF},
}

// Do resolves argv[0] case-insensitively, validates arity, and runs the
// matching handler. conn is only used by SYNC/PSYNC, which hand the
// connection off to the configured SyncHandler instead of returning a
// reply — Do returns (nil, nil) in that case, signaling the caller's
// per-connection loop to stop driving the RESP protocol on conn itself.
func (d *Dispatcher) Do(ctx context.Context, conn net.Conn, argv [][]byte, raw []byte) ([]byte, error) {
	if len(argv) == 0 {
		return replyErr(Syntax, "empty command"), nil
	}
	name := strings.ToUpper(string(argv[0]))

	if name == "SYNC" || name == "PSYNC" {
		return d.doSync(ctx, conn, name, argv)
	}

	spec, ok := table[name]
	if !ok {
		return replyErr(Syntax, "unknown command '"+name+"'"), nil
	}
	if len(argv) < spec.minArgs || (spec.maxArgs >= 0 && len(argv) > spec.maxArgs) {
		return replyErr(Syntax, "wrong number of arguments for '"+strings.ToLower(name)+"'"), nil
	}

	reply, err := spec.handle(d, argv)
	if err != nil {
		if cmdErr, ok := err.(*Error); ok {
			return replyErr(cmdErr.Kind, cmdErr.Msg), nil
		}
		return replyErr(InternalInvariant, err.Error()), nil
	}

	if spec.write {
		if d.aof != nil {
			d.aof.AppendRaw(raw)
		}
		if d.repl != nil {
			d.repl.Forward(raw)
		}
	}
	return reply, nil
}

func (d *Dispatcher) doSync(ctx context.Context, conn net.Conn, name string, argv [][]byte) ([]byte, error) {
	if d.sync == nil {
		return replyErr(IO, "replication not configured"), nil
	}
	psync := name == "PSYNC"
	var offset int64
	if psync {
		if len(argv) != 2 {
			return replyErr(Syntax, "wrong number of arguments for 'psync'"), nil
		}
		n, ok := parseInt(argv[1])
		if !ok {
			return replyErr(Syntax, "value is not an integer or out of range"), nil
		}
		offset = n
	} else if len(argv) != 1 {
		return replyErr(Syntax, "wrong number of arguments for 'sync'"), nil
	}
	if err := d.sync.HandleSync(ctx, conn, psync, offset); err != nil {
		d.log.Errorf("command: sync handoff failed: %s", err.Error())
	}
	return nil, nil
}
