// Package handler owns the per-connection command loop: it drives a
// resp.Reader to completion on arriving bytes, resolves each frame through
// a command.Dispatcher, and writes the reply back. It also runs the
// load-on-start sequence (AOF replay, or an RDB restore when AOF is
// disabled) before the server begins accepting connections.
package handler

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tinyredis/tinyredis/aof"
	"github.com/tinyredis/tinyredis/command"
	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/log"
	"github.com/tinyredis/tinyredis/rdb"
	"github.com/tinyredis/tinyredis/resp"
)

// Options configures the load-on-start sequence. A server with AOF
// enabled replays it — the AOF is a complete, ordered command history, so
// it takes priority over an RDB snapshot the same way a real Redis server
// prefers its append-only log. RDB is only consulted when AOF is disabled.
type Options struct {
	AOFEnabled bool
	AOFPath    string
	RDBEnabled bool
	RDBPath    string
}

// Handler is the command-loop layer sitting between the server's accept
// loop and the command dispatcher.
type Handler struct {
	once sync.Once

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed atomic.Bool

	eng        *keyspace.Engine
	dispatcher *command.Dispatcher
	opts       Options
	logger     log.Logger
}

// New builds a Handler. dispatcher is the live dispatcher used for
// connected clients; it should have AOF and replication wired in whenever
// those features are enabled.
func New(eng *keyspace.Engine, dispatcher *command.Dispatcher, opts Options, logger log.Logger) *Handler {
	return &Handler{
		conns:      make(map[net.Conn]struct{}),
		eng:        eng,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
}

// Start runs the load-on-start sequence. Call it before the server begins
// accepting connections.
func (h *Handler) Start() error {
	if h.opts.AOFEnabled {
		replay := command.New(h.eng, nil, nil, nil, nil, nil, h.logger)
		return aof.Load(h.opts.AOFPath, func(raw []byte) error {
			return h.replayRaw(replay, raw)
		})
	}
	if h.opts.RDBEnabled {
		return rdb.Load(h.opts.RDBPath, h.eng)
	}
	return nil
}

// replayRaw reparses a RESP frame already validated by aof.Load and drives
// it through replay, identically to a live client's command.
func (h *Handler) replayRaw(replay *command.Dispatcher, raw []byte) error {
	r := resp.NewReader()
	r.Feed(raw)
	v, _, err := r.TryParseOne()
	if err != nil {
		h.logger.Errorf("handler: skipping unparseable aof record: %s", err.Error())
		return nil
	}
	argv, ok := asArgv(v)
	if !ok {
		h.logger.Errorf("handler: skipping non-array aof record")
		return nil
	}
	_, err = replay.Do(context.Background(), nil, argv, raw)
	return err
}

func asArgv(v *resp.Value) ([][]byte, bool) {
	if v.Type != resp.Array || len(v.Items) == 0 {
		return nil, false
	}
	argv := make([][]byte, len(v.Items))
	for i, it := range v.Items {
		argv[i] = it.Str
	}
	return argv, true
}

// Close stops tracking new connections and closes every tracked one.
func (h *Handler) Close() {
	h.once.Do(func() {
		h.logger.Warnf("handler: closing")
		h.closed.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		for conn := range h.conns {
			if err := conn.Close(); err != nil {
				h.logger.Errorf("handler: close conn %s failed: %s", conn.RemoteAddr(), err.Error())
			}
		}
		h.conns = nil
	})
}

// Handle drives conn's command loop until it disconnects, ctx is
// cancelled, or a SYNC/PSYNC handoff takes over the connection.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.conns != nil {
			delete(h.conns, conn)
		}
		h.mu.Unlock()
		_ = conn.Close()
	}()

	h.loop(ctx, conn)
}

// loop reads bytes off conn, feeding them to an incremental RESP parser,
// and dispatches each complete frame in turn. It returns when the
// connection errors or disconnects, ctx is cancelled, or the dispatcher
// hands the connection off to SYNC/PSYNC — signaled by a nil reply with a
// nil error, since by the time Do returns, HandleSync has already driven
// conn to completion on its own.
func (h *Handler) loop(ctx context.Context, conn net.Conn) {
	reader := resp.NewReader()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		v, raw, err := reader.TryParseOne()
		if err == resp.ErrIncomplete {
			n, rerr := conn.Read(buf)
			if rerr != nil {
				return
			}
			reader.Feed(buf[:n])
			continue
		}
		if err != nil {
			_, _ = conn.Write(resp.EncodeError("ERR PROTOCOL " + err.Error()))
			return
		}

		argv, ok := asArgv(v)
		if !ok {
			_, _ = conn.Write(resp.EncodeError("ERR SYNTAX invalid request"))
			continue
		}

		reply, err := h.dispatcher.Do(ctx, conn, argv, raw)
		if err != nil {
			h.logger.Errorf("handler: dispatch error: %s", err.Error())
			return
		}
		if reply == nil {
			return
		}
		if _, werr := conn.Write(reply); werr != nil {
			return
		}
	}
}
