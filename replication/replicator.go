// Package replication implements both ends of the replication channel: a
// master-side Replicator (registry of connected replica sockets plus a
// monotonic offset) and a replica-side Client (connects to a master,
// issues SYNC/PSYNC, loads the returned RDB bulk, then applies the
// following command stream against its own engine).
package replication

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/log"
	"github.com/tinyredis/tinyredis/rdb"
	"github.com/tinyredis/tinyredis/resp"
)

// Replicator is the master side of the replication channel.
type Replicator struct {
	eng *keyspace.Engine
	log log.Logger

	mu       sync.Mutex
	replicas map[net.Conn]struct{}
	offset   atomic.Int64
}

// New returns a Replicator with no replicas registered and offset 0.
func New(eng *keyspace.Engine, logger log.Logger) *Replicator {
	return &Replicator{eng: eng, log: logger, replicas: make(map[net.Conn]struct{})}
}

// Offset returns the current replication offset.
func (r *Replicator) Offset() int64 { return r.offset.Load() }

// Forward writes raw, followed by a "+OFFSET <n>" frame, to every
// registered replica, advancing the replication offset by len(raw) first
// so every replica observes the same offset for the same command. A
// replica whose write fails is dropped from the registry.
func (r *Replicator) Forward(raw []byte) {
	newOffset := r.offset.Add(int64(len(raw)))
	offsetFrame := resp.EncodeSimpleString(fmt.Sprintf("OFFSET %d", newOffset))

	r.mu.Lock()
	var dead []net.Conn
	for conn := range r.replicas {
		if _, err := conn.Write(raw); err != nil {
			dead = append(dead, conn)
			continue
		}
		if _, err := conn.Write(offsetFrame); err != nil {
			dead = append(dead, conn)
		}
	}
	for _, conn := range dead {
		delete(r.replicas, conn)
	}
	r.mu.Unlock()

	for _, conn := range dead {
		r.log.Warnf("replication: dropping replica %s after write error", conn.RemoteAddr())
	}
}

// HandleSync implements command.SyncHandler. It registers conn as a
// replica, sends a full RDB snapshot as a RESP bulk string, and then
// blocks until conn is closed by the peer, at which point it unregisters
// the replica and returns. This server keeps no replication backlog, so
// PSYNC's requested offset is accepted but cannot be used to skip ahead —
// both SYNC and PSYNC perform a full resync, matching
// replica_client.cpp's own bare-bones expectations of the master.
func (r *Replicator) HandleSync(ctx context.Context, conn net.Conn, psync bool, offset int64) error {
	r.mu.Lock()
	r.replicas[conn] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.replicas, conn)
		r.mu.Unlock()
	}()

	body := rdb.Render(r.eng)
	if _, err := conn.Write(resp.EncodeBulk(body)); err != nil {
		return fmt.Errorf("replication: send rdb bulk: %w", err)
	}
	r.log.Infof("replication: replica %s attached (psync=%v requestedOffset=%d)", conn.RemoteAddr(), psync, offset)

	// Block until the replica disconnects; Forward drives all further
	// writes to conn from the goroutine that owns the dispatcher.
	discard := bufio.NewReader(conn)
	buf := make([]byte, 512)
	for {
		if _, err := discard.Read(buf); err != nil {
			return nil
		}
	}
}
