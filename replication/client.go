package replication

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tinyredis/tinyredis/command"
	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/lib/pool"
	"github.com/tinyredis/tinyredis/log"
	"github.com/tinyredis/tinyredis/rdb"
	"github.com/tinyredis/tinyredis/resp"
)

// ClientOptions configures a replica's connection to its master.
type ClientOptions struct {
	MasterHost string
	MasterPort int
}

// Client is the replica side of the replication channel: it connects to a
// master once, issues SYNC or PSYNC, loads the returned RDB bulk, then
// applies the subsequent command stream directly against its local
// engine. It never reconnects on its own — matching
// replica_client.cpp's threadMain, which makes exactly one connection
// attempt per start and exits its loop for good on any read failure.
type Client struct {
	opts       ClientOptions
	eng        *keyspace.Engine
	dispatcher *command.Dispatcher
	log        log.Logger

	lastOffset atomic.Int64
	stopped    atomic.Bool
	wg         sync.WaitGroup

	mu   sync.Mutex
	conn net.Conn
}

// NewClient builds a replica client. Commands received from the master
// are applied through a private command.Dispatcher with no AOF writer,
// replicator, or sync handler configured — a replica only ever mutates
// its own engine, it never re-forwards what it receives.
func NewClient(opts ClientOptions, eng *keyspace.Engine, logger log.Logger) *Client {
	return &Client{
		opts:       opts,
		eng:        eng,
		dispatcher: command.New(eng, nil, nil, nil, nil, nil, logger),
		log:        logger,
	}
}

// Start launches the replica's single connection attempt on the worker
// pool. Call Stop to close the connection and join.
func (c *Client) Start() {
	c.wg.Add(1)
	pool.Submit(c.run)
}

// Stop closes the master connection (unblocking any in-flight Read) and
// waits for run to return.
func (c *Client) Stop() {
	c.stopped.Store(true)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()

	addr := fmt.Sprintf("%s:%d", c.opts.MasterHost, c.opts.MasterPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		c.log.Errorf("replication: connect to master %s failed: %s", addr, err.Error())
		return
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	offset := c.lastOffset.Load()
	var handshake []byte
	if offset > 0 {
		handshake = resp.EncodeCommandArray([]byte("PSYNC"), []byte(strconv.FormatInt(offset, 10)))
	} else {
		handshake = resp.EncodeCommandArray([]byte("SYNC"))
	}
	if _, err := conn.Write(handshake); err != nil {
		c.log.Errorf("replication: send sync handshake failed: %s", err.Error())
		return
	}

	reader := resp.NewReader()
	buf := make([]byte, 4096)
	for !c.stopped.Load() {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		reader.Feed(buf[:n])
		for {
			v, _, err := reader.TryParseOne()
			if err == resp.ErrIncomplete {
				break
			}
			if err != nil {
				c.log.Errorf("replication: protocol error from master: %s", err.Error())
				return
			}
			c.applyValue(v)
		}
	}
}

// applyValue dispatches a value received from the master by its parsed
// type with a single top-level switch — the original's nested
// kSimpleString-inside-kArray check made that branch unreachable, so
// "+OFFSET n" frames were silently dropped.
func (c *Client) applyValue(v *resp.Value) {
	switch v.Type {
	case resp.Bulk:
		if err := rdb.LoadBytes(v.Str, c.eng); err != nil {
			c.log.Errorf("replication: load rdb snapshot failed: %s", err.Error())
		}
	case resp.Array:
		if len(v.Items) == 0 {
			return
		}
		argv := make([][]byte, len(v.Items))
		for i, it := range v.Items {
			argv[i] = it.Str
		}
		if _, err := c.dispatcher.Do(context.Background(), nil, argv, nil); err != nil {
			c.log.Errorf("replication: apply command failed: %s", err.Error())
		}
	case resp.SimpleString:
		var n int64
		if _, err := fmt.Sscanf(string(v.Str), "OFFSET %d", &n); err == nil {
			c.lastOffset.Store(n)
		}
	}
}
