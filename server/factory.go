package server

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/tinyredis/tinyredis/aof"
	"github.com/tinyredis/tinyredis/command"
	"github.com/tinyredis/tinyredis/config"
	"github.com/tinyredis/tinyredis/handler"
	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/log"
	"github.com/tinyredis/tinyredis/rdb"
	"github.com/tinyredis/tinyredis/replication"
)

// aofHolder boxes the optional AOF writer so dig always has a concrete
// type to provide, regardless of whether AOF is enabled; a zero-value
// holder (writer == nil) means disabled.
type aofHolder struct {
	writer *aof.Writer
}

// newContainer wires the server's dependency graph with dig. The AOF
// provider returns a disabled placeholder when AOF is off rather than
// omitting itself from the graph; RDB is wired inside newDispatcher; the
// master-side Replicator is always provided.
func newContainer(cfg *config.Config) (*dig.Container, error) {
	c := dig.New()

	providers := []interface{}{
		func() *config.Config { return cfg },
		newLogger,
		keyspace.NewEngine,
		newReplicator,
		newAOFWriter,
		newDispatcher,
		newHandler,
		New,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, fmt.Errorf("server: provide: %w", err)
		}
	}
	return c, nil
}

func newLogger(cfg *config.Config) log.Logger {
	return log.New(log.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Level:      cfg.Log.Level,
	})
}

func newReplicator(eng *keyspace.Engine, logger log.Logger) *replication.Replicator {
	return replication.New(eng, logger)
}

func newAOFWriter(cfg *config.Config, eng *keyspace.Engine, logger log.Logger) (*aofHolder, error) {
	if !cfg.AOF.Enabled {
		return &aofHolder{}, nil
	}
	w, err := aof.New(aof.Options{
		Enabled:               cfg.AOF.Enabled,
		Dir:                   cfg.AOF.Dir,
		Filename:              cfg.AOF.Filename,
		Mode:                  aof.Mode(cfg.AOF.Mode),
		AutoRewriteMinSize:    cfg.AOF.AutoRewriteMinSize,
		AutoRewritePercentage: cfg.AOF.AutoRewritePercentage,
	}, eng, logger)
	if err != nil {
		return nil, err
	}
	return &aofHolder{writer: w}, nil
}

// newDispatcher wires the command table to whichever of AOF and RDB are
// actually enabled. A disabled feature leaves the matching dispatcher
// dependency nil, which command.Dispatcher already treats as "not
// configured" (BGSAVE/BGREWRITEAOF reply with an error rather than
// panicking, and writes skip the AOF). The replicator is always wired, as
// both Replicator and SyncHandler, so SYNC/PSYNC are always accepted.
func newDispatcher(cfg *config.Config, eng *keyspace.Engine, aofH *aofHolder, repl *replication.Replicator, logger log.Logger) *command.Dispatcher {
	var aofIface command.AOFWriter
	if aofH.writer != nil {
		aofIface = aofH.writer
	}

	var saveNow func() error
	if cfg.RDB.Enabled {
		path := rdb.Path(rdb.Options{Dir: cfg.RDB.Dir, Filename: cfg.RDB.Filename})
		saveNow = func() error { return rdb.Save(path, eng) }
	}

	var rewriteAOF func() error
	if aofH.writer != nil {
		rewriteAOF = aofH.writer.BgRewrite
	}

	return command.New(eng, aofIface, repl, repl, saveNow, rewriteAOF, logger)
}

func newHandler(cfg *config.Config, eng *keyspace.Engine, dispatcher *command.Dispatcher, logger log.Logger) *handler.Handler {
	return handler.New(eng, dispatcher, handler.Options{
		AOFEnabled: cfg.AOF.Enabled,
		AOFPath:    aof.Path(aof.Options{Dir: cfg.AOF.Dir, Filename: cfg.AOF.Filename}),
		RDBEnabled: cfg.RDB.Enabled,
		RDBPath:    rdb.Path(rdb.Options{Dir: cfg.RDB.Dir, Filename: cfg.RDB.Filename}),
	}, logger)
}

// Built holds every top-level component Construct assembled, so the
// caller can run the accept loop and still reach the pieces it must shut
// down alongside it (the AOF writer and, on a replica, the master
// connection).
type Built struct {
	Server    *Server
	Client    *replication.Client
	AOFWriter *aof.Writer
	Logger    log.Logger
	Engine    *keyspace.Engine
}

// Construct builds the full dependency graph for cfg.
func Construct(cfg *config.Config) (*Built, error) {
	container, err := newContainer(cfg)
	if err != nil {
		return nil, err
	}

	b := &Built{}
	var aofH *aofHolder
	err = container.Invoke(func(s *Server, a *aofHolder, l log.Logger, eng *keyspace.Engine) {
		b.Server = s
		aofH = a
		b.Logger = l
		b.Engine = eng
	})
	if err != nil {
		return nil, fmt.Errorf("server: invoke: %w", err)
	}
	b.AOFWriter = aofH.writer

	if cfg.Replica.Enabled {
		b.Client = replication.NewClient(replication.ClientOptions{
			MasterHost: cfg.Replica.MasterHost,
			MasterPort: cfg.Replica.MasterPort,
		}, b.Engine, b.Logger)
	}

	return b, nil
}

// Run starts the replica client (if configured), serves address until a
// shutdown signal arrives, then stops the replica client and flushes the
// AOF writer.
func (b *Built) Run(address string) error {
	if b.Client != nil {
		b.Client.Start()
	}
	err := b.Server.Serve(address)
	if b.Client != nil {
		b.Client.Stop()
	}
	if b.AOFWriter != nil {
		b.AOFWriter.Shutdown()
	}
	return err
}
