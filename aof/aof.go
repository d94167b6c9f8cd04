// Package aof implements the append-only command log: a background writer
// goroutine, three fsync policies, and an online rewrite that shrinks the
// log to the minimal command sequence reproducing current state.
package aof

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyredis/tinyredis/keyspace"
	"github.com/tinyredis/tinyredis/lib/pool"
	"github.com/tinyredis/tinyredis/log"
	"github.com/tinyredis/tinyredis/resp"
)

// Mode selects the fsync policy.
type Mode string

const (
	Always   Mode = "always"
	EverySec Mode = "everysec"
	No       Mode = "no"
)

// Options configures the writer.
type Options struct {
	Enabled               bool
	Dir                   string
	Filename              string
	Mode                  Mode
	AutoRewriteMinSize    int64
	AutoRewritePercentage int
}

// softQueueBoundBytes is the soft pressure threshold past which AppendRaw
// in everysec/no policies logs a warning but still enqueues.
const softQueueBoundBytes = 16 << 20

type queued struct {
	data []byte
	seq  int64
}

// Writer is the append-only log's writer side: a dedicated goroutine drains
// a FIFO queue in commit order and applies the configured fsync policy.
type Writer struct {
	path string
	mode Mode
	eng  *keyspace.Engine
	log  log.Logger

	file *os.File

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []queued
	pendingBytes int64
	stopped     bool

	seqGen        atomic.Int64
	commitMu      sync.Mutex
	commitCond    *sync.Cond
	lastSyncedSeq int64
	writtenSeq    int64

	rewriting  atomic.Bool
	incrMu     sync.Mutex
	incrCmds   [][]byte

	pauseMu      sync.Mutex
	pauseCond    *sync.Cond
	pauseWriter  atomic.Bool
	writerPaused bool

	queuePressureCount atomic.Int64

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// Path returns the log's on-disk path.
func Path(opts Options) string {
	if opts.Dir == "" {
		return opts.Filename
	}
	return filepath.Join(opts.Dir, opts.Filename)
}

// New opens (creating if absent) the log file and starts its writer
// goroutine, and its fsync ticker under the everysec policy.
func New(opts Options, eng *keyspace.Engine, logger log.Logger) (*Writer, error) {
	path := Path(opts)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("aof: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("aof: open: %w", err)
	}

	w := &Writer{
		path: path,
		mode: opts.Mode,
		eng:  eng,
		log:  logger,
		file: f,
		done: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	w.commitCond = sync.NewCond(&w.commitMu)
	w.pauseCond = sync.NewCond(&w.pauseMu)

	w.wg.Add(1)
	pool.Submit(w.run)
	if w.mode == EverySec {
		pool.Submit(w.fsyncEverySecond)
	}
	return w, nil
}

// AppendRaw enqueues raw (an already RESP-encoded write command), assigns
// it the next sequence number, and — under the always policy — blocks the
// caller until that sequence number has been fsynced.
func (w *Writer) AppendRaw(raw []byte) int64 {
	seq := w.seqGen.Add(1)

	w.mu.Lock()
	w.queue = append(w.queue, queued{data: raw, seq: seq})
	w.pendingBytes += int64(len(raw))
	if w.mode != Always && w.pendingBytes > softQueueBoundBytes {
		w.queuePressureCount.Add(1)
		w.log.Warnf("aof: queue pressure, %d bytes pending", w.pendingBytes)
	}
	w.mu.Unlock()
	w.cond.Signal()

	if w.rewriting.Load() {
		w.incrMu.Lock()
		w.incrCmds = append(w.incrCmds, raw)
		w.incrMu.Unlock()
	}

	if w.mode == Always {
		w.commitMu.Lock()
		for w.lastSyncedSeq < seq {
			w.commitCond.Wait()
		}
		w.commitMu.Unlock()
	}
	return seq
}

// run is the dedicated writer goroutine: drains the queue in FIFO order,
// writes each batch, and applies the fsync policy. Cooperatively pauses
// when a rewrite requests exclusive access to the file.
func (w *Writer) run() {
	defer w.wg.Done()
	for {
		w.waitIfPaused()

		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped && !w.pauseWriter.Load() {
			w.cond.Wait()
		}
		if w.pauseWriter.Load() {
			w.mu.Unlock()
			continue
		}
		stopped := w.stopped
		batch := w.queue
		w.queue = nil
		w.pendingBytes = 0
		w.mu.Unlock()

		if len(batch) > 0 {
			w.writeBatch(batch)
		}
		if stopped {
			return
		}
	}
}

func (w *Writer) writeBatch(batch []queued) {
	var lastSeq int64
	for _, it := range batch {
		if _, err := w.file.Write(it.data); err != nil {
			w.log.Errorf("aof: write failed: %s", err.Error())
			continue
		}
		lastSeq = it.seq
	}
	if lastSeq == 0 {
		return
	}
	if w.mode == Always {
		if err := w.file.Sync(); err != nil {
			w.log.Errorf("aof: fsync failed: %s", err.Error())
		}
		w.publishSynced(lastSeq)
		return
	}
	w.commitMu.Lock()
	w.writtenSeq = lastSeq
	w.commitMu.Unlock()
}

func (w *Writer) publishSynced(seq int64) {
	w.commitMu.Lock()
	if seq > w.lastSyncedSeq {
		w.lastSyncedSeq = seq
	}
	w.commitMu.Unlock()
	w.commitCond.Broadcast()
}

// fsyncEverySecond is the everysec policy's background ticker.
func (w *Writer) fsyncEverySecond() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.file.Sync(); err != nil {
				w.log.Errorf("aof: periodic fsync failed: %s", err.Error())
				continue
			}
			w.commitMu.Lock()
			seq := w.writtenSeq
			w.commitMu.Unlock()
			w.publishSynced(seq)
		}
	}
}

// waitIfPaused blocks the writer goroutine while a rewrite holds the
// cooperative pause flag, signaling the rewriter once actually parked.
func (w *Writer) waitIfPaused() {
	w.pauseMu.Lock()
	for w.pauseWriter.Load() {
		w.writerPaused = true
		w.pauseCond.Broadcast()
		w.pauseCond.Wait()
	}
	w.writerPaused = false
	w.pauseMu.Unlock()
}

// Shutdown signals stop, drains and fsyncs the queue, and joins the writer.
func (w *Writer) Shutdown() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Broadcast()
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	_ = w.file.Sync()
	_ = w.file.Close()
}

// ErrRewriteInProgress is returned when BgRewrite is called while another
// rewrite is already running.
var ErrRewriteInProgress = errors.New("aof: rewrite already in progress")

// BgRewrite replaces the log with the minimal command sequence that
// reproduces the engine's current state: snapshot under the engine mutex
// (released immediately after), render to a temp file, pause the writer,
// append anything written during the snapshot/render window, fsync,
// rename over the live log, and resume.
func (w *Writer) BgRewrite() error {
	if !w.rewriting.CompareAndSwap(false, true) {
		return ErrRewriteInProgress
	}
	defer w.rewriting.Store(false)

	tmpPath := w.path + ".rewrite.tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("aof: open rewrite temp: %w", err)
	}

	for _, cmd := range rewriteCommands(w.eng) {
		if _, err := tmp.Write(resp.EncodeCommandArray(cmd...)); err != nil {
			tmp.Close()
			return fmt.Errorf("aof: write rewrite temp: %w", err)
		}
	}

	w.pausePull()
	defer w.pauseRelease()

	w.incrMu.Lock()
	incr := w.incrCmds
	w.incrCmds = nil
	w.incrMu.Unlock()
	for _, raw := range incr {
		if _, err := tmp.Write(raw); err != nil {
			tmp.Close()
			return fmt.Errorf("aof: write incremental buffer: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("aof: fsync rewrite temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("aof: close rewrite temp: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("aof: rename rewrite temp: %w", err)
	}

	newFile, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("aof: reopen after rewrite: %w", err)
	}
	old := w.file
	w.file = newFile
	_ = old.Close()
	return nil
}

func (w *Writer) pausePull() {
	w.pauseWriter.Store(true)
	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()

	w.pauseMu.Lock()
	for !w.writerPaused {
		w.pauseCond.Wait()
	}
	w.pauseMu.Unlock()
}

func (w *Writer) pauseRelease() {
	w.pauseMu.Lock()
	w.pauseWriter.Store(false)
	w.pauseCond.Broadcast()
	w.pauseMu.Unlock()
}

// rewriteCommands renders the engine's entire state as SET/HSET/ZADD (+
// EXPIREAT) commands, the same adapter each typed snapshot entry exposes
// for AOF rewrite.
func rewriteCommands(eng *keyspace.Engine) [][][]byte {
	var out [][][]byte
	for _, e := range eng.SnapshotStrings() {
		out = append(out, e.ToRewriteCommands()...)
	}
	for _, e := range eng.SnapshotHashes() {
		out = append(out, e.ToRewriteCommands()...)
	}
	for _, e := range eng.SnapshotZSets() {
		out = append(out, e.ToRewriteCommands()...)
	}
	return out
}

// Load reads the log from the beginning and replays each RESP command by
// calling apply. A truncated final record (a crash mid-write) is tolerated
// silently, per the log's partial-write tolerance.
func Load(path string, apply func(raw []byte) error) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("aof: read: %w", err)
	}

	r := resp.NewReader()
	r.Feed(data)
	for {
		_, raw, err := r.TryParseOne()
		if err != nil {
			return nil // incomplete or malformed tail: truncate and stop
		}
		if err := apply(raw); err != nil {
			return fmt.Errorf("aof: replay: %w", err)
		}
	}
}
