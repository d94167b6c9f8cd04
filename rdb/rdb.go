// Package rdb implements the point-in-time snapshot format: a text-framed
// file with length-prefixed, byte-exact key/value/member spans so that
// embedded spaces and newlines in stored data round-trip correctly. Saves
// are atomic (write to a temp file, fsync, rename over the target).
package rdb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tinyredis/tinyredis/keyspace"
)

const (
	magicCurrent = "MRDB2"
	magicLegacy  = "MRDB1"
)

// Options configures where the snapshot lives.
type Options struct {
	Enabled  bool
	Dir      string
	Filename string
}

// Path returns the snapshot's on-disk path.
func Path(opts Options) string {
	if opts.Dir == "" {
		return opts.Filename
	}
	return filepath.Join(opts.Dir, opts.Filename)
}

// Render builds the in-memory `MRDB2` byte representation of eng's current
// state, with no disk I/O — used both by Save and by the replication
// package, which streams it straight into a RESP bulk string for a
// SYNC/PSYNC full resync rather than writing it to a file first.
func Render(eng *keyspace.Engine) []byte {
	strs := eng.SnapshotStrings()
	hashes := eng.SnapshotHashes()
	zsets := eng.SnapshotZSets()

	var buf bytes.Buffer
	buf.WriteString(magicCurrent)
	buf.WriteByte('\n')

	fmt.Fprintf(&buf, "STR %d\n", len(strs))
	for _, e := range strs {
		writeLenPrefixed(&buf, []byte(e.Key))
		buf.WriteByte(' ')
		writeLenPrefixed(&buf, e.Record.Value)
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(e.Record.ExpireAtMs, 10))
		buf.WriteByte('\n')
	}

	fmt.Fprintf(&buf, "HASH %d\n", len(hashes))
	for _, e := range hashes {
		writeLenPrefixed(&buf, []byte(e.Key))
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(e.Record.ExpireAtMs, 10))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(len(e.Record.Fields)))
		buf.WriteByte('\n')
		for f, v := range e.Record.Fields {
			writeLenPrefixed(&buf, []byte(f))
			buf.WriteByte(' ')
			writeLenPrefixed(&buf, []byte(v))
			buf.WriteByte('\n')
		}
	}

	fmt.Fprintf(&buf, "ZSET %d\n", len(zsets))
	for _, e := range zsets {
		writeLenPrefixed(&buf, []byte(e.Key))
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(e.ExpireAtMs, 10))
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(len(e.Items)))
		buf.WriteByte('\n')
		for _, it := range e.Items {
			buf.WriteString(strconv.FormatFloat(it.Score, 'g', 17, 64))
			buf.WriteByte(' ')
			writeLenPrefixed(&buf, []byte(it.Member))
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Save writes a full snapshot of eng to path: render it in memory, write
// it to "<path>.tmp", fsync, then atomically rename over path.
func Save(path string, eng *keyspace.Engine) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("rdb: mkdir: %w", err)
		}
	}

	body := Render(eng)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("rdb: open temp: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return fmt.Errorf("rdb: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("rdb: fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("rdb: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rdb: rename: %w", err)
	}
	syncDirBestEffort(filepath.Dir(path))
	return nil
}

// LoadBytes replays an in-memory `MRDB2`/`MRDB1` snapshot into eng — the
// replica side of a SYNC/PSYNC full resync, which receives the snapshot as
// a RESP bulk string rather than reading it from a file.
func LoadBytes(data []byte, eng *keyspace.Engine) error {
	c := &cursor{buf: data}
	magic, err := c.readUntil('\n')
	if err != nil {
		return fmt.Errorf("rdb: bad magic: %w", err)
	}
	switch string(magic) {
	case magicLegacy:
		return loadLegacy(c, eng)
	case magicCurrent:
		return loadCurrent(c, eng)
	default:
		return fmt.Errorf("rdb: unrecognized magic %q", magic)
	}
}

func syncDirBestEffort(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// writeLenPrefixed writes "<len> <bytes>" with no trailing separator; the
// caller supplies whatever delimiter follows.
func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(' ')
	buf.Write(b)
}

// Load reads path and replays its contents into eng via the public typed
// setters. A missing file is not an error — it means no prior snapshot.
func Load(path string, eng *keyspace.Engine) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rdb: read: %w", err)
	}
	return LoadBytes(data, eng)
}

func loadLegacy(c *cursor, eng *keyspace.Engine) error {
	countLine, err := c.readUntil('\n')
	if err != nil {
		return fmt.Errorf("rdb: legacy count: %w", err)
	}
	count, err := strconv.Atoi(string(countLine))
	if err != nil {
		return fmt.Errorf("rdb: legacy count: %w", err)
	}
	for i := 0; i < count; i++ {
		key, value, expireAtMs, err := c.readStringRecord()
		if err != nil {
			return fmt.Errorf("rdb: legacy record %d: %w", i, err)
		}
		eng.SetWithExpireAtMs(key, value, expireAtMs)
	}
	return nil
}

func loadCurrent(c *cursor, eng *keyspace.Engine) error {
	strCount, err := c.readSectionHeader("STR")
	if err != nil {
		return err
	}
	for i := 0; i < strCount; i++ {
		key, value, expireAtMs, err := c.readStringRecord()
		if err != nil {
			return fmt.Errorf("rdb: str record %d: %w", i, err)
		}
		eng.SetWithExpireAtMs(key, value, expireAtMs)
	}

	hashCount, err := c.readSectionHeader("HASH")
	if err != nil {
		return err
	}
	for i := 0; i < hashCount; i++ {
		if err := c.readHashRecord(eng); err != nil {
			return fmt.Errorf("rdb: hash record %d: %w", i, err)
		}
	}

	zsetCount, err := c.readSectionHeader("ZSET")
	if err != nil {
		return err
	}
	for i := 0; i < zsetCount; i++ {
		if err := c.readZSetRecord(eng); err != nil {
			return fmt.Errorf("rdb: zset record %d: %w", i, err)
		}
	}
	return nil
}

// cursor is a forward-only byte-exact reader over a loaded RDB file.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) readUntil(delim byte) ([]byte, error) {
	idx := bytes.IndexByte(c.buf[c.pos:], delim)
	if idx < 0 {
		return nil, fmt.Errorf("unexpected end of file looking for %q", delim)
	}
	line := c.buf[c.pos : c.pos+idx]
	c.pos += idx + 1
	return line, nil
}

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, errors.New("truncated record")
	}
	out := c.buf[c.pos : c.pos+n]
	c.pos += n
	return out, nil
}

func (c *cursor) expectByte(b byte) error {
	if c.pos >= len(c.buf) || c.buf[c.pos] != b {
		return fmt.Errorf("expected %q", b)
	}
	c.pos++
	return nil
}

func (c *cursor) readDecimalUntil(delim byte) (int64, error) {
	field, err := c.readUntil(delim)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(field), 10, 64)
}

// readSectionHeader consumes "<tag> <n>\n" and returns n.
func (c *cursor) readSectionHeader(tag string) (int, error) {
	line, err := c.readUntil('\n')
	if err != nil {
		return 0, fmt.Errorf("rdb: %s section: %w", tag, err)
	}
	prefix := tag + " "
	if len(line) <= len(prefix) || string(line[:len(prefix)]) != prefix {
		return 0, fmt.Errorf("rdb: expected %q section header, got %q", tag, line)
	}
	return strconv.Atoi(string(line[len(prefix):]))
}

// readLenPrefixed reads "<n> " then exactly n raw bytes.
func (c *cursor) readLenPrefixed() ([]byte, error) {
	n, err := c.readDecimalUntil(' ')
	if err != nil {
		return nil, err
	}
	return c.readExact(int(n))
}

// readStringRecord reads "<klen> <key> <vlen> <value> <expire_at_ms>\n".
func (c *cursor) readStringRecord() (key string, value []byte, expireAtMs int64, err error) {
	k, err := c.readLenPrefixed()
	if err != nil {
		return "", nil, 0, err
	}
	if err := c.expectByte(' '); err != nil {
		return "", nil, 0, err
	}
	v, err := c.readLenPrefixed()
	if err != nil {
		return "", nil, 0, err
	}
	if err := c.expectByte(' '); err != nil {
		return "", nil, 0, err
	}
	exp, err := c.readDecimalUntil('\n')
	if err != nil {
		return "", nil, 0, err
	}
	return string(k), append([]byte(nil), v...), exp, nil
}

// readHashRecord reads a "<klen> <key> <expire_at_ms> <field_count>\n"
// header followed by field_count "<flen> <field> <vlen> <value>\n" lines.
func (c *cursor) readHashRecord(eng *keyspace.Engine) error {
	key, err := c.readLenPrefixed()
	if err != nil {
		return err
	}
	if err := c.expectByte(' '); err != nil {
		return err
	}
	expireAtMs, err := c.readDecimalUntil(' ')
	if err != nil {
		return err
	}
	fieldCount, err := c.readDecimalUntil('\n')
	if err != nil {
		return err
	}

	for j := int64(0); j < fieldCount; j++ {
		field, err := c.readLenPrefixed()
		if err != nil {
			return fmt.Errorf("field %d: %w", j, err)
		}
		if err := c.expectByte(' '); err != nil {
			return err
		}
		value, err := c.readLenPrefixed()
		if err != nil {
			return fmt.Errorf("field %d value: %w", j, err)
		}
		if err := c.expectByte('\n'); err != nil {
			return err
		}
		eng.HSet(string(key), string(field), string(value))
	}
	if fieldCount > 0 && expireAtMs >= 0 {
		eng.SetHashExpireAtMs(string(key), expireAtMs)
	}
	return nil
}

// readZSetRecord reads a "<klen> <key> <expire_at_ms> <item_count>\n"
// header followed by item_count "<score> <mlen> <member>\n" lines.
func (c *cursor) readZSetRecord(eng *keyspace.Engine) error {
	key, err := c.readLenPrefixed()
	if err != nil {
		return err
	}
	if err := c.expectByte(' '); err != nil {
		return err
	}
	expireAtMs, err := c.readDecimalUntil(' ')
	if err != nil {
		return err
	}
	itemCount, err := c.readDecimalUntil('\n')
	if err != nil {
		return err
	}

	for j := int64(0); j < itemCount; j++ {
		scoreField, err := c.readUntil(' ')
		if err != nil {
			return fmt.Errorf("item %d score: %w", j, err)
		}
		score, err := strconv.ParseFloat(string(scoreField), 64)
		if err != nil {
			return fmt.Errorf("item %d score: %w", j, err)
		}
		member, err := c.readLenPrefixed()
		if err != nil {
			return fmt.Errorf("item %d member: %w", j, err)
		}
		if err := c.expectByte('\n'); err != nil {
			return err
		}
		eng.ZAdd(string(key), score, string(member))
	}
	if itemCount > 0 && expireAtMs >= 0 {
		eng.SetZSetExpireAtMs(string(key), expireAtMs)
	}
	return nil
}
