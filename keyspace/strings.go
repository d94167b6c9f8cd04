package keyspace

import "strconv"

// StringRecord is a single string value plus its TTL.
type StringRecord struct {
	Value      []byte
	ExpireAtMs int64 // -1 means no TTL
}

// StringEntry pairs a key with a deep copy of its record, as produced by
// SnapshotStrings.
type StringEntry struct {
	Key    string
	Record StringRecord
}

// Set overwrites any existing string record for key. ttlMs == nil clears
// the TTL; otherwise expire_at_ms = now + *ttlMs.
func (e *Engine) Set(key string, value []byte, ttlMs *int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	expireAtMs := int64(-1)
	if ttlMs != nil {
		expireAtMs = nowMs() + *ttlMs
	}
	e.strings[key] = &StringRecord{Value: cloneBytes(value), ExpireAtMs: expireAtMs}
	e.setExpireIndex(key, expireAtMs)
}

// SetWithExpireAtMs is the restore-path setter: expireAtMs is an absolute
// timestamp, not a relative TTL. expireAtMs < 0 means no TTL.
func (e *Engine) SetWithExpireAtMs(key string, value []byte, expireAtMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strings[key] = &StringRecord{Value: cloneBytes(value), ExpireAtMs: expireAtMs}
	e.setExpireIndex(key, expireAtMs)
}

// Get returns the current string value for key, or ok=false if absent or
// just expired.
func (e *Engine) Get(key string) (value []byte, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, present := e.strings[key]
	if !present {
		return nil, false
	}
	return cloneBytes(r.Value), true
}

// SnapshotStrings returns a deep-copied, point-in-time list of every string
// record, for RDB save and AOF rewrite.
func (e *Engine) SnapshotStrings() []StringEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StringEntry, 0, len(e.strings))
	for k, r := range e.strings {
		out = append(out, StringEntry{Key: k, Record: StringRecord{Value: cloneBytes(r.Value), ExpireAtMs: r.ExpireAtMs}})
	}
	return out
}

// ToRewriteCommands renders the string as a single SET (plus a trailing
// EXPIREAT if it carries a TTL), for AOF rewrite.
func (e StringEntry) ToRewriteCommands() [][][]byte {
	cmds := [][][]byte{{[]byte("SET"), []byte(e.Key), e.Record.Value}}
	if e.Record.ExpireAtMs >= 0 {
		cmds = append(cmds, [][]byte{[]byte("EXPIREAT"), []byte(e.Key), []byte(strconv.FormatInt(e.Record.ExpireAtMs, 10))})
	}
	return cmds
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
