package keyspace

import "strconv"

// HashRecord is a field→value map plus its TTL.
type HashRecord struct {
	Fields     map[string]string
	ExpireAtMs int64
}

// HashEntry pairs a key with a deep copy of its record.
type HashEntry struct {
	Key    string
	Record HashRecord
}

// HSet sets field to value in the hash at key, creating the hash if
// absent. Returns 1 if the field was newly added, 0 if it already existed.
func (e *Engine) HSet(key, field string, value string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.hashes[key]
	if !ok {
		r = &HashRecord{Fields: make(map[string]string), ExpireAtMs: -1}
		e.hashes[key] = r
	}
	if _, exists := r.Fields[field]; exists {
		r.Fields[field] = value
		return 0
	}
	r.Fields[field] = value
	return 1
}

// HGet returns the value of field in the hash at key.
func (e *Engine) HGet(key, field string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.hashes[key]
	if !ok {
		return "", false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// HDel removes the given fields from the hash at key, deleting the hash
// record entirely (and its TTL index entry) if it becomes empty. Returns
// the number of fields actually removed.
func (e *Engine) HDel(key string, fields []string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.hashes[key]
	if !ok {
		return 0
	}
	removed := 0
	for _, f := range fields {
		if _, present := r.Fields[f]; present {
			delete(r.Fields, f)
			removed++
		}
	}
	if len(r.Fields) == 0 {
		delete(e.hashes, key)
		delete(e.expireIndex, key)
	}
	return removed
}

// HExists reports whether field exists in the hash at key.
func (e *Engine) HExists(key, field string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.hashes[key]
	if !ok {
		return false
	}
	_, ok = r.Fields[field]
	return ok
}

// HGetAllFlat returns [field1, value1, field2, value2, ...] with no
// defined ordering.
func (e *Engine) HGetAllFlat(key string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.hashes[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.Fields)*2)
	for f, v := range r.Fields {
		out = append(out, f, v)
	}
	return out
}

// HLen returns the number of fields in the hash at key, 0 if absent.
func (e *Engine) HLen(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.hashes[key]
	if !ok {
		return 0
	}
	return len(r.Fields)
}

// SetHashExpireAtMs is the restore-path TTL setter for hash records.
func (e *Engine) SetHashExpireAtMs(key string, expireAtMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.hashes[key]
	if !ok {
		return false
	}
	r.ExpireAtMs = expireAtMs
	e.setExpireIndex(key, expireAtMs)
	return true
}

// ToRewriteCommands renders the hash as one HSET per field (plus a
// trailing EXPIREAT if it carries a TTL), for AOF rewrite.
func (e HashEntry) ToRewriteCommands() [][][]byte {
	cmds := make([][][]byte, 0, len(e.Record.Fields)+1)
	for f, v := range e.Record.Fields {
		cmds = append(cmds, [][]byte{[]byte("HSET"), []byte(e.Key), []byte(f), []byte(v)})
	}
	if e.Record.ExpireAtMs >= 0 {
		cmds = append(cmds, [][]byte{[]byte("EXPIREAT"), []byte(e.Key), []byte(strconv.FormatInt(e.Record.ExpireAtMs, 10))})
	}
	return cmds
}

// SnapshotHashes returns a deep-copied, point-in-time list of every hash
// record.
func (e *Engine) SnapshotHashes() []HashEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HashEntry, 0, len(e.hashes))
	for k, r := range e.hashes {
		fields := make(map[string]string, len(r.Fields))
		for f, v := range r.Fields {
			fields[f] = v
		}
		out = append(out, HashEntry{Key: k, Record: HashRecord{Fields: fields, ExpireAtMs: r.ExpireAtMs}})
	}
	return out
}
