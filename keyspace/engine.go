// Package keyspace implements the server's in-memory data model: three
// typed maps (strings, hashes, sorted sets) sharing one TTL index, guarded
// by a single mutex held for the duration of every public operation.
package keyspace

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Engine is the keyspace. All exported methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	strings map[string]*StringRecord
	hashes  map[string]*HashRecord
	zsets   map[string]*ZSetRecord

	// expireIndex maps every key carrying a TTL (in any of the three maps)
	// to its expire_at_ms, independent of which typed map owns the key.
	expireIndex map[string]int64

	// scanKeys/scanPos implement ExpireScanStep's persisted cursor: a
	// snapshot of expireIndex's keys (in Go's randomized map-iteration
	// order, which supplies the pseudo-random starting point) walked
	// max_steps at a time and rebuilt once exhausted.
	scanKeys []string
	scanPos  int
}

// NewEngine returns an empty keyspace.
func NewEngine() *Engine {
	return &Engine{
		strings:     make(map[string]*StringRecord),
		hashes:      make(map[string]*HashRecord),
		zsets:       make(map[string]*ZSetRecord),
		expireIndex: make(map[string]int64),
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// cleanupIfExpired evicts key from whichever typed map currently owns it if
// that record's TTL has passed. Called at the top of every public method
// that touches a single key, per the lazy-expiration invariant.
func (e *Engine) cleanupIfExpired(key string, now int64) {
	if r, ok := e.strings[key]; ok && r.ExpireAtMs >= 0 && now >= r.ExpireAtMs {
		delete(e.strings, key)
		delete(e.expireIndex, key)
		return
	}
	if r, ok := e.hashes[key]; ok && r.ExpireAtMs >= 0 && now >= r.ExpireAtMs {
		delete(e.hashes, key)
		delete(e.expireIndex, key)
		return
	}
	if r, ok := e.zsets[key]; ok && r.ExpireAtMs >= 0 && now >= r.ExpireAtMs {
		delete(e.zsets, key)
		delete(e.expireIndex, key)
		return
	}
}

// Del removes key (in whichever typed map owns it) for each given key,
// returning the number actually removed.
func (e *Engine) Del(keys []string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := nowMs()
	removed := 0
	for _, k := range keys {
		e.cleanupIfExpired(k, now)
		found := false
		if _, ok := e.strings[k]; ok {
			delete(e.strings, k)
			found = true
		}
		if _, ok := e.hashes[k]; ok {
			delete(e.hashes, k)
			found = true
		}
		if _, ok := e.zsets[k]; ok {
			delete(e.zsets, k)
			found = true
		}
		if found {
			delete(e.expireIndex, k)
			removed++
		}
	}
	return removed
}

// Exists reports whether key is present in any of the three typed maps
// after lazy cleanup.
func (e *Engine) Exists(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	_, inStr := e.strings[key]
	_, inHash := e.hashes[key]
	_, inZSet := e.zsets[key]
	return inStr || inHash || inZSet
}

// Expire sets or clears the TTL on whichever typed record currently owns
// key. ttlSeconds < 0 clears the TTL; otherwise expire_at_ms = now +
// ttlSeconds*1000. Returns false if key is absent from all three maps.
func (e *Engine) Expire(key string, ttlSeconds int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := nowMs()
	e.cleanupIfExpired(key, now)

	var expireAtMs int64 = -1
	if ttlSeconds >= 0 {
		expireAtMs = now + ttlSeconds*1000
	}

	if r, ok := e.strings[key]; ok {
		r.ExpireAtMs = expireAtMs
		e.setExpireIndex(key, expireAtMs)
		return true
	}
	if r, ok := e.hashes[key]; ok {
		r.ExpireAtMs = expireAtMs
		e.setExpireIndex(key, expireAtMs)
		return true
	}
	if r, ok := e.zsets[key]; ok {
		r.ExpireAtMs = expireAtMs
		e.setExpireIndex(key, expireAtMs)
		return true
	}
	return false
}

// ExpireAt sets or clears the absolute TTL (in epoch milliseconds) on
// whichever typed record currently owns key. expireAtMs < 0 clears the
// TTL. Returns false if key is absent from all three maps. Used by the
// EXPIREAT command and by AOF/replication replay of a rewritten log.
func (e *Engine) ExpireAt(key string, expireAtMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())

	if r, ok := e.strings[key]; ok {
		r.ExpireAtMs = expireAtMs
		e.setExpireIndex(key, expireAtMs)
		return true
	}
	if r, ok := e.hashes[key]; ok {
		r.ExpireAtMs = expireAtMs
		e.setExpireIndex(key, expireAtMs)
		return true
	}
	if r, ok := e.zsets[key]; ok {
		r.ExpireAtMs = expireAtMs
		e.setExpireIndex(key, expireAtMs)
		return true
	}
	return false
}

// TTL returns seconds remaining, rounded to the nearest second (-1 for no
// TTL, -2 for a missing key).
func (e *Engine) TTL(key string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := nowMs()
	e.cleanupIfExpired(key, now)

	expireAtMs, ok := -int64(1), false
	if r, present := e.strings[key]; present {
		expireAtMs, ok = r.ExpireAtMs, true
	} else if r, present := e.hashes[key]; present {
		expireAtMs, ok = r.ExpireAtMs, true
	} else if r, present := e.zsets[key]; present {
		expireAtMs, ok = r.ExpireAtMs, true
	}
	if !ok {
		return -2
	}
	if expireAtMs < 0 {
		return -1
	}
	msLeft := expireAtMs - now
	if msLeft <= 0 {
		return -2
	}
	return (msLeft + 500) / 1000
}

func (e *Engine) setExpireIndex(key string, expireAtMs int64) {
	if expireAtMs >= 0 {
		e.expireIndex[key] = expireAtMs
	} else {
		delete(e.expireIndex, key)
	}
}

// ExpireScanStep visits at most maxSteps entries of the TTL index starting
// from a pseudo-random offset (refreshed once the cursor is exhausted,
// using Go's randomized map-iteration order), evicting any that have
// passed, and returns the count removed. The cursor persists across calls
// and wraps to the beginning once it reaches the end.
func (e *Engine) ExpireScanStep(maxSteps int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if maxSteps <= 0 || len(e.expireIndex) == 0 {
		return 0
	}

	removed := 0
	now := nowMs()
	for i := 0; i < maxSteps; i++ {
		if e.scanPos >= len(e.scanKeys) {
			e.rebuildScanKeys()
			if len(e.scanKeys) == 0 {
				return removed
			}
		}
		key := e.scanKeys[e.scanPos]
		e.scanPos++
		when, ok := e.expireIndex[key]
		if !ok {
			continue // evicted by another path since the cursor snapshot
		}
		if when >= 0 && now >= when {
			delete(e.strings, key)
			delete(e.hashes, key)
			delete(e.zsets, key)
			delete(e.expireIndex, key)
			removed++
		}
	}
	return removed
}

func (e *Engine) rebuildScanKeys() {
	keys := make([]string, 0, len(e.expireIndex))
	for k := range e.expireIndex {
		keys = append(keys, k)
	}
	if len(keys) > 1 {
		start := rand.IntN(len(keys))
		keys = append(keys[start:], keys[:start]...)
	}
	e.scanKeys = keys
	e.scanPos = 0
}

// TypeOf reports which typed map currently owns key ("string", "hash", or
// "zset"), after lazy cleanup. ok is false if key is absent from all three.
func (e *Engine) TypeOf(key string) (kind string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	if _, present := e.strings[key]; present {
		return "string", true
	}
	if _, present := e.hashes[key]; present {
		return "hash", true
	}
	if _, present := e.zsets[key]; present {
		return "zset", true
	}
	return "", false
}

// ListKeys returns the sorted, deduplicated union of keys across all three
// typed maps.
func (e *Engine) ListKeys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.strings)+len(e.hashes)+len(e.zsets))
	for k := range e.strings {
		out = append(out, k)
	}
	for k := range e.hashes {
		out = append(out, k)
	}
	for k := range e.zsets {
		out = append(out, k)
	}
	sort.Strings(out)
	return dedupeSorted(out)
}

func dedupeSorted(keys []string) []string {
	if len(keys) == 0 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
