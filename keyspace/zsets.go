package keyspace

import (
	"sort"
	"strconv"

	"github.com/tinyredis/tinyredis/skiplist"
)

// zsetVectorThreshold is the compact-representation cutover point: once a
// sorted set grows past this many members it is promoted to a skiplist and
// never demoted back.
const zsetVectorThreshold = 128

// ZSetRecord is a sorted set. Small sets are kept as a sorted slice
// (Items); once a set grows past zsetVectorThreshold it is promoted to a
// skiplist (SL) and the slice is released.
type ZSetRecord struct {
	UseSkiplist bool
	Items       []skiplist.ScoredPair
	SL          *skiplist.Skiplist
	MemberScore map[string]float64
	ExpireAtMs  int64
}

// ZSetEntry pairs a key with a flattened, ascending-order copy of its
// members, as produced by SnapshotZSets.
type ZSetEntry struct {
	Key        string
	Items      []skiplist.ScoredPair
	ExpireAtMs int64
}

func zsetLess(s1 float64, m1 string, s2 float64, m2 string) bool {
	d := s1 - s2
	if d < 0 {
		d = -d
	}
	if d > skiplist.Epsilon {
		return s1 < s2
	}
	return m1 < m2
}

// ZAdd inserts or updates member's score in the sorted set at key,
// promoting the representation to a skiplist once the compact vector
// would exceed zsetVectorThreshold. Returns 1 if member is new, 0 if it
// already existed (its score is updated if different).
func (e *Engine) ZAdd(key string, score float64, member string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.zsets[key]
	if !ok {
		r = &ZSetRecord{MemberScore: make(map[string]float64), ExpireAtMs: -1}
		e.zsets[key] = r
	}

	old, exists := r.MemberScore[member]
	if exists && old == score {
		return 0
	}
	if exists {
		r.removeMember(old, member)
	}
	r.insertMember(score, member)
	r.MemberScore[member] = score
	if exists {
		return 0
	}
	return 1
}

func (r *ZSetRecord) insertMember(score float64, member string) {
	if r.UseSkiplist {
		r.SL.Insert(score, member)
		return
	}
	idx := sort.Search(len(r.Items), func(i int) bool {
		return !zsetLess(r.Items[i].Score, r.Items[i].Member, score, member)
	})
	r.Items = append(r.Items, skiplist.ScoredPair{})
	copy(r.Items[idx+1:], r.Items[idx:])
	r.Items[idx] = skiplist.ScoredPair{Score: score, Member: member}

	if len(r.Items) > zsetVectorThreshold {
		r.promote()
	}
}

func (r *ZSetRecord) removeMember(score float64, member string) {
	if r.UseSkiplist {
		r.SL.Erase(score, member)
		return
	}
	for i, it := range r.Items {
		if it.Member == member && scoreEqual(it.Score, score) {
			r.Items = append(r.Items[:i], r.Items[i+1:]...)
			return
		}
	}
}

func scoreEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= skiplist.Epsilon
}

// promote migrates a compact-vector record to a skiplist, matching
// kv.cpp's zadd: build the skiplist from the sorted vector, then release
// the vector's backing array.
func (r *ZSetRecord) promote() {
	r.SL = skiplist.New()
	for _, it := range r.Items {
		r.SL.Insert(it.Score, it.Member)
	}
	r.UseSkiplist = true
	r.Items = nil
}

// ZRem removes the given members from the sorted set at key, deleting the
// record entirely if it becomes empty. Returns the number removed.
func (e *Engine) ZRem(key string, members []string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.zsets[key]
	if !ok {
		return 0
	}
	removed := 0
	for _, m := range members {
		score, present := r.MemberScore[m]
		if !present {
			continue
		}
		r.removeMember(score, m)
		delete(r.MemberScore, m)
		removed++
	}
	if len(r.MemberScore) == 0 {
		delete(e.zsets, key)
		delete(e.expireIndex, key)
	}
	return removed
}

// ZRange returns members with 0-based ranks in [start, stop] (inclusive,
// negative indices counting from the end, out-of-range indices clamped),
// in ascending score order.
func (e *Engine) ZRange(key string, start, stop int64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.zsets[key]
	if !ok {
		return nil
	}
	if r.UseSkiplist {
		return r.SL.RankRange(start, stop, nil)
	}
	n := int64(len(r.Items))
	if n == 0 {
		return nil
	}
	norm := func(idx int64) int64 {
		if idx < 0 {
			idx = n + idx
		}
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return idx
	}
	lo, hi := norm(start), norm(stop)
	if lo > hi {
		return nil
	}
	out := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, r.Items[i].Member)
	}
	return out
}

// ZScore returns member's score in the sorted set at key.
func (e *Engine) ZScore(key, member string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cleanupIfExpired(key, nowMs())
	r, ok := e.zsets[key]
	if !ok {
		return 0, false
	}
	score, ok := r.MemberScore[member]
	return score, ok
}

// SetZSetExpireAtMs is the restore-path TTL setter for sorted-set records.
func (e *Engine) SetZSetExpireAtMs(key string, expireAtMs int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.zsets[key]
	if !ok {
		return false
	}
	r.ExpireAtMs = expireAtMs
	e.setExpireIndex(key, expireAtMs)
	return true
}

// SnapshotZSets returns a deep-copied, point-in-time list of every sorted
// set, each flattened to ascending (score, member) order regardless of its
// internal representation.
func (e *Engine) SnapshotZSets() []ZSetEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ZSetEntry, 0, len(e.zsets))
	for k, r := range e.zsets {
		var items []skiplist.ScoredPair
		if r.UseSkiplist {
			items = r.SL.ToVector(nil)
		} else {
			items = append(items, r.Items...)
		}
		out = append(out, ZSetEntry{Key: k, Items: items, ExpireAtMs: r.ExpireAtMs})
	}
	return out
}

// ToRewriteCommands renders the sorted set as a ZADD per member (in
// ascending order) followed by a trailing EXPIREAT if it carries a TTL —
// the minimal command sequence that reproduces it, for AOF rewrite.
func (e ZSetEntry) ToRewriteCommands() [][][]byte {
	cmds := make([][][]byte, 0, len(e.Items)+1)
	for _, it := range e.Items {
		cmds = append(cmds, [][]byte{
			[]byte("ZADD"),
			[]byte(e.Key),
			[]byte(strconv.FormatFloat(it.Score, 'g', 17, 64)),
			[]byte(it.Member),
		})
	}
	if e.ExpireAtMs >= 0 {
		cmds = append(cmds, [][]byte{
			[]byte("EXPIREAT"),
			[]byte(e.Key),
			[]byte(strconv.FormatInt(e.ExpireAtMs, 10)),
		})
	}
	return cmds
}
