package record

import (
	"container/heap"

	"github.com/jwmdns/mdnsd/message"
)

// expiryEntry is one node of the TTL min-heap: the secondary expiry index
// mentioned in §4.2, giving O(log n) eviction scanning instead of a linear
// scan of every cached record on each tick.
type expiryEntry struct {
	at  int64
	ref Ref
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Store holds the owned and cached record sets for one Responder (§4.2).
// It is not safe for concurrent use; the engine is single-threaded (§5).
type Store struct {
	arena  Arena
	byKey  map[Key][]Ref
	expiry expiryHeap
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{byKey: make(map[Key][]Ref)}
}

// Publish adds rec to the owned set. If rec.Unique is true, any existing
// owned unique record for the same key is replaced (§3: "a unique record is
// exclusive — at most one per key"). Publishing an (name, type, rdata)
// already owned is a no-op (§7 Duplicate, §8 idempotence).
func (s *Store) Publish(rec Record) (Ref, error) {
	rec.Owned = true
	rec.LastUpdate = 0
	rec.ExpiresAt = 0
	key := rec.Key()

	existing := s.byKey[key]
	var kept []Ref
	for _, ref := range existing {
		cur, ok := s.arena.Get(ref)
		if !ok {
			continue
		}
		if !cur.Owned {
			kept = append(kept, ref)
			continue
		}
		if sameRData(cur.Data, rec.Data) && cur.Unique == rec.Unique {
			return ref, ErrDuplicate
		}
		if rec.Unique && cur.Unique {
			// Exclusive: the new registration replaces the old one outright.
			s.arena.Remove(ref)
			continue
		}
		kept = append(kept, ref)
	}

	ref := s.arena.Insert(rec)
	kept = append(kept, ref)
	s.byKey[key] = kept
	return ref, nil
}

// Withdraw returns the Refs of every owned record at key, without removing
// them: the scheduler drives them through the Goodbye state before calling
// Remove. Returns ErrNotFound if the key has no owned records (§7, idempotent).
func (s *Store) Withdraw(key Key) ([]Ref, error) {
	var owned []Ref
	for _, ref := range s.byKey[key] {
		if rec, ok := s.arena.Get(ref); ok && rec.Owned {
			owned = append(owned, ref)
		}
	}
	if len(owned) == 0 {
		return nil, ErrNotFound
	}
	return owned, nil
}

// Remove deletes a record outright, invalidating any Ref to it (owned,
// post-goodbye removal, or a cache-flush eviction).
func (s *Store) Remove(ref Ref) {
	rec, ok := s.arena.Get(ref)
	if !ok {
		return
	}
	key := rec.Key()
	refs := s.byKey[key]
	for i, r := range refs {
		if r == ref {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(s.byKey, key)
	} else {
		s.byKey[key] = refs
	}
	s.arena.Remove(ref)
}

// PutCached inserts or refreshes a cached record, applying the cache-flush
// rule: when rec.Unique (the wire cache-flush bit) is set, any existing
// cached entries at the same key whose own Unique flag is set and whose
// last update is older than 1 second are evicted (§3, RFC 6762 §10.2). A
// cached TTL of 0 is a goodbye and evicts matching entries instead of being
// stored (§3).
func (s *Store) PutCached(rec Record, now int64) Ref {
	rec.Owned = false
	key := rec.Key()

	if rec.Unique {
		var kept []Ref
		for _, ref := range s.byKey[key] {
			cur, ok := s.arena.Get(ref)
			if !ok {
				continue
			}
			if cur.Owned {
				kept = append(kept, ref)
				continue
			}
			if cur.Unique && now-cur.LastUpdate > 1000 {
				s.arena.Remove(ref)
				continue
			}
			kept = append(kept, ref)
		}
		s.byKey[key] = kept
	}

	if rec.TTL == 0 {
		var kept []Ref
		for _, ref := range s.byKey[key] {
			cur, ok := s.arena.Get(ref)
			if !ok {
				continue
			}
			if !cur.Owned && sameRData(cur.Data, rec.Data) {
				s.arena.Remove(ref)
				continue
			}
			kept = append(kept, ref)
		}
		s.byKey[key] = kept
		return Ref{}
	}

	for _, ref := range s.byKey[key] {
		cur, ok := s.arena.Get(ref)
		if ok && !cur.Owned && sameRData(cur.Data, rec.Data) {
			rec.LastUpdate = now
			rec.ExpiresAt = now + int64(rec.TTL)*1000
			s.arena.Update(ref, rec)
			heap.Push(&s.expiry, expiryEntry{at: rec.ExpiresAt, ref: ref})
			return ref
		}
	}

	rec.LastUpdate = now
	rec.ExpiresAt = now + int64(rec.TTL)*1000
	ref := s.arena.Insert(rec)
	s.byKey[key] = append(s.byKey[key], ref)
	heap.Push(&s.expiry, expiryEntry{at: rec.ExpiresAt, ref: ref})
	return ref
}

// Lookup returns every owned and cached record matching (name, typ),
// evicting any now-expired cached entries for that key first. TypeANY
// matches records of any type stored under name.
func (s *Store) Lookup(name message.Name, typ message.Type, now int64) []Record {
	name = name.Lower()
	var out []Record
	if typ == message.TypeANY {
		for key, refs := range s.byKey {
			if key.Name != name {
				continue
			}
			out = append(out, s.lookupKey(key, refs, now)...)
		}
		return out
	}
	key := Key{Name: name, Type: typ}
	return s.lookupKey(key, s.byKey[key], now)
}

func (s *Store) lookupKey(key Key, refs []Ref, now int64) []Record {
	var out []Record
	var kept []Ref
	changed := false
	for _, ref := range refs {
		rec, ok := s.arena.Get(ref)
		if !ok {
			changed = true
			continue
		}
		if !rec.Owned && rec.ExpiresAt != 0 && rec.ExpiresAt <= now {
			s.arena.Remove(ref)
			changed = true
			continue
		}
		kept = append(kept, ref)
		out = append(out, rec)
	}
	if changed {
		if len(kept) == 0 {
			delete(s.byKey, key)
		} else {
			s.byKey[key] = kept
		}
	}
	return out
}

// OwnedKeys returns the set of keys with at least one owned record, for the
// scheduler to walk on each tick.
func (s *Store) OwnedKeys() []Key {
	var keys []Key
	for key, refs := range s.byKey {
		for _, ref := range refs {
			if rec, ok := s.arena.Get(ref); ok && rec.Owned {
				keys = append(keys, key)
				break
			}
		}
	}
	return keys
}

// Get resolves a Ref, for callers (scheduler, query tracker) that hold one
// across ticks.
func (s *Store) Get(ref Ref) (Record, bool) { return s.arena.Get(ref) }

// PeekExpiry reports the next cache-expiry deadline without evicting
// anything due yet, so callers can compute a wake time without the
// side effects ExpireDue performs. Stale heap entries (superseded or
// already-removed records) are discarded since they carry no observable
// state of their own.
func (s *Store) PeekExpiry(now int64) (int64, bool) {
	for s.expiry.Len() > 0 {
		top := s.expiry[0]
		rec, live := s.arena.Get(top.ref)
		if !live || rec.Owned || rec.ExpiresAt != top.at {
			heap.Pop(&s.expiry)
			continue
		}
		return top.at, true
	}
	return 0, false
}

// ExpireDue evicts every cached record whose TTL has elapsed by now, and
// reports the next future expiry deadline (if any) for scheduling (§4.2,
// §4.3).
func (s *Store) ExpireDue(now int64) (evicted []Record, nextExpiry int64, ok bool) {
	for s.expiry.Len() > 0 {
		top := s.expiry[0]
		rec, live := s.arena.Get(top.ref)
		if !live || rec.Owned || rec.ExpiresAt != top.at {
			// Stale heap entry: the record moved, was removed, or was
			// refreshed (which pushes a fresh entry); drop this one.
			heap.Pop(&s.expiry)
			continue
		}
		if top.at > now {
			return evicted, top.at, true
		}
		heap.Pop(&s.expiry)
		key := rec.Key()
		refs := s.byKey[key]
		for i, r := range refs {
			if r == top.ref {
				refs = append(refs[:i], refs[i+1:]...)
				break
			}
		}
		if len(refs) == 0 {
			delete(s.byKey, key)
		} else {
			s.byKey[key] = refs
		}
		s.arena.Remove(top.ref)
		evicted = append(evicted, rec)
	}
	return evicted, 0, false
}
