package record

// Ref is a stable, generation-tagged reference to a record slot (§5, §9).
// Schedulers and query trackers hold Refs, never pointers into the arena;
// once a record is removed its slot's generation advances, so a stale Ref
// resolves to "gone" via Get rather than dereferencing freed state.
type Ref struct {
	idx uint32
	gen uint32
}

// Zero reports whether r is the zero Ref (never returned by Insert).
func (r Ref) Zero() bool { return r.idx == 0 && r.gen == 0 }

type slot struct {
	gen  uint32
	live bool
	rec  Record
}

// Arena owns the actual Record storage behind stable Refs.
type Arena struct {
	slots []slot
	free  []uint32
}

// Insert adds a record and returns its Ref.
func (a *Arena) Insert(rec Record) Ref {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.live = true
		s.rec = rec
		return Ref{idx: idx, gen: s.gen}
	}
	idx := uint32(len(a.slots))
	a.slots = append(a.slots, slot{gen: 1, live: true, rec: rec})
	return Ref{idx: idx, gen: 1}
}

// Get resolves a Ref to its record. ok is false if the Ref is stale (the
// slot was removed and, possibly, reused) or out of range.
func (a *Arena) Get(ref Ref) (Record, bool) {
	if int(ref.idx) >= len(a.slots) {
		return Record{}, false
	}
	s := &a.slots[ref.idx]
	if !s.live || s.gen != ref.gen {
		return Record{}, false
	}
	return s.rec, true
}

// Update overwrites the record at ref in place. Returns false if ref is
// stale.
func (a *Arena) Update(ref Ref, rec Record) bool {
	if int(ref.idx) >= len(a.slots) {
		return false
	}
	s := &a.slots[ref.idx]
	if !s.live || s.gen != ref.gen {
		return false
	}
	s.rec = rec
	return true
}

// Remove frees the slot at ref, invalidating every outstanding Ref to it.
func (a *Arena) Remove(ref Ref) {
	if int(ref.idx) >= len(a.slots) {
		return
	}
	s := &a.slots[ref.idx]
	if !s.live || s.gen != ref.gen {
		return
	}
	s.live = false
	s.rec = Record{}
	s.gen++
	a.free = append(a.free, ref.idx)
}
