package scheduler

import "github.com/jwmdns/mdnsd/record"

// Phase is a position in the per-owned-record state machine (§4.3).
type Phase int

const (
	PhaseProbe Phase = iota
	PhaseConflict
	PhaseAnnounce
	PhasePublished
	PhaseGoodbye
	phaseRemoved
)

func (p Phase) String() string {
	switch p {
	case PhaseProbe:
		return "probe"
	case PhaseConflict:
		return "conflict"
	case PhaseAnnounce:
		return "announce"
	case PhasePublished:
		return "published"
	case PhaseGoodbye:
		return "goodbye"
	default:
		return "removed"
	}
}

const (
	probeCount    = 3
	probeInterval = 250 // ms, ± probeInterval/4 jitter

	announceCount    = 2
	announceInterval = 1000 // ms, applied before Announce(2)
	goodbyeCount     = 3
	goodbyeInterval  = 250 // ms
)

// recordState tracks one owned record's progress through Probe/Conflict/
// Announce/Published/Goodbye (§4.3). Shared (non-unique) records start
// directly in Announce.
type recordState struct {
	ref    record.Ref
	key    record.Key
	unique bool
	phase  Phase
	n      int   // attempts sent within the current phase
	dueAt  int64 // ms; next action deadline
}

func newRecordState(ref record.Ref, key record.Key, unique bool, now int64) *recordState {
	s := &recordState{ref: ref, key: key, unique: unique}
	if unique {
		s.phase = PhaseProbe
	} else {
		s.phase = PhaseAnnounce
	}
	s.dueAt = now
	return s
}
