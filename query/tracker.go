// Package query implements the Query Tracker (§4.4): registration and
// deduplication of outstanding local queries and delivery of matching
// records (including, in monitor mode, their departure) to callbacks.
package query

import (
	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/record"
)

// Callback receives a matching record. Expired is true only for monitor-mode
// registrations, delivered with rec.TTL == 0 as the "went away" sentinel
// (§4.4).
type Callback func(rec record.Record, expired bool)

// Handle identifies a single registered query for later cancellation.
type Handle struct {
	id uint64
}

type entry struct {
	handle   Handle
	key      record.Key
	callback Callback
	monitor  bool
}

// Tracker holds the set of active local queries.
type Tracker struct {
	nextID uint64
	byKey  map[record.Key][]*entry
	byID   map[uint64]*entry
}

// NewTracker creates an empty query tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byKey: make(map[record.Key][]*entry),
		byID:  make(map[uint64]*entry),
	}
}

// Query registers a new local query for (name, type). Existing cached
// matches in store are delivered to callback immediately. Duplicate
// registrations for the same key are merged onto the same outbound question
// schedule (the scheduler keeps one re-issuance entry per key, however many
// registrations share it).
func (t *Tracker) Query(name message.Name, typ message.Type, monitor bool, callback Callback, store *record.Store, now int64) Handle {
	t.nextID++
	h := Handle{id: t.nextID}
	key := record.KeyOf(name, typ)
	e := &entry{handle: h, key: key, callback: callback, monitor: monitor}
	t.byID[h.id] = e
	t.byKey[key] = append(t.byKey[key], e)

	for _, rec := range store.Lookup(name, typ, now) {
		callback(rec, false)
	}
	return h
}

// Cancel removes a registration. Its callback is guaranteed never to fire
// after Cancel returns (§5). Cancelling an unknown handle is a no-op (§7).
// Reports the registration's key and whether it was found, so callers can
// decide whether to stop periodic re-issuance for that key (§4.4).
func (t *Tracker) Cancel(h Handle) (record.Key, bool) {
	e, ok := t.byID[h.id]
	if !ok {
		return record.Key{}, false
	}
	delete(t.byID, h.id)

	refs := t.byKey[e.key]
	for i, r := range refs {
		if r == e {
			refs = append(refs[:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(t.byKey, e.key)
	} else {
		t.byKey[e.key] = refs
	}
	return e.key, true
}

// Active reports whether any query remains registered for key, the signal
// the scheduler uses to stop periodic re-issuance (§4.4).
func (t *Tracker) Active(key record.Key) bool {
	return len(t.byKey[key]) > 0
}

// ActiveKeys returns every (name, type) with at least one live registration.
func (t *Tracker) ActiveKeys() []record.Key {
	keys := make([]record.Key, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	return keys
}

// Notify delivers a freshly learned or refreshed record to every matching
// registration: an exact (name, type) match, and any ANY-type registration
// on the same name.
func (t *Tracker) Notify(rec record.Record) {
	t.deliver(rec.Key(), rec, false)
	if rec.Type != message.TypeANY {
		t.deliver(record.Key{Name: rec.Key().Name, Type: message.TypeANY}, rec, false)
	}
}

// NotifyExpired delivers a departure sentinel to monitor-mode registrations
// for rec. The scheduler calls it for cached records evicted by TTL expiry
// only; records removed by the cache-flush rule are not reported here.
func (t *Tracker) NotifyExpired(rec record.Record) {
	rec.TTL = 0
	t.deliverMonitorOnly(rec.Key(), rec)
	if rec.Type != message.TypeANY {
		t.deliverMonitorOnly(record.Key{Name: rec.Key().Name, Type: message.TypeANY}, rec)
	}
}

func (t *Tracker) deliver(key record.Key, rec record.Record, expired bool) {
	for _, e := range t.byKey[key] {
		e.callback(rec, expired)
	}
}

func (t *Tracker) deliverMonitorOnly(key record.Key, rec record.Record) {
	for _, e := range t.byKey[key] {
		if e.monitor {
			e.callback(rec, true)
		}
	}
}
