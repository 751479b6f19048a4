// Package record implements the mDNS record store (§3, §4.2): the
// in-memory mapping from (name, type) to owned and cached resource
// records, TTL bookkeeping, and the cache-flush eviction rule.
package record

import (
	"reflect"

	"github.com/jwmdns/mdnsd/message"
)

// Key identifies a record slot. Names are compared case-insensitively, so
// Key always stores the lowercased form (§3).
type Key struct {
	Name message.Name
	Type message.Type
}

// KeyOf builds the lookup key for a name/type pair.
func KeyOf(name message.Name, typ message.Type) Key {
	return Key{Name: name.Lower(), Type: typ}
}

// Record is one resource record held by the store, either owned (published
// by this responder) or cached (learned from the network).
type Record struct {
	Name   message.Name
	Type   message.Type
	Class  message.Class
	TTL    uint32 // seconds, as last seen/set
	Unique bool   // wire cache-flush bit; exclusivity for owned records
	Data   message.RData

	Owned bool

	// LastUpdate and ExpiresAt are in the caller-supplied monotonic
	// millisecond clock (§4.3 "Scheduling clock"). Only meaningful for
	// cached records.
	LastUpdate int64
	ExpiresAt  int64
}

// Key returns the record's store key.
func (r Record) Key() Key { return KeyOf(r.Name, r.Type) }

// RemainingTTL returns the record's remaining TTL in seconds at time now
// (milliseconds), floored at 0. Owned records are always considered fresh.
func (r Record) RemainingTTL(now int64) uint32 {
	if r.Owned || r.ExpiresAt == 0 {
		return r.TTL
	}
	remainMs := r.ExpiresAt - now
	if remainMs <= 0 {
		return 0
	}
	return uint32(remainMs / 1000)
}

// sameRData reports whether two rdata values are byte-for-byte equivalent,
// used to detect identical answers across publish/refresh calls.
func sameRData(a, b message.RData) bool {
	return reflect.DeepEqual(a, b)
}
