package query_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/query"
	"github.com/jwmdns/mdnsd/record"
)

func TestQueryDeliversExistingCachedMatchImmediately(t *testing.T) {
	s := record.NewStore()
	s.PutCached(record.Record{
		Name: "host.local.", Type: message.TypeA, TTL: 120,
		Data: message.AData{IP: net.ParseIP("192.0.2.5")},
	}, 0)

	tr := query.NewTracker()
	var got []record.Record
	tr.Query("host.local.", message.TypeA, false, func(r record.Record, expired bool) {
		got = append(got, r)
	}, s, 0)

	require.Len(t, got, 1)
	assert.Equal(t, "192.0.2.5", got[0].Data.(message.AData).IP.String())
}

func TestNotifyDeliversToMatchingQueriesAndANY(t *testing.T) {
	s := record.NewStore()
	tr := query.NewTracker()

	var exact, any int
	tr.Query("host.local.", message.TypeA, false, func(r record.Record, expired bool) { exact++ }, s, 0)
	tr.Query("host.local.", message.TypeANY, false, func(r record.Record, expired bool) { any++ }, s, 0)

	tr.Notify(record.Record{Name: "host.local.", Type: message.TypeA, Data: message.AData{IP: net.ParseIP("192.0.2.5")}})

	assert.Equal(t, 1, exact)
	assert.Equal(t, 1, any)
}

func TestCancelStopsDelivery(t *testing.T) {
	s := record.NewStore()
	tr := query.NewTracker()

	calls := 0
	h := tr.Query("host.local.", message.TypeA, false, func(r record.Record, expired bool) { calls++ }, s, 0)
	tr.Cancel(h)

	tr.Notify(record.Record{Name: "host.local.", Type: message.TypeA, Data: message.AData{IP: net.ParseIP("192.0.2.5")}})
	assert.Equal(t, 0, calls)

	key := record.KeyOf("host.local.", message.TypeA)
	assert.False(t, tr.Active(key))
}

func TestMonitorModeDeliversDepartureSentinel(t *testing.T) {
	s := record.NewStore()
	tr := query.NewTracker()

	var lastTTL uint32 = 999
	var sawExpired bool
	tr.Query("host.local.", message.TypeA, true, func(r record.Record, expired bool) {
		lastTTL = r.TTL
		sawExpired = expired
	}, s, 0)

	tr.NotifyExpired(record.Record{Name: "host.local.", Type: message.TypeA, TTL: 120})
	assert.True(t, sawExpired)
	assert.Equal(t, uint32(0), lastTTL)
}

func TestCancelUnknownHandleIsNoop(t *testing.T) {
	tr := query.NewTracker()
	tr.Cancel(query.Handle{})
}
