package responder

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/record"
	"github.com/jwmdns/mdnsd/scheduler"
)

func newTestResponder(t *testing.T) *Responder {
	t.Helper()
	r, err := New(Config{
		Address: net.ParseIP("192.168.1.10"),
		Rand:    scheduler.NewRand(1),
	})
	require.NoError(t, err)
	return r
}

func TestPublishDefaultsTTL(t *testing.T) {
	r := newTestResponder(t)
	rec := record.Record{
		Name:   "host.local.",
		Type:   message.TypeA,
		Unique: true,
		Data:   message.AData{IP: net.ParseIP("10.0.0.1")},
	}
	ref, err := r.Publish(rec, 0)
	require.NoError(t, err)

	stored, ok := r.store.Get(ref)
	require.True(t, ok)
	assert.EqualValues(t, defaultTTL, stored.TTL)
	assert.Equal(t, message.ClassINET, stored.Class)
}

func TestPublishHonorsExplicitTTL(t *testing.T) {
	r := newTestResponder(t)
	rec := record.Record{
		Name: "host.local.", Type: message.TypeA, Unique: true, TTL: 60,
		Data: message.AData{IP: net.ParseIP("10.0.0.1")},
	}
	ref, err := r.Publish(rec, 0)
	require.NoError(t, err)

	stored, ok := r.store.Get(ref)
	require.True(t, ok)
	assert.EqualValues(t, 60, stored.TTL)
}

func TestShutdownRejectsFurtherPublish(t *testing.T) {
	r := newTestResponder(t)
	r.Shutdown(0)

	_, err := r.Publish(record.Record{Name: "host.local.", Type: message.TypeA, Unique: true}, 0)
	assert.ErrorIs(t, err, errShutdown)
}

func TestShutdownIgnoresFurtherInput(t *testing.T) {
	r := newTestResponder(t)
	var received bool
	r.OnRecordReceived(func(record.Record) { received = true })
	r.Shutdown(0)

	r.Input(message.Message{
		Answers: []message.Resource{{
			Header: message.ResourceHeader{Name: "other.local.", Type: message.TypeA},
			Data:   message.AData{IP: net.ParseIP("10.0.0.9")},
		}},
	}, message.Endpoint{}, message.Port, 0)

	assert.False(t, received, "input must be dropped once shut down")
}

func TestQueryDeliversExistingCachedMatch(t *testing.T) {
	r := newTestResponder(t)
	rec := record.Record{
		Name: "peer.local.", Type: message.TypeA, Class: message.ClassINET,
		TTL: 120, Unique: true, Data: message.AData{IP: net.ParseIP("10.0.0.2")},
	}
	r.store.PutCached(rec, 0)

	var got record.Record
	var count int
	r.Query("peer.local.", message.TypeA, false, func(rec record.Record, expired bool) {
		got = rec
		count++
	}, 0)

	assert.Equal(t, 1, count)
	assert.Equal(t, message.Name("peer.local."), got.Name)
}

func TestCancelQueryStopsFurtherDelivery(t *testing.T) {
	r := newTestResponder(t)
	var count int
	h := r.Query("peer.local.", message.TypeA, false, func(record.Record, bool) {
		count++
	}, 0)
	r.CancelQuery(h)

	r.Input(message.Message{
		Answers: []message.Resource{{
			Header: message.ResourceHeader{Name: "peer.local.", Type: message.TypeA, TTL: 120},
			Data:   message.AData{IP: net.ParseIP("10.0.0.3")},
		}},
	}, message.Endpoint{}, message.Port, 0)

	assert.Equal(t, 0, count)
}

func TestOnConflictFires(t *testing.T) {
	r := newTestResponder(t)
	var conflictedKey record.Key
	r.OnConflict(func(key record.Key) { conflictedKey = key })

	rec := record.Record{
		Name: "host.local.", Type: message.TypeA, Unique: true,
		Data: message.AData{IP: net.ParseIP("10.0.0.1")},
	}
	_, err := r.Publish(rec, 0)
	require.NoError(t, err)

	r.Input(message.Message{
		Authorities: []message.Resource{{
			Header: message.ResourceHeader{Name: "host.local.", Type: message.TypeA},
			Data:   message.AData{IP: net.ParseIP("255.255.255.255")},
		}},
	}, message.Endpoint{}, message.Port, 0)

	assert.Equal(t, record.KeyOf("host.local.", message.TypeA), conflictedKey)
}

func TestAddressAccessors(t *testing.T) {
	r := newTestResponder(t)
	assert.Equal(t, "192.168.1.10", r.Address().String())

	r.SetAddress(net.ParseIP("192.168.1.20"))
	assert.Equal(t, "192.168.1.20", r.Address().String())
}

func TestNewWithOptions(t *testing.T) {
	r, err := NewWithOptions(Config{}, WithAddress(net.ParseIP("10.1.1.1")), WithRand(scheduler.NewRand(9)))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", r.Address().String())
}
