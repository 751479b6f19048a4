package record_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/record"
)

func aRecord(name message.Name, ip string, ttl uint32, unique bool) record.Record {
	return record.Record{
		Name:   name,
		Type:   message.TypeA,
		Class:  message.ClassINET,
		TTL:    ttl,
		Unique: unique,
		Data:   message.AData{IP: net.ParseIP(ip)},
	}
}

func TestPublishIdempotent(t *testing.T) {
	s := record.NewStore()
	r := aRecord("host.local.", "192.0.2.5", 120, true)

	ref1, err := s.Publish(r)
	require.NoError(t, err)

	ref2, err := s.Publish(r)
	assert.ErrorIs(t, err, record.ErrDuplicate)
	assert.Equal(t, ref1, ref2)

	got := s.Lookup("host.local.", message.TypeA, 0)
	require.Len(t, got, 1)
}

func TestPublishUniqueReplacesPrevious(t *testing.T) {
	s := record.NewStore()
	_, err := s.Publish(aRecord("host.local.", "192.0.2.5", 120, true))
	require.NoError(t, err)

	_, err = s.Publish(aRecord("host.local.", "192.0.2.9", 120, true))
	require.NoError(t, err)

	got := s.Lookup("host.local.", message.TypeA, 0)
	require.Len(t, got, 1)
	assert.Equal(t, "192.0.2.9", got[0].Data.(message.AData).IP.String())
}

func TestWithdrawNotFoundIsIdempotent(t *testing.T) {
	s := record.NewStore()
	_, err := s.Withdraw(record.KeyOf("nope.local.", message.TypeA))
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestCacheTTLExpiry(t *testing.T) {
	s := record.NewStore()
	now := int64(1_000_000)
	s.PutCached(aRecord("host.local.", "192.0.2.5", 5, false), now)

	got := s.Lookup("host.local.", message.TypeA, now+3000)
	assert.Len(t, got, 1)

	got = s.Lookup("host.local.", message.TypeA, now+6000)
	assert.Len(t, got, 0)
}

func TestCacheFlushEvictsOlderUniqueEntry(t *testing.T) {
	s := record.NewStore()
	now := int64(1_000_000)
	s.PutCached(aRecord("host.local.", "192.0.2.5", 120, true), now)

	// 5s later a new authoritative (cache-flush) answer arrives with
	// different rdata for the same unique key.
	later := now + 5000
	s.PutCached(aRecord("host.local.", "192.0.2.9", 120, true), later)

	got := s.Lookup("host.local.", message.TypeA, later)
	require.Len(t, got, 1)
	assert.Equal(t, "192.0.2.9", got[0].Data.(message.AData).IP.String())
}

func TestCacheFlushDoesNotEvictWithinOneSecond(t *testing.T) {
	s := record.NewStore()
	now := int64(1_000_000)
	s.PutCached(aRecord("host.local.", "192.0.2.5", 120, true), now)

	// Another answer within the same second: both are plausible duplicates
	// in flight, RFC 6762 says not to flush entries younger than 1s.
	s.PutCached(aRecord("host.local.", "192.0.2.9", 120, true), now+200)

	got := s.Lookup("host.local.", message.TypeA, now+200)
	assert.Len(t, got, 2)
}

func TestCachedGoodbyeEvictsImmediately(t *testing.T) {
	s := record.NewStore()
	now := int64(1_000_000)
	s.PutCached(aRecord("_ipp._tcp.local.", "192.0.2.5", 120, false), now)
	s.PutCached(record.Record{
		Name: "_ipp._tcp.local.", Type: message.TypeA, TTL: 0,
		Data: message.AData{IP: net.ParseIP("192.0.2.5")},
	}, now+10)

	got := s.Lookup("_ipp._tcp.local.", message.TypeA, now+10)
	assert.Len(t, got, 0)
}

func TestExpireDueReportsNextDeadline(t *testing.T) {
	s := record.NewStore()
	now := int64(0)
	s.PutCached(aRecord("a.local.", "10.0.0.1", 5, false), now)
	s.PutCached(aRecord("b.local.", "10.0.0.2", 10, false), now)

	evicted, next, ok := s.ExpireDue(now)
	assert.Empty(t, evicted)
	require.True(t, ok)
	assert.Equal(t, int64(5000), next)

	evicted, next, ok = s.ExpireDue(5000)
	assert.Len(t, evicted, 1)
	require.True(t, ok)
	assert.Equal(t, int64(10000), next)

	evicted, _, ok = s.ExpireDue(10000)
	assert.Len(t, evicted, 1)
	assert.False(t, ok)
}

func TestLookupANYMatchesAllTypes(t *testing.T) {
	s := record.NewStore()
	_, err := s.Publish(record.Record{
		Name: "printer._ipp._tcp.local.", Type: message.TypeSRV, TTL: 120,
		Data: message.SRVData{Port: 631, Target: "host.local."},
	})
	require.NoError(t, err)
	_, err = s.Publish(record.Record{
		Name: "printer._ipp._tcp.local.", Type: message.TypeTXT, TTL: 120,
		Data: message.TXTData{Strings: []string{"rp=ipp"}},
	})
	require.NoError(t, err)

	got := s.Lookup("printer._ipp._tcp.local.", message.TypeANY, 0)
	assert.Len(t, got, 2)
}

func TestRemoveInvalidatesRef(t *testing.T) {
	s := record.NewStore()
	ref, err := s.Publish(aRecord("host.local.", "192.0.2.5", 120, true))
	require.NoError(t, err)

	s.Remove(ref)
	_, ok := s.Get(ref)
	assert.False(t, ok)

	got := s.Lookup("host.local.", message.TypeA, 0)
	assert.Len(t, got, 0)
}
