package message_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwmdns/mdnsd/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := message.Message{
		Header: message.Header{Response: true, Authoritative: true},
		Questions: []message.Question{
			{Name: "_ipp._tcp.local.", Type: message.TypePTR},
		},
		Answers: []message.Resource{
			{
				Header: message.ResourceHeader{Name: "_ipp._tcp.local.", Type: message.TypePTR, TTL: 120},
				Data:   message.PTRData{Name: "printer._ipp._tcp.local."},
			},
			{
				Header: message.ResourceHeader{Name: "printer._ipp._tcp.local.", Type: message.TypeSRV, TTL: 120, CacheFlush: true},
				Data:   message.SRVData{Priority: 0, Weight: 0, Port: 631, Target: "host.local."},
			},
			{
				Header: message.ResourceHeader{Name: "printer._ipp._tcp.local.", Type: message.TypeTXT, TTL: 120, CacheFlush: true},
				Data:   message.TXTData{Strings: []string{"txtvers=1", "rp=printer"}},
			},
			{
				Header: message.ResourceHeader{Name: "host.local.", Type: message.TypeA, TTL: 120, CacheFlush: true},
				Data:   message.AData{IP: net.ParseIP("192.0.2.5")},
			},
		},
	}

	b, err := message.Encode(msg)
	require.NoError(t, err)
	require.LessOrEqual(t, len(b), message.MaxPacketSize)

	decoded, err := message.Decode(b)
	require.NoError(t, err)

	assert.Equal(t, msg.Header.Response, decoded.Header.Response)
	assert.Equal(t, msg.Header.Authoritative, decoded.Header.Authoritative)
	require.Len(t, decoded.Questions, 1)
	assert.Equal(t, msg.Questions[0].Name, decoded.Questions[0].Name)
	assert.Equal(t, msg.Questions[0].Type, decoded.Questions[0].Type)
	require.Len(t, decoded.Answers, 4)
	for i := range msg.Answers {
		assert.Equal(t, msg.Answers[i].Header.Name, decoded.Answers[i].Header.Name)
		assert.Equal(t, msg.Answers[i].Header.Type, decoded.Answers[i].Header.Type)
		assert.Equal(t, msg.Answers[i].Header.CacheFlush, decoded.Answers[i].Header.CacheFlush)
		assert.Equal(t, msg.Answers[i].Data.String(), decoded.Answers[i].Data.String())
	}
}

func TestEncodeCompressesRepeatedSuffixes(t *testing.T) {
	msg := message.Message{
		Header: message.Header{Response: true},
		Answers: []message.Resource{
			{Header: message.ResourceHeader{Name: "a.example.local.", Type: message.TypeA, TTL: 1}, Data: message.AData{IP: net.ParseIP("10.0.0.1")}},
			{Header: message.ResourceHeader{Name: "b.example.local.", Type: message.TypeA, TTL: 1}, Data: message.AData{IP: net.ParseIP("10.0.0.2")}},
		},
	}
	compressed, err := message.Encode(msg)
	require.NoError(t, err)

	// Un-compressible variant: distinct suffixes so no pointer can be used.
	distinct := message.Message{
		Header: message.Header{Response: true},
		Answers: []message.Resource{
			{Header: message.ResourceHeader{Name: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.one.", Type: message.TypeA, TTL: 1}, Data: message.AData{IP: net.ParseIP("10.0.0.1")}},
			{Header: message.ResourceHeader{Name: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb.two.", Type: message.TypeA, TTL: 1}, Data: message.AData{IP: net.ParseIP("10.0.0.2")}},
		},
	}
	uncompressed, err := message.Encode(distinct)
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(uncompressed)+10, "compression should keep the shared-suffix message compact")
}

func TestDecodeRejectsPointerToItself(t *testing.T) {
	// Header (12 bytes) + a single question whose name is just a pointer
	// pointing at its own offset (12).
	b := make([]byte, 12)
	putHeaderCounts(b, 1, 0, 0, 0)
	b = append(b, 0xC0, 0x0C) // pointer to offset 12, i.e. itself
	b = append(b, 0, 1, 0, 1) // type A, class IN
	_, err := message.Decode(b)
	assert.ErrorIs(t, err, message.ErrMalformedPacket)
}

func TestDecodeRejectsPointerPastEnd(t *testing.T) {
	b := make([]byte, 12)
	putHeaderCounts(b, 1, 0, 0, 0)
	b = append(b, 0xCF, 0xFF) // pointer to offset 0xFFF, far beyond the packet
	b = append(b, 0, 1, 0, 1)
	_, err := message.Decode(b)
	assert.ErrorIs(t, err, message.ErrMalformedPacket)
}

func TestDecodeRejectsReservedLabelBits(t *testing.T) {
	b := make([]byte, 12)
	putHeaderCounts(b, 1, 0, 0, 0)
	b = append(b, 0x40, 'x') // top bits 01: reserved
	_, err := message.Decode(b)
	assert.ErrorIs(t, err, message.ErrMalformedPacket)
}

func TestDecodeRejectsNameOver255Bytes(t *testing.T) {
	// Wire length counts each label's length byte and the terminating zero.
	// 3 labels of 63 bytes plus one of 61 lands exactly at 255 (success);
	// 3 labels of 63 bytes plus one of 62 is 256, one over the limit.
	label63 := make([]byte, 63)
	for i := range label63 {
		label63[i] = 'a'
	}

	ok := make([]byte, 12)
	putHeaderCounts(ok, 1, 0, 0, 0)
	// 3*(63+1) = 192, plus one 61-byte label (62) plus terminator (1) = 255.
	label61 := label63[:61]
	for _, l := range [][]byte{label63, label63, label63, label61} {
		ok = append(ok, byte(len(l)))
		ok = append(ok, l...)
	}
	ok = append(ok, 0, 0, 1, 0, 1)
	decoded, err := message.Decode(ok)
	require.NoError(t, err)
	require.Len(t, decoded.Questions, 1)

	over := make([]byte, 12)
	putHeaderCounts(over, 1, 0, 0, 0)
	label62 := label63[:62]
	for _, l := range [][]byte{label63, label63, label63, label62} {
		over = append(over, byte(len(l)))
		over = append(over, l...)
	}
	over = append(over, 0, 0, 1, 0, 1)
	_, err = message.Decode(over)
	assert.ErrorIs(t, err, message.ErrMalformedPacket)
}

func TestDecodeNeverPanicsOnArbitraryInput(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0},
		{1, 2, 3},
		make([]byte, 11),
		{0xC0, 0xC0, 0xC0, 0xC0, 0, 0, 0, 0, 0, 0, 0, 0, 0xC0, 0x00},
	}
	for _, in := range inputs {
		_, err := message.Decode(in)
		if err != nil {
			assert.ErrorIs(t, err, message.ErrMalformedPacket)
		}
	}
}

func TestEncodeSplitSetsTruncationOnAllButLast(t *testing.T) {
	var answers []message.Resource
	for i := 0; i < 1000; i++ {
		answers = append(answers, message.Resource{
			Header: message.ResourceHeader{Name: message.Name(randomName(i)), Type: message.TypeA, TTL: 120},
			Data:   message.AData{IP: net.ParseIP("192.0.2.1")},
		})
	}

	packets, err := message.EncodeSplit(message.Header{Response: true, Authoritative: true}, nil, answers, nil)
	require.NoError(t, err)
	require.Greater(t, len(packets), 1)

	for i, p := range packets {
		require.LessOrEqual(t, len(p), message.MaxPacketSize)
		decoded, err := message.Decode(p)
		require.NoError(t, err)
		if i == len(packets)-1 {
			assert.False(t, decoded.Header.Truncated)
		} else {
			assert.True(t, decoded.Header.Truncated)
		}
	}
}

func putHeaderCounts(b []byte, qd, an, ns, ar uint16) {
	b[4], b[5] = byte(qd>>8), byte(qd)
	b[6], b[7] = byte(an>>8), byte(an)
	b[8], b[9] = byte(ns>>8), byte(ns)
	b[10], b[11] = byte(ar>>8), byte(ar)
}

func randomName(i int) string {
	// Deterministic, distinct names. They all share the "example.local."
	// suffix, so after the first record only the leading label and a
	// compression pointer are written per name.
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 0, 16)
	n := i + 1
	for n > 0 {
		b = append(b, letters[n%26])
		n /= 26
	}
	return string(b) + ".example.local."
}
