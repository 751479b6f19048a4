// Package scheduler drives the mDNS state machine (§4.3): probing,
// announcing, goodbye, query-response timing with known-answer suppression
// and aggregation delay, and local-query re-issuance with backoff.
package scheduler

import (
	"os"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/cenkalti/backoff/v4"

	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/query"
	"github.com/jwmdns/mdnsd/record"
)

// OutboundPacket is one wire message ready to send, with its destination
// (§4.5 Responder.output).
type OutboundPacket struct {
	Bytes     []byte
	Multicast bool
	Unicast   message.Endpoint
}

// ConflictFunc is invoked once per detected conflict (§4.5 OnConflict).
type ConflictFunc func(key record.Key)

// RecordReceivedFunc is invoked for every parsed incoming record, before
// cache insertion (§4.5 OnRecordReceived).
type RecordReceivedFunc func(rec record.Record)

// Config wires a Scheduler to its collaborators.
type Config struct {
	Store            *record.Store
	Tracker          *query.Tracker
	Rand             Rand
	Logger           *log.Logger
	OnConflict       ConflictFunc
	OnRecordReceived RecordReceivedFunc
}

type pendingResponse struct {
	dueAt      int64
	multicast  bool
	dst        message.Endpoint
	answers    []record.Ref
	additional []record.Ref
}

type queryIssue struct {
	key      record.Key
	back     *backoff.ExponentialBackOff
	dueAt    int64
	lastSent int64
}

// Scheduler owns per-record state machines, the pending-response
// aggregation set, and local-query re-issuance, and produces outbound
// packets for Responder.Output to drain.
type Scheduler struct {
	store   *record.Store
	tracker *query.Tracker
	rand    Rand
	log     *log.Logger

	onConflict       ConflictFunc
	onRecordReceived RecordReceivedFunc

	states   map[record.Ref]*recordState
	order    []record.Ref // stable insertion order (§5 FIFO ordering)
	keyIndex map[record.Key][]record.Ref

	pending []*pendingResponse
	issues  map[record.Key]*queryIssue

	outbox []OutboundPacket
}

// New builds a Scheduler. Store and Tracker must be non-nil; Rand and
// Logger default to production values if omitted.
func New(cfg Config) *Scheduler {
	r := cfg.Rand
	if r == nil {
		r = NewRand(1)
	}
	l := cfg.Logger
	if l == nil {
		l = &log.Logger{
			Handler: cli.New(os.Stdout),
			Level:   log.InfoLevel,
		}
	}
	return &Scheduler{
		store:            cfg.Store,
		tracker:          cfg.Tracker,
		rand:             r,
		log:              l,
		onConflict:       cfg.OnConflict,
		onRecordReceived: cfg.OnRecordReceived,
		states:           make(map[record.Ref]*recordState),
		keyIndex:         make(map[record.Key][]record.Ref),
		issues:           make(map[record.Key]*queryIssue),
	}
}

// SetOnConflict replaces the conflict callback (§4.5 Responder.OnConflict).
func (s *Scheduler) SetOnConflict(fn ConflictFunc) { s.onConflict = fn }

// SetOnRecordReceived replaces the inbound-record callback (§4.5
// Responder.OnRecordReceived).
func (s *Scheduler) SetOnRecordReceived(fn RecordReceivedFunc) { s.onRecordReceived = fn }

// Publish adds rec to the owned set and starts its state machine: Probe for
// unique records, Announce directly for shared ones (§4.3).
func (s *Scheduler) Publish(rec record.Record, now int64) (record.Ref, error) {
	ref, err := s.store.Publish(rec)
	if err != nil {
		return ref, err
	}
	key := rec.Key()
	st := newRecordState(ref, key, rec.Unique, now)
	s.states[ref] = st
	s.order = append(s.order, ref)
	s.keyIndex[key] = append(s.keyIndex[key], ref)
	return ref, nil
}

// Withdraw transitions every owned record at key into Goodbye (§4.3, §4.2).
func (s *Scheduler) Withdraw(key record.Key, now int64) error {
	refs, err := s.store.Withdraw(key)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if st, ok := s.states[ref]; ok {
			st.phase = PhaseGoodbye
			st.n = 0
			st.dueAt = now
		}
	}
	return nil
}

// Shutdown transitions every still-live owned record to Goodbye (§4.5).
func (s *Scheduler) Shutdown(now int64) {
	for _, ref := range s.order {
		st := s.states[ref]
		if st == nil || st.phase == phaseRemoved || st.phase == PhaseGoodbye {
			continue
		}
		st.phase = PhaseGoodbye
		st.n = 0
		st.dueAt = now
	}
}

// StartQuery begins periodic re-issuance of (name, type) questions on a
// backoff schedule (§4.3 Query issuance, §4.4). Re-issuance stops once the
// tracker reports no more active registrations for the key.
func (s *Scheduler) StartQuery(key record.Key, now int64) {
	if _, ok := s.issues[key]; ok {
		return
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Second,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Hour,
		MaxElapsedTime:      0, // never stop re-issuing on its own
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	s.issues[key] = &queryIssue{key: key, back: b, dueAt: now}
}

// StopQuery halts re-issuance for key; called once the tracker reports the
// key has no more active registrations.
func (s *Scheduler) StopQuery(key record.Key) {
	delete(s.issues, key)
}

// Input processes one decoded inbound message (§4.5 Responder.input).
func (s *Scheduler) Input(msg message.Message, from message.Endpoint, fromPort int, now int64) {
	s.ingestRecords(msg.Answers, now)
	s.ingestRecords(msg.Additionals, now)
	s.checkProbeConflicts(msg.Authorities, now)

	if msg.Header.Response {
		return
	}

	multicast := fromPort == message.Port
	var immediate, delayed, additional []record.Ref
	seen := make(map[record.Ref]bool)

	for _, q := range msg.Questions {
		for _, ref := range s.matchQuestion(q, now) {
			if seen[ref] {
				continue
			}
			rec, ok := s.store.Get(ref)
			if !ok {
				continue
			}
			if knownAnswerSuppressed(rec, msg.Answers, now) {
				continue
			}
			seen[ref] = true
			if rec.Unique {
				immediate = append(immediate, ref)
			} else {
				delayed = append(delayed, ref)
			}
			for _, extra := range s.additionalsFor(rec, now) {
				if !seen[extra] {
					additional = append(additional, extra)
				}
			}
		}
	}

	dst := from
	if multicast {
		dst = message.Multicast4()
	}

	if len(immediate) > 0 {
		s.emitResponse(immediate, additional, multicast, dst, now)
	}
	if len(delayed) > 0 {
		s.mergePending(delayed, additional, multicast, dst, now)
	}
}

func (s *Scheduler) ingestRecords(rrs []message.Resource, now int64) {
	for _, rr := range rrs {
		rec := record.Record{
			Name:   rr.Header.Name,
			Type:   rr.Header.Type,
			Class:  message.ClassINET,
			TTL:    rr.Header.TTL,
			Unique: rr.Header.CacheFlush,
			Data:   rr.Data,
		}
		if s.onRecordReceived != nil {
			s.onRecordReceived(rec)
		}
		s.checkAnswerConflict(rec)
		s.suppressPendingForInboundAnswer(rec)
		s.store.PutCached(rec, now)
		s.tracker.Notify(rec)
	}
}

// checkAnswerConflict implements §4.3's conflict rule for plain (non-probe)
// inbound records: while our record is still Probing, any inbound record
// with the same key and different rdata conflicts; once it is Published,
// only an inbound unique (cache-flush) record with differing rdata does.
// Unlike the probe-vs-probe tiebreak in checkProbeConflicts, the
// peer here isn't probing — it's already asserting ownership of the name
// with its own answer — so this is an immediate Conflict, no comparison
// needed to decide who wins.
func (s *Scheduler) checkAnswerConflict(rec record.Record) {
	key := rec.Key()
	for _, ref := range s.keyIndex[key] {
		st := s.states[ref]
		if st == nil || (st.phase != PhasePublished && st.phase != PhaseProbe) {
			continue
		}
		if st.phase == PhasePublished && !rec.Unique {
			continue
		}
		cur, ok := s.store.Get(ref)
		if !ok {
			continue
		}
		if message.CompareResource(cur.Type, cur.Data, rec.Type, rec.Data) != 0 {
			s.declareConflict(st)
		}
	}
}

// checkProbeConflicts implements the second half of §4.3's probe-time
// conflict rule: an inbound probing Authority record that lexicographically
// follows ours, i.e. wins the §8.2 tiebreak, conflicts. The first half — a plain
// same-key, differing-rdata Answer/Additional — is handled by
// checkAnswerConflict, since that peer isn't probing and needs no tiebreak.
func (s *Scheduler) checkProbeConflicts(authorities []message.Resource, now int64) {
	for _, rr := range authorities {
		key := record.KeyOf(rr.Header.Name, rr.Header.Type)
		for _, ref := range s.keyIndex[key] {
			st := s.states[ref]
			if st == nil || st.phase != PhaseProbe {
				continue
			}
			cur, ok := s.store.Get(ref)
			if !ok {
				continue
			}
			cmp := message.CompareResource(cur.Type, cur.Data, rr.Header.Type, rr.Data)
			if cmp != 0 && cmp < 0 {
				// Theirs wins the tiebreak.
				s.declareConflict(st)
			}
		}
	}
}

func (s *Scheduler) declareConflict(st *recordState) {
	if st.phase == PhaseConflict || st.phase == phaseRemoved {
		return
	}
	refs, err := s.store.Withdraw(st.key)
	if err == nil {
		for _, ref := range refs {
			s.store.Remove(ref)
			if other := s.states[ref]; other != nil {
				other.phase = PhaseConflict
			}
		}
	} else {
		st.phase = PhaseConflict
	}
	if s.onConflict != nil {
		s.onConflict(st.key)
	}
}

// suppressPendingForInboundAnswer implements "if another responder
// multicasts the same answer during the delay, the local response is
// suppressed" (§4.3).
func (s *Scheduler) suppressPendingForInboundAnswer(rec record.Record) {
	for _, p := range s.pending {
		p.answers = removeMatchingRef(p.answers, s.store, rec)
	}
}

func removeMatchingRef(refs []record.Ref, store *record.Store, rec record.Record) []record.Ref {
	out := refs[:0]
	for _, ref := range refs {
		cur, ok := store.Get(ref)
		if ok && cur.Key() == rec.Key() && recordsEqualData(cur, rec) {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func recordsEqualData(a, b record.Record) bool {
	return message.CompareResource(a.Type, a.Data, b.Type, b.Data) == 0
}

// knownAnswerSuppressed reports whether rec should be omitted from a
// response because the querier already listed it with at least half its
// true TTL remaining (§4.3).
func knownAnswerSuppressed(rec record.Record, known []message.Resource, now int64) bool {
	for _, a := range known {
		if a.Header.Name.Lower() != rec.Name.Lower() || a.Header.Type != rec.Type {
			continue
		}
		if message.CompareResource(rec.Type, rec.Data, a.Header.Type, a.Data) != 0 {
			continue
		}
		if uint64(a.Header.TTL)*2 >= uint64(rec.TTL) {
			return true
		}
	}
	return false
}

func (s *Scheduler) matchQuestion(q message.Question, now int64) []record.Ref {
	if q.Type == message.TypeANY {
		var out []record.Ref
		lower := q.Name.Lower()
		for key, refs := range s.keyIndex {
			if key.Name != lower {
				continue
			}
			out = append(out, s.filterAnswerable(refs)...)
		}
		return out
	}
	key := record.KeyOf(q.Name, q.Type)
	return s.filterAnswerable(s.keyIndex[key])
}

func (s *Scheduler) filterAnswerable(refs []record.Ref) []record.Ref {
	var out []record.Ref
	for _, ref := range refs {
		st := s.states[ref]
		if st == nil {
			continue
		}
		if st.phase == PhasePublished || st.phase == PhaseAnnounce {
			out = append(out, ref)
		}
	}
	return out
}

// additionalsFor implements §4.3's additional-record bundling: TXT/SRV when
// a PTR is answered for the instance, A/AAAA when an SRV is answered.
func (s *Scheduler) additionalsFor(rec record.Record, now int64) []record.Ref {
	var out []record.Ref
	switch data := rec.Data.(type) {
	case message.PTRData:
		out = append(out, s.refsForKey(record.KeyOf(data.Name, message.TypeSRV))...)
		out = append(out, s.refsForKey(record.KeyOf(data.Name, message.TypeTXT))...)
	case message.SRVData:
		out = append(out, s.refsForKey(record.KeyOf(data.Target, message.TypeA))...)
		out = append(out, s.refsForKey(record.KeyOf(data.Target, message.TypeAAAA))...)
	}
	return out
}

func (s *Scheduler) refsForKey(key record.Key) []record.Ref {
	return s.filterAnswerable(s.keyIndex[key])
}

func (s *Scheduler) emitResponse(answers, additional []record.Ref, multicast bool, dst message.Endpoint, now int64) {
	packets := s.buildPackets(answers, additional, multicast, dst, now)
	s.outbox = append(s.outbox, packets...)
}

func (s *Scheduler) mergePending(answers, additional []record.Ref, multicast bool, dst message.Endpoint, now int64) {
	for _, p := range s.pending {
		if p.multicast == multicast && p.dst.Equal(dst) {
			p.answers = append(p.answers, answers...)
			p.additional = append(p.additional, additional...)
			return
		}
	}
	s.pending = append(s.pending, &pendingResponse{
		dueAt:      now + jitter(s.rand, 20, 100), // 20-120ms uniform (§4.3)
		multicast:  multicast,
		dst:        dst,
		answers:    answers,
		additional: additional,
	})
}

func (s *Scheduler) flushPending(p *pendingResponse) {
	if len(p.answers) == 0 {
		return
	}
	packets := s.buildPackets(p.answers, p.additional, p.multicast, p.dst, p.dueAt)
	s.outbox = append(s.outbox, packets...)
}

func (s *Scheduler) buildPackets(answerRefs, additionalRefs []record.Ref, multicast bool, dst message.Endpoint, now int64) []OutboundPacket {
	answers := s.resolveResources(answerRefs, now)
	additionals := s.resolveResources(additionalRefs, now)
	if len(answers) == 0 {
		return nil
	}
	header := message.Header{Response: true, Authoritative: true}
	chunks, err := message.EncodeSplit(header, nil, answers, additionals)
	if err != nil {
		s.log.Warnf("mdnsd: failed to encode response: %v", err)
		return nil
	}
	out := make([]OutboundPacket, 0, len(chunks))
	for _, b := range chunks {
		out = append(out, OutboundPacket{Bytes: b, Multicast: multicast, Unicast: dst})
	}
	return out
}

func (s *Scheduler) resolveResources(refs []record.Ref, now int64) []message.Resource {
	var out []message.Resource
	for _, ref := range refs {
		rec, ok := s.store.Get(ref)
		if !ok {
			continue
		}
		out = append(out, message.Resource{
			Header: message.ResourceHeader{
				Name:       rec.Name,
				Type:       rec.Type,
				CacheFlush: rec.Unique,
				TTL:        rec.RemainingTTL(now),
			},
			Data: rec.Data,
		})
	}
	return out
}

// Output pops the next ready outbound packet, advancing timers due at or
// before now first (§4.5, §5: ordered by match/schedule time, FIFO).
func (s *Scheduler) Output(now int64) (OutboundPacket, bool) {
	s.advance(now)
	if len(s.outbox) == 0 {
		return OutboundPacket{}, false
	}
	p := s.outbox[0]
	s.outbox = s.outbox[1:]
	return p, true
}

// Sleep reports the next due deadline with no side effects (§4.5,
// §4.3 "Scheduling clock").
func (s *Scheduler) Sleep(now int64) (int64, bool) {
	if len(s.outbox) > 0 {
		return now, true
	}
	var next int64
	has := false
	consider := func(t int64) {
		if !has || t < next {
			next = t
			has = true
		}
	}
	for _, ref := range s.order {
		st := s.states[ref]
		if st == nil || st.phase == phaseRemoved || st.phase == PhasePublished || st.phase == PhaseConflict {
			continue
		}
		consider(st.dueAt)
	}
	for _, p := range s.pending {
		consider(p.dueAt)
	}
	for _, iss := range s.issues {
		consider(iss.dueAt)
	}
	if nextExpiry, ok := s.store.PeekExpiry(now); ok {
		consider(nextExpiry)
	}
	return next, has
}

func (s *Scheduler) advance(now int64) {
	for _, ref := range s.order {
		st := s.states[ref]
		if st == nil || st.phase == phaseRemoved || st.dueAt > now {
			continue
		}
		switch st.phase {
		case PhaseProbe:
			s.sendProbe(st, now)
		case PhaseAnnounce:
			s.sendAnnounce(st, now)
		case PhaseGoodbye:
			s.sendGoodbye(st, now)
		}
	}

	var remaining []*pendingResponse
	for _, p := range s.pending {
		if p.dueAt > now {
			remaining = append(remaining, p)
			continue
		}
		s.flushPending(p)
	}
	s.pending = remaining

	for _, iss := range s.issues {
		if iss.dueAt > now {
			continue
		}
		s.sendQuestion(iss, now)
	}

	evicted, _, _ := s.store.ExpireDue(now)
	for _, rec := range evicted {
		s.tracker.NotifyExpired(rec)
	}
}

func (s *Scheduler) sendProbe(st *recordState, now int64) {
	rec, ok := s.store.Get(st.ref)
	if !ok {
		st.phase = phaseRemoved
		return
	}
	msg := message.Message{
		Header:    message.Header{Response: false},
		Questions: []message.Question{{Name: rec.Name, Type: message.TypeANY}},
		Authorities: []message.Resource{{
			Header: message.ResourceHeader{Name: rec.Name, Type: rec.Type, TTL: rec.TTL},
			Data:   rec.Data,
		}},
	}
	s.enqueueOne(msg, true, message.Endpoint{}, now)

	st.n++
	if st.n >= probeCount {
		st.phase = PhaseAnnounce
		st.n = 0
		st.dueAt = now
	} else {
		// probeInterval ± probeInterval/4.
		st.dueAt = now + jitter(s.rand, probeInterval-probeInterval/4, probeInterval/2)
	}
}

func (s *Scheduler) sendAnnounce(st *recordState, now int64) {
	rec, ok := s.store.Get(st.ref)
	if !ok {
		st.phase = phaseRemoved
		return
	}
	msg := message.Message{
		Header: message.Header{Response: true, Authoritative: true},
		Answers: []message.Resource{{
			Header: message.ResourceHeader{Name: rec.Name, Type: rec.Type, TTL: rec.TTL, CacheFlush: rec.Unique},
			Data:   rec.Data,
		}},
	}
	s.enqueueOne(msg, true, message.Endpoint{}, now)

	st.n++
	if st.n >= announceCount {
		st.phase = PhasePublished
		st.n = 0
	} else {
		st.dueAt = now + announceInterval
	}
}

func (s *Scheduler) sendGoodbye(st *recordState, now int64) {
	rec, ok := s.store.Get(st.ref)
	if ok {
		msg := message.Message{
			Header: message.Header{Response: true, Authoritative: true},
			Answers: []message.Resource{{
				Header: message.ResourceHeader{Name: rec.Name, Type: rec.Type, TTL: 0, CacheFlush: rec.Unique},
				Data:   rec.Data,
			}},
		}
		s.enqueueOne(msg, true, message.Endpoint{}, now)
	}

	st.n++
	if st.n >= goodbyeCount {
		s.store.Remove(st.ref)
		st.phase = phaseRemoved
	} else {
		st.dueAt = now + goodbyeInterval
	}
}

func (s *Scheduler) sendQuestion(iss *queryIssue, now int64) {
	msg := message.Message{
		Header:    message.Header{Response: false},
		Questions: []message.Question{{Name: iss.key.Name, Type: iss.key.Type}},
		Answers:   s.knownAnswersFor(iss.key, now),
	}
	s.enqueueOne(msg, true, message.Endpoint{}, now)

	iss.lastSent = now
	d := iss.back.NextBackOff()
	iss.dueAt = now + d.Milliseconds()
}

// knownAnswersFor gathers cached records the local cache already holds for
// key with at least half their TTL remaining, for inclusion in a
// retransmitted question (§4.3 "Query issuance").
func (s *Scheduler) knownAnswersFor(key record.Key, now int64) []message.Resource {
	var out []message.Resource
	for _, rec := range s.store.Lookup(key.Name, key.Type, now) {
		if rec.Owned {
			continue
		}
		remaining := rec.RemainingTTL(now)
		if uint64(remaining)*2 < uint64(rec.TTL) {
			continue
		}
		out = append(out, message.Resource{
			Header: message.ResourceHeader{Name: rec.Name, Type: rec.Type, TTL: remaining, CacheFlush: rec.Unique},
			Data:   rec.Data,
		})
	}
	return out
}

func (s *Scheduler) enqueueOne(msg message.Message, multicast bool, dst message.Endpoint, now int64) {
	b, err := message.Encode(msg)
	if err != nil {
		s.log.Warnf("mdnsd: failed to encode outgoing message: %v", err)
		return
	}
	s.outbox = append(s.outbox, OutboundPacket{Bytes: b, Multicast: multicast, Unicast: dst})
}
