// Package responder composes the Message Codec, Record Store, Query Tracker
// and Scheduler into the single public engine object described by §4.5: one
// Responder per link, driven by input/output/sleep from an embedding event
// loop that owns the actual socket.
package responder

import (
	"errors"
	"net"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"github.com/jwmdns/mdnsd/message"
	"github.com/jwmdns/mdnsd/query"
	"github.com/jwmdns/mdnsd/record"
	"github.com/jwmdns/mdnsd/scheduler"
)

// errShutdown is returned by Publish and Withdraw once Shutdown has been
// called (§5: "after [goodbye emissions complete], further input is
// silently dropped" — the same holds for publishing and withdrawing).
// Query does not check it and still registers after Shutdown.
var errShutdown = errors.New("responder: shut down")

// defaultTTL mirrors the teacher's responseTTL and original_source/mdnsd.c's
// default record TTL (§9 Supplemented Features).
const defaultTTL = 120

// Config wires a Responder to its collaborators and initial state, in the
// style of the teacher's own Config (conn.go/mdns.go): a handful of fields,
// every one with a sane zero-value default.
type Config struct {
	// Address is the responder's bound interface address (§4.5 Responder.new).
	Address net.IP
	Logger  *log.Logger
	Rand    scheduler.Rand
}

// Responder is the engine's public composition root (§4.5).
type Responder struct {
	address net.IP
	log     *log.Logger

	store   *record.Store
	tracker *query.Tracker
	sched   *scheduler.Scheduler

	shutdown bool
}

// New builds a Responder bound to address. class is always Internet; this
// engine speaks no other (§3).
func New(cfg Config) (*Responder, error) {
	l := cfg.Logger
	if l == nil {
		l = &log.Logger{
			Handler: cli.New(os.Stdout),
			Level:   log.InfoLevel,
		}
	}

	store := record.NewStore()
	tracker := query.NewTracker()
	sched := scheduler.New(scheduler.Config{
		Store:   store,
		Tracker: tracker,
		Rand:    cfg.Rand,
		Logger:  l,
	})

	r := &Responder{
		address: cfg.Address,
		log:     l,
		store:   store,
		tracker: tracker,
		sched:   sched,
	}
	return r, nil
}

// SetAddress rebinds the responder to a new interface address, for an
// embedder tracking address changes (§1, §9 Supplemented Features: the
// system interface poll loop in cmd/mdnsd).
func (r *Responder) SetAddress(ip net.IP) {
	r.address = ip
}

// Address returns the responder's currently bound address.
func (r *Responder) Address() net.IP { return r.address }

// Publish adds rec to the owned set (§4.2, §4.3). ttl, if zero, defaults to
// defaultTTL (§9 Supplemented Features: per-record TTL override).
func (r *Responder) Publish(rec record.Record, now int64) (record.Ref, error) {
	if r.shutdown {
		return record.Ref{}, errShutdown
	}
	if rec.TTL == 0 {
		rec.TTL = defaultTTL
	}
	if rec.Class == 0 {
		rec.Class = message.ClassINET
	}
	return r.sched.Publish(rec, now)
}

// Withdraw schedules goodbye emissions for every owned record at
// (name, typ), then removes them (§4.2, §4.3).
func (r *Responder) Withdraw(name message.Name, typ message.Type, now int64) error {
	if r.shutdown {
		return errShutdown
	}
	return r.sched.Withdraw(record.KeyOf(name, typ), now)
}

// Query registers a local query for (name, typ). Existing cached matches are
// delivered to callback immediately; subsequent inbound matches follow as
// they arrive. monitor additionally delivers a ttl=0 sentinel when a
// matching record expires (§4.4).
func (r *Responder) Query(name message.Name, typ message.Type, monitor bool, callback query.Callback, now int64) query.Handle {
	key := record.KeyOf(name, typ)
	r.sched.StartQuery(key, now)
	return r.tracker.Query(name, typ, monitor, callback, r.store, now)
}

// CancelQuery removes a registration; its callback is guaranteed never to
// fire after this returns (§5). Re-issuance for (name,typ) stops once no
// registration remains.
func (r *Responder) CancelQuery(h query.Handle) {
	key, ok := r.tracker.Cancel(h)
	if ok && !r.tracker.Active(key) {
		r.sched.StopQuery(key)
	}
}

// OnConflict registers the callback invoked once per detected conflict
// (§4.3, §4.5).
func (r *Responder) OnConflict(cb scheduler.ConflictFunc) {
	r.sched.SetOnConflict(cb)
}

// OnRecordReceived registers the callback invoked for every parsed incoming
// record, before cache insertion (§4.5).
func (r *Responder) OnRecordReceived(cb scheduler.RecordReceivedFunc) {
	r.sched.SetOnRecordReceived(cb)
}

// Input processes one decoded inbound message from src at now (§4.5). Input
// is silently ignored once Shutdown has been called (§5).
func (r *Responder) Input(msg message.Message, from message.Endpoint, fromPort int, now int64) {
	if r.shutdown {
		return
	}
	r.sched.Input(msg, from, fromPort, now)
}

// Output drains the next pending outbound packet, if any, advancing timers
// due at or before now first (§4.5).
func (r *Responder) Output(now int64) (scheduler.OutboundPacket, bool) {
	return r.sched.Output(now)
}

// Sleep reports the next deadline the caller should wake the engine at, or
// false if nothing is scheduled (§4.3 "Scheduling clock", §4.5).
func (r *Responder) Sleep(now int64) (int64, bool) {
	return r.sched.Sleep(now)
}

// Shutdown transitions every owned record to Goodbye. The caller must keep
// draining Output until it returns empty; after that, further Input is
// silently dropped (§5).
func (r *Responder) Shutdown(now int64) {
	r.shutdown = true
	r.sched.Shutdown(now)
}
