package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// sequencedReliable acknowledges and retransmits every send, but the
// consumer only ever needs the most recent value: a newer send supersedes
// an older one still in flight, and the receiver surfaces only messages
// newer than the last delivered one.
type sequencedReliable struct {
	reliableSender
	acks  ackTracker
	reasm *packet.Reassembler
	ready []Message

	delivered bool
	last      uint16 // base seq of the last delivered message
	hooks     hooks
}

func newSequencedReliable(cfg engineConfig) (*sequencedReliable, error) {
	// Reliable fragments are retransmitted, so pending sets never expire.
	reasm, err := packet.NewReassembler(cfg.reassemblyCap, 0)
	if err != nil {
		return nil, err
	}
	e := &sequencedReliable{
		reliableSender: newReliableSender(cfg.resendInterval, cfg.hooks),
		reasm:          reasm,
		hooks:          cfg.hooks,
	}
	return e, nil
}

func (e *sequencedReliable) Kind() Kind { return SequencedReliable }

func (e *sequencedReliable) Update(now time.Time, _ tick.Tick) {
	e.sweepResends(now)
}

// BufferSend queues a new value and stops retransmitting superseded ones.
func (e *sequencedReliable) BufferSend(cs []packet.Container, t tick.Tick) {
	newBase := e.q.nextSeq
	for seq, entry := range e.unacked {
		base := entry.send.Seq - uint16(entry.send.Container.FragIndex)
		if !tick.GreaterThan(base, newBase) && base != newBase {
			delete(e.unacked, seq)
		}
	}
	e.bufferSend(cs, t)
}

func (e *sequencedReliable) PendingSends(now time.Time) []Send { return e.pendingSends(now) }

func (e *sequencedReliable) RecvAck(ackSeq uint16, ackBits uint32) { e.recvAck(ackSeq, ackBits) }

func (e *sequencedReliable) AckState() (uint16, uint32, bool) { return e.acks.state() }

func (e *sequencedReliable) BufferRecv(seq uint16, t tick.Tick, c packet.Container, now time.Time) error {
	if e.acks.seen(seq) {
		// Duplicate: the refreshed ack state is all the sender needs.
		return nil
	}
	e.acks.observe(seq)
	base := seq - uint16(c.FragIndex)
	if e.delivered && !tick.GreaterThan(base, e.last) {
		// Superseded; ack it so resends stop, but never surface it.
		return nil
	}
	data, done := e.reasm.Add("", c, now)
	if !done {
		return nil
	}
	if e.delivered && !tick.GreaterThan(base, e.last) {
		return nil
	}
	e.delivered = true
	e.last = base
	e.ready = append(e.ready, Message{Data: data, Tick: t})
	return nil
}

func (e *sequencedReliable) ReadMessage() (Message, bool) {
	if len(e.ready) == 0 {
		return Message{}, false
	}
	m := e.ready[0]
	e.ready = e.ready[1:]
	return m, true
}
