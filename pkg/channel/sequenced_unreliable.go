package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// sequencedUnreliable is latest-wins: only arrivals newer than the most
// recently delivered sequence are ever surfaced.
//
// A fragmented message is identified by its base sequence (the sequence of
// its first fragment); fragments of one message get consecutive sequences.
type sequencedUnreliable struct {
	q     sendQueue
	acks  ackTracker
	reasm *packet.Reassembler
	ready []Message

	delivered bool
	last      uint16 // base seq of the last delivered message
	hooks     hooks
}

func newSequencedUnreliable(cfg engineConfig) (*sequencedUnreliable, error) {
	reasm, err := packet.NewReassembler(cfg.reassemblyCap, cfg.reassemblyTimeout)
	if err != nil {
		return nil, err
	}
	e := &sequencedUnreliable{reasm: reasm, hooks: cfg.hooks}
	reasm.OnEvict = e.hooks.onReasmTimeout
	return e, nil
}

func (e *sequencedUnreliable) Kind() Kind { return SequencedUnreliable }

func (e *sequencedUnreliable) Update(now time.Time, _ tick.Tick) {
	e.reasm.Sweep(now)
}

func (e *sequencedUnreliable) BufferSend(cs []packet.Container, t tick.Tick) {
	for _, c := range cs {
		e.q.push(c, t)
	}
}

func (e *sequencedUnreliable) PendingSends(_ time.Time) []Send { return e.q.drain() }

func (e *sequencedUnreliable) RecvAck(uint16, uint32) {}

func (e *sequencedUnreliable) AckState() (uint16, uint32, bool) { return e.acks.state() }

func (e *sequencedUnreliable) BufferRecv(seq uint16, t tick.Tick, c packet.Container, now time.Time) error {
	e.acks.observe(seq)
	base := seq - uint16(c.FragIndex)
	if e.delivered && !tick.GreaterThan(base, e.last) {
		// Older than the last delivered sequence at arrival time.
		return nil
	}
	data, done := e.reasm.Add("", c, now)
	if !done {
		return nil
	}
	// Re-check: a newer message may have been delivered while this one
	// was assembling.
	if e.delivered && !tick.GreaterThan(base, e.last) {
		return nil
	}
	e.delivered = true
	e.last = base
	e.ready = append(e.ready, Message{Data: data, Tick: t})
	return nil
}

func (e *sequencedUnreliable) ReadMessage() (Message, bool) {
	if len(e.ready) == 0 {
		return Message{}, false
	}
	m := e.ready[0]
	e.ready = e.ready[1:]
	return m, true
}
