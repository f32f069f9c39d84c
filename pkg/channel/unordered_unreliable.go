package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// unorderedUnreliable is fire-and-forget: messages are delivered in arrival
// order, duplicates and gaps included.
type unorderedUnreliable struct {
	q     sendQueue
	acks  ackTracker
	reasm *packet.Reassembler
	ready []Message
	hooks hooks
}

func newUnorderedUnreliable(cfg engineConfig) (*unorderedUnreliable, error) {
	reasm, err := packet.NewReassembler(cfg.reassemblyCap, cfg.reassemblyTimeout)
	if err != nil {
		return nil, err
	}
	e := &unorderedUnreliable{reasm: reasm, hooks: cfg.hooks}
	reasm.OnEvict = e.hooks.onReasmTimeout
	return e, nil
}

func (e *unorderedUnreliable) Kind() Kind { return UnorderedUnreliable }

func (e *unorderedUnreliable) Update(now time.Time, _ tick.Tick) {
	e.reasm.Sweep(now)
}

func (e *unorderedUnreliable) BufferSend(cs []packet.Container, t tick.Tick) {
	for _, c := range cs {
		e.q.push(c, t)
	}
}

func (e *unorderedUnreliable) PendingSends(_ time.Time) []Send { return e.q.drain() }

func (e *unorderedUnreliable) RecvAck(uint16, uint32) {}

func (e *unorderedUnreliable) AckState() (uint16, uint32, bool) { return e.acks.state() }

func (e *unorderedUnreliable) BufferRecv(seq uint16, t tick.Tick, c packet.Container, now time.Time) error {
	e.acks.observe(seq)
	if data, done := e.reasm.Add("", c, now); done {
		e.ready = append(e.ready, Message{Data: data, Tick: t})
	}
	return nil
}

func (e *unorderedUnreliable) ReadMessage() (Message, bool) {
	if len(e.ready) == 0 {
		return Message{}, false
	}
	m := e.ready[0]
	e.ready = e.ready[1:]
	return m, true
}
