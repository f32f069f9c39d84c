package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// unorderedReliable delivers every distinct sequence exactly once, in
// whatever order retransmission happens to produce. Duplicate arrivals are
// deduplicated against the acknowledgment window.
type unorderedReliable struct {
	reliableSender
	acks  ackTracker
	reasm *packet.Reassembler
	ready []Message
	hooks hooks
}

func newUnorderedReliable(cfg engineConfig) (*unorderedReliable, error) {
	reasm, err := packet.NewReassembler(cfg.reassemblyCap, 0)
	if err != nil {
		return nil, err
	}
	return &unorderedReliable{
		reliableSender: newReliableSender(cfg.resendInterval, cfg.hooks),
		reasm:          reasm,
		hooks:          cfg.hooks,
	}, nil
}

func (e *unorderedReliable) Kind() Kind { return UnorderedReliable }

func (e *unorderedReliable) Update(now time.Time, _ tick.Tick) {
	e.sweepResends(now)
}

func (e *unorderedReliable) BufferSend(cs []packet.Container, t tick.Tick) {
	e.bufferSend(cs, t)
}

func (e *unorderedReliable) PendingSends(now time.Time) []Send { return e.pendingSends(now) }

func (e *unorderedReliable) RecvAck(ackSeq uint16, ackBits uint32) { e.recvAck(ackSeq, ackBits) }

func (e *unorderedReliable) AckState() (uint16, uint32, bool) { return e.acks.state() }

func (e *unorderedReliable) BufferRecv(seq uint16, t tick.Tick, c packet.Container, now time.Time) error {
	if e.acks.seen(seq) {
		return nil
	}
	e.acks.observe(seq)
	if data, done := e.reasm.Add("", c, now); done {
		e.ready = append(e.ready, Message{Data: data, Tick: t})
	}
	return nil
}

func (e *unorderedReliable) ReadMessage() (Message, bool) {
	if len(e.ready) == 0 {
		return Message{}, false
	}
	m := e.ready[0]
	e.ready = e.ready[1:]
	return m, true
}
