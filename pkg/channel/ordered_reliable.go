package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

type recvItem struct {
	c packet.Container
	t tick.Tick
}

// orderedReliable delivers every message exactly once, in send order. A
// missing sequence blocks delivery; later arrivals wait in the reorder
// buffer until retransmission fills the gap.
type orderedReliable struct {
	reliableSender
	acks ackTracker

	nextRecv   uint16
	reorder    map[uint16]recvItem
	reorderCap int

	// assembling accumulates fragment chunks; containers reach it strictly
	// in sequence order, so fragments of one message arrive contiguously.
	assembling [][]byte
	ready      []Message
	hooks      hooks
}

func newOrderedReliable(cfg engineConfig) (*orderedReliable, error) {
	return &orderedReliable{
		reliableSender: newReliableSender(cfg.resendInterval, cfg.hooks),
		reorder:        make(map[uint16]recvItem),
		reorderCap:     cfg.reorderCap,
		hooks:          cfg.hooks,
	}, nil
}

func (e *orderedReliable) Kind() Kind { return OrderedReliable }

func (e *orderedReliable) Update(now time.Time, _ tick.Tick) {
	e.sweepResends(now)
}

func (e *orderedReliable) BufferSend(cs []packet.Container, t tick.Tick) {
	e.bufferSend(cs, t)
}

func (e *orderedReliable) PendingSends(now time.Time) []Send { return e.pendingSends(now) }

func (e *orderedReliable) RecvAck(ackSeq uint16, ackBits uint32) { e.recvAck(ackSeq, ackBits) }

func (e *orderedReliable) AckState() (uint16, uint32, bool) { return e.acks.state() }

func (e *orderedReliable) BufferRecv(seq uint16, t tick.Tick, c packet.Container, _ time.Time) error {
	if seq != e.nextRecv && !tick.GreaterThan(seq, e.nextRecv) {
		// Already consumed; refresh the ack so the sender stops resending.
		e.acks.observe(seq)
		return nil
	}
	if seq != e.nextRecv {
		if _, dup := e.reorder[seq]; dup {
			e.acks.observe(seq)
			return nil
		}
		if len(e.reorder) >= e.reorderCap {
			// Full reorder buffer: drop without acking, so the peer
			// retransmits once the gap has drained.
			e.hooks.onEvict()
			return nil
		}
		e.reorder[seq] = recvItem{c: c, t: t}
		e.acks.observe(seq)
		return nil
	}
	e.acks.observe(seq)
	e.deliver(c, t)
	e.nextRecv++
	for {
		item, ok := e.reorder[e.nextRecv]
		if !ok {
			break
		}
		delete(e.reorder, e.nextRecv)
		e.deliver(item.c, item.t)
		e.nextRecv++
	}
	return nil
}

func (e *orderedReliable) deliver(c packet.Container, t tick.Tick) {
	if !c.IsFragment() {
		e.ready = append(e.ready, Message{Data: c.Data, Tick: t})
		return
	}
	e.assembling = append(e.assembling, append([]byte(nil), c.Data...))
	if int(c.FragIndex) != int(c.FragCount)-1 {
		return
	}
	size := 0
	for _, ch := range e.assembling {
		size += len(ch)
	}
	out := make([]byte, 0, size)
	for _, ch := range e.assembling {
		out = append(out, ch...)
	}
	e.assembling = nil
	e.ready = append(e.ready, Message{Data: out, Tick: t})
}

func (e *orderedReliable) ReadMessage() (Message, bool) {
	if len(e.ready) == 0 {
		return Message{}, false
	}
	m := e.ready[0]
	e.ready = e.ready[1:]
	return m, true
}
