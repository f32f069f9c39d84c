// Package channel implements the per-channel reliability and ordering state
// machines: six kinds, each an independent machine over the packet stream,
// owning sequence counters, acknowledgment tracking, reorder buffers, and
// resend scheduling.
//
// All timers are evaluated lazily inside Update against the caller-supplied
// time; nothing here blocks or touches the wall clock, which keeps the
// engine deterministic under a fixed-step simulation loop.
package channel

import (
	"fmt"
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// Kind identifies one of the six delivery/ordering contracts.
type Kind uint8

const (
	// UnorderedUnreliable delivers as received; duplicates possible.
	UnorderedUnreliable Kind = iota
	// SequencedUnreliable delivers only sequences newer than the last
	// delivered one; older arrivals are discarded.
	SequencedUnreliable
	// OrderedReliable delivers every message exactly once, in send order;
	// gaps block delivery until filled by retransmission.
	OrderedReliable
	// SequencedReliable acknowledges and retransmits every send, but a
	// newer value supersedes an older one still in flight.
	SequencedReliable
	// UnorderedReliable delivers every distinct sequence exactly once, in
	// arbitrary order.
	UnorderedReliable
	// TickUnreliable buffers messages by simulation tick and exposes each
	// for its tick; messages for passed or filled ticks are dropped.
	TickUnreliable
)

// Reliable reports whether the kind acknowledges and retransmits.
func (k Kind) Reliable() bool {
	switch k {
	case OrderedReliable, SequencedReliable, UnorderedReliable:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case UnorderedUnreliable:
		return "unordered_unreliable"
	case SequencedUnreliable:
		return "sequenced_unreliable"
	case OrderedReliable:
		return "ordered_reliable"
	case SequencedReliable:
		return "sequenced_reliable"
	case UnorderedReliable:
		return "unordered_reliable"
	case TickUnreliable:
		return "tick_unreliable"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{
		UnorderedUnreliable, SequencedUnreliable, OrderedReliable,
		SequencedReliable, UnorderedReliable, TickUnreliable,
	} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("channel: unknown kind %q", s)
}

// Message is a complete application message ready for the consumer.
type Message struct {
	Data []byte
	Tick tick.Tick
}

// Send is one container scheduled for the wire with its assigned sequence.
type Send struct {
	Seq       uint16
	Container packet.Container
	Tick      tick.Tick
}

// Engine is one channel's state machine. Instances are owned by a single
// connection and are not safe for concurrent use.
type Engine interface {
	Kind() Kind

	// Update performs periodic bookkeeping: resend sweeps for reliable
	// kinds, reassembly timeout sweeps for unreliable ones, and the
	// current-tick advance for tick-aligned delivery.
	Update(now time.Time, cur tick.Tick)

	// BufferSend queues one outbound message, already split into
	// containers; each container receives its own sequence number.
	BufferSend(cs []packet.Container, t tick.Tick)

	// PendingSends drains everything due on the wire, including
	// retransmissions scheduled by Update.
	PendingSends(now time.Time) []Send

	// RecvAck ingests the peer's acknowledgment state for this channel.
	RecvAck(ackSeq uint16, ackBits uint32)

	// AckState returns the acknowledgment fields to stamp on outgoing
	// packets; ok is false until something has been received.
	AckState() (ackSeq uint16, ackBits uint32, ok bool)

	// BufferRecv ingests one arrived container with its header sequence
	// and tick tag.
	BufferRecv(seq uint16, t tick.Tick, c packet.Container, now time.Time) error

	// ReadMessage pops the next message ready for delivery in the order
	// the kind's contract demands.
	ReadMessage() (Message, bool)
}

// hooks are observability callbacks; any may be nil.
type hooks struct {
	resend       func()
	evict        func()
	reasmTimeout func()
}

func (h hooks) onResend() {
	if h.resend != nil {
		h.resend()
	}
}

func (h hooks) onEvict() {
	if h.evict != nil {
		h.evict()
	}
}

func (h hooks) onReasmTimeout() {
	if h.reasmTimeout != nil {
		h.reasmTimeout()
	}
}
