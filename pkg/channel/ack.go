package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// ackTracker is the receive-side acknowledgment state: the newest sequence
// seen plus a 32-bit field where bit i covers latest-1-i.
type ackTracker struct {
	started bool
	latest  uint16
	bits    uint32
}

func (a *ackTracker) observe(seq uint16) {
	if !a.started {
		a.started = true
		a.latest = seq
		return
	}
	if tick.GreaterThan(seq, a.latest) {
		d := tick.Diff(seq, a.latest)
		if d > 32 {
			a.bits = 0
		} else {
			a.bits = a.bits<<uint(d) | 1<<uint(d-1)
		}
		a.latest = seq
		return
	}
	if d := tick.Diff(a.latest, seq); d >= 1 && d <= 32 {
		a.bits |= 1 << uint(d-1)
	}
}

// seen reports whether seq was observed. Sequences older than the 32-entry
// window count as seen; by then they have long been processed.
func (a *ackTracker) seen(seq uint16) bool {
	if !a.started {
		return false
	}
	if seq == a.latest {
		return true
	}
	if tick.GreaterThan(seq, a.latest) {
		return false
	}
	d := tick.Diff(a.latest, seq)
	if d > 32 {
		return true
	}
	return a.bits&(1<<uint(d-1)) != 0
}

func (a *ackTracker) state() (uint16, uint32, bool) { return a.latest, a.bits, a.started }

// ackCovers reports whether the peer's (ackSeq, ackBits) pair acknowledges seq.
func ackCovers(ackSeq uint16, ackBits uint32, seq uint16) bool {
	if seq == ackSeq {
		return true
	}
	if tick.GreaterThan(seq, ackSeq) {
		return false
	}
	d := tick.Diff(ackSeq, seq)
	if d < 1 || d > 32 {
		return false
	}
	return ackBits&(1<<uint(d-1)) != 0
}

// sendQueue assigns monotonic sequence numbers and stages containers for
// the wire.
type sendQueue struct {
	nextSeq uint16
	out     []Send
}

func (q *sendQueue) push(c packet.Container, t tick.Tick) Send {
	s := Send{Seq: q.nextSeq, Container: c, Tick: t}
	q.nextSeq++
	q.out = append(q.out, s)
	return s
}

func (q *sendQueue) requeue(s Send) { q.out = append(q.out, s) }

func (q *sendQueue) drain() []Send {
	out := q.out
	q.out = nil
	return out
}

type sentEntry struct {
	send     Send
	lastSent time.Time
	onWire   bool
}

// reliableSender tracks unacknowledged sends and schedules retransmission
// when the resend interval elapses without an ack.
type reliableSender struct {
	q              sendQueue
	unacked        map[uint16]*sentEntry
	resendInterval time.Duration
	hooks          hooks
}

func newReliableSender(resendInterval time.Duration, h hooks) reliableSender {
	return reliableSender{
		unacked:        make(map[uint16]*sentEntry),
		resendInterval: resendInterval,
		hooks:          h,
	}
}

func (r *reliableSender) bufferSend(cs []packet.Container, t tick.Tick) {
	for _, c := range cs {
		s := r.q.push(c, t)
		r.unacked[s.Seq] = &sentEntry{send: s}
	}
}

func (r *reliableSender) pendingSends(now time.Time) []Send {
	out := r.q.drain()
	for _, s := range out {
		if e, ok := r.unacked[s.Seq]; ok {
			e.lastSent = now
			e.onWire = true
		}
	}
	return out
}

// sweepResends requeues every unacked entry whose resend timer expired.
func (r *reliableSender) sweepResends(now time.Time) {
	for _, e := range r.unacked {
		if e.onWire && now.Sub(e.lastSent) >= r.resendInterval {
			e.lastSent = now
			r.q.requeue(e.send)
			r.hooks.onResend()
		}
	}
}

func (r *reliableSender) recvAck(ackSeq uint16, ackBits uint32) {
	for seq := range r.unacked {
		if ackCovers(ackSeq, ackBits, seq) {
			delete(r.unacked, seq)
		}
	}
}
