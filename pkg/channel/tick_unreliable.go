package channel

import (
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
)

// tickUnreliable aligns delivery with the simulation clock: each message is
// tagged with the tick it describes, buffered by tick, and exposed once the
// local simulation reaches that tick. Messages for a tick that has already
// passed, or whose tick is already filled, are dropped.
type tickUnreliable struct {
	q     sendQueue
	acks  ackTracker
	reasm *packet.Reassembler

	buf    map[tick.Tick][]byte
	depth  int
	cur    tick.Tick
	curSet bool
	hooks  hooks
}

func newTickUnreliable(cfg engineConfig) (*tickUnreliable, error) {
	reasm, err := packet.NewReassembler(cfg.reassemblyCap, cfg.reassemblyTimeout)
	if err != nil {
		return nil, err
	}
	e := &tickUnreliable{
		reasm: reasm,
		buf:   make(map[tick.Tick][]byte),
		depth: cfg.tickDepth,
		hooks: cfg.hooks,
	}
	reasm.OnEvict = e.hooks.onReasmTimeout
	return e, nil
}

func (e *tickUnreliable) Kind() Kind { return TickUnreliable }

func (e *tickUnreliable) Update(now time.Time, cur tick.Tick) {
	e.cur = cur
	e.curSet = true
	e.reasm.Sweep(now)
}

func (e *tickUnreliable) BufferSend(cs []packet.Container, t tick.Tick) {
	for _, c := range cs {
		e.q.push(c, t)
	}
}

func (e *tickUnreliable) PendingSends(_ time.Time) []Send { return e.q.drain() }

func (e *tickUnreliable) RecvAck(uint16, uint32) {}

func (e *tickUnreliable) AckState() (uint16, uint32, bool) { return e.acks.state() }

func (e *tickUnreliable) BufferRecv(seq uint16, t tick.Tick, c packet.Container, now time.Time) error {
	e.acks.observe(seq)
	if e.curSet && e.cur.After(t) {
		// The simulation has already passed this tick.
		return nil
	}
	data, done := e.reasm.Add("", c, now)
	if !done {
		return nil
	}
	if _, filled := e.buf[t]; filled {
		return nil
	}
	if len(e.buf) >= e.depth {
		oldest, have := tick.Tick(0), false
		for tk := range e.buf {
			if !have || oldest.After(tk) {
				oldest, have = tk, true
			}
		}
		delete(e.buf, oldest)
		e.hooks.onEvict()
	}
	e.buf[t] = data
	return nil
}

// ReadMessage pops the earliest buffered message whose tick has been
// reached, so consumers drain tick-aligned state in tick order.
func (e *tickUnreliable) ReadMessage() (Message, bool) {
	if !e.curSet {
		return Message{}, false
	}
	best, have := tick.Tick(0), false
	for tk := range e.buf {
		if tk.After(e.cur) {
			continue
		}
		if !have || best.After(tk) {
			best, have = tk, true
		}
	}
	if !have {
		return Message{}, false
	}
	data := e.buf[best]
	delete(e.buf, best)
	return Message{Data: data, Tick: best}, true
}
