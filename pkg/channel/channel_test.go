package channel

import (
	"fmt"
	"testing"
	"time"

	"github.com/zimokernel/tickwire/pkg/packet"
)

func mustEngine(t *testing.T, kind Kind, opts ...EngineOption) Engine {
	t.Helper()
	cfg := defaultEngineConfig()
	for _, o := range opts {
		o(&cfg)
	}
	e, err := newEngine(kind, cfg)
	if err != nil {
		t.Fatalf("new %s engine: %v", kind, err)
	}
	return e
}

func single(data string) packet.Container { return packet.Container{Data: []byte(data)} }

func permutations(n int) [][]int {
	var out [][]int
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	var rec func(k int)
	rec = func(k int) {
		if k == n {
			out = append(out, append([]int(nil), perm...))
			return
		}
		for i := k; i < n; i++ {
			perm[k], perm[i] = perm[i], perm[k]
			rec(k + 1)
			perm[k], perm[i] = perm[i], perm[k]
		}
	}
	rec(0)
	return out
}

func TestOrderedReliableAnyPermutation(t *testing.T) {
	now := time.Unix(0, 0)
	for _, perm := range permutations(5) {
		e := mustEngine(t, OrderedReliable)
		for _, i := range perm {
			seq := uint16(i)
			msg := single(fmt.Sprintf("%d", i+1))
			if err := e.BufferRecv(seq, 0, msg, now); err != nil {
				t.Fatalf("buffer recv: %v", err)
			}
			// Duplicate arrival must change nothing.
			if err := e.BufferRecv(seq, 0, msg, now); err != nil {
				t.Fatalf("duplicate recv: %v", err)
			}
		}
		for want := 1; want <= 5; want++ {
			m, ok := e.ReadMessage()
			if !ok {
				t.Fatalf("perm %v: message %d missing", perm, want)
			}
			if string(m.Data) != fmt.Sprintf("%d", want) {
				t.Fatalf("perm %v: got %q, want %d", perm, m.Data, want)
			}
		}
		if _, ok := e.ReadMessage(); ok {
			t.Fatalf("perm %v: extra message delivered", perm)
		}
	}
}

func TestOrderedReliableGapBlocksDelivery(t *testing.T) {
	e := mustEngine(t, OrderedReliable)
	now := time.Unix(0, 0)
	_ = e.BufferRecv(1, 0, single("b"), now)
	_ = e.BufferRecv(2, 0, single("c"), now)
	if _, ok := e.ReadMessage(); ok {
		t.Fatalf("delivery must block on the missing sequence 0")
	}
	_ = e.BufferRecv(0, 0, single("a"), now)
	for _, want := range []string{"a", "b", "c"} {
		m, ok := e.ReadMessage()
		if !ok || string(m.Data) != want {
			t.Fatalf("got %q ok=%v, want %q", m.Data, ok, want)
		}
	}
}

func TestSequencedUnreliableLatestWins(t *testing.T) {
	e := mustEngine(t, SequencedUnreliable)
	now := time.Unix(0, 0)
	for _, seq := range []uint16{5, 3, 7, 2} {
		_ = e.BufferRecv(seq, 0, single(fmt.Sprintf("s%d", seq)), now)
	}
	var got []string
	for {
		m, ok := e.ReadMessage()
		if !ok {
			break
		}
		got = append(got, string(m.Data))
	}
	if len(got) != 2 || got[0] != "s5" || got[1] != "s7" {
		t.Fatalf("deliveries = %v, want [s5 s7]", got)
	}
}

func TestUnorderedReliableDedup(t *testing.T) {
	e := mustEngine(t, UnorderedReliable)
	now := time.Unix(0, 0)
	for _, seq := range []uint16{2, 0, 2, 1, 0, 2} {
		_ = e.BufferRecv(seq, 0, single(fmt.Sprintf("m%d", seq)), now)
	}
	seen := map[string]int{}
	for {
		m, ok := e.ReadMessage()
		if !ok {
			break
		}
		seen[string(m.Data)]++
	}
	if len(seen) != 3 {
		t.Fatalf("distinct deliveries = %d, want 3 (%v)", len(seen), seen)
	}
	for msg, n := range seen {
		if n != 1 {
			t.Fatalf("%s delivered %d times", msg, n)
		}
	}
}

func TestSequencedReliableSupersedesInFlight(t *testing.T) {
	e := mustEngine(t, SequencedReliable, WithResendInterval(50*time.Millisecond))
	now := time.Unix(0, 0)

	e.BufferSend([]packet.Container{single("v1")}, 0)
	first := e.PendingSends(now)
	if len(first) != 1 {
		t.Fatalf("pending = %d, want 1", len(first))
	}
	e.BufferSend([]packet.Container{single("v2")}, 0)
	second := e.PendingSends(now)
	if len(second) != 1 || string(second[0].Container.Data) != "v2" {
		t.Fatalf("second flush = %v", second)
	}

	// After the resend timer fires, only the newest value goes out again.
	e.Update(now.Add(60*time.Millisecond), 0)
	resent := e.PendingSends(now.Add(60 * time.Millisecond))
	if len(resent) != 1 || string(resent[0].Container.Data) != "v2" {
		t.Fatalf("resent %v, want only v2", resent)
	}
}

func TestSequencedReliableReceiverSurfacesNewestOnly(t *testing.T) {
	e := mustEngine(t, SequencedReliable)
	now := time.Unix(0, 0)
	_ = e.BufferRecv(4, 0, single("new"), now)
	_ = e.BufferRecv(1, 0, single("old"), now)
	m, ok := e.ReadMessage()
	if !ok || string(m.Data) != "new" {
		t.Fatalf("got %q ok=%v, want new", m.Data, ok)
	}
	if _, ok := e.ReadMessage(); ok {
		t.Fatalf("stale value surfaced")
	}
}

func TestReliableResendStopsOnAck(t *testing.T) {
	e := mustEngine(t, OrderedReliable, WithResendInterval(100*time.Millisecond))
	now := time.Unix(0, 0)

	e.BufferSend([]packet.Container{single("x")}, 0)
	out := e.PendingSends(now)
	if len(out) != 1 {
		t.Fatalf("pending = %d, want 1", len(out))
	}
	seq := out[0].Seq

	// Unacked: the resend timer requeues it.
	e.Update(now.Add(150*time.Millisecond), 0)
	if resent := e.PendingSends(now.Add(150 * time.Millisecond)); len(resent) != 1 || resent[0].Seq != seq {
		t.Fatalf("expected one resend of seq %d, got %v", seq, resent)
	}

	// Acked: silence.
	e.RecvAck(seq, 0)
	e.Update(now.Add(time.Hour), 0)
	if resent := e.PendingSends(now.Add(time.Hour)); len(resent) != 0 {
		t.Fatalf("resend after ack: %v", resent)
	}
}

func TestReliableLossRecovery(t *testing.T) {
	// Sender and receiver engines joined by a link that loses every third
	// packet. Every message must still arrive exactly once, in order.
	sender := mustEngine(t, OrderedReliable, WithResendInterval(30*time.Millisecond))
	receiver := mustEngine(t, OrderedReliable)

	const total = 20
	for i := 0; i < total; i++ {
		sender.BufferSend([]packet.Container{single(fmt.Sprintf("msg-%02d", i))}, 0)
	}

	now := time.Unix(0, 0)
	drop := 0
	var got []string
	for step := 0; step < 100 && len(got) < total; step++ {
		sender.Update(now, 0)
		for _, s := range sender.PendingSends(now) {
			drop++
			if drop%3 == 0 {
				continue
			}
			_ = receiver.BufferRecv(s.Seq, s.Tick, s.Container, now)
		}
		if ackSeq, ackBits, ok := receiver.AckState(); ok {
			sender.RecvAck(ackSeq, ackBits)
		}
		for {
			m, ok := receiver.ReadMessage()
			if !ok {
				break
			}
			got = append(got, string(m.Data))
		}
		now = now.Add(40 * time.Millisecond)
	}
	if len(got) != total {
		t.Fatalf("delivered %d of %d messages", len(got), total)
	}
	for i, msg := range got {
		if want := fmt.Sprintf("msg-%02d", i); msg != want {
			t.Fatalf("position %d: got %q, want %q", i, msg, want)
		}
	}
}

func TestTickUnreliableAlignment(t *testing.T) {
	e := mustEngine(t, TickUnreliable)
	now := time.Unix(0, 0)
	e.Update(now, 10)

	_ = e.BufferRecv(0, 12, single("t12"), now)
	_ = e.BufferRecv(1, 11, single("t11"), now)
	_ = e.BufferRecv(2, 5, single("late"), now)   // already passed
	_ = e.BufferRecv(3, 12, single("dup12"), now) // tick already filled

	if _, ok := e.ReadMessage(); ok {
		t.Fatalf("nothing should be readable before tick 11")
	}
	e.Update(now, 11)
	if m, ok := e.ReadMessage(); !ok || string(m.Data) != "t11" || m.Tick != 11 {
		t.Fatalf("at tick 11: got %q ok=%v", m.Data, ok)
	}
	e.Update(now, 12)
	if m, ok := e.ReadMessage(); !ok || string(m.Data) != "t12" {
		t.Fatalf("at tick 12: got %q ok=%v (duplicate must not replace)", m.Data, ok)
	}
	if _, ok := e.ReadMessage(); ok {
		t.Fatalf("dropped messages surfaced")
	}
}

func TestFragmentedMessageOverOrderedReliable(t *testing.T) {
	frag := packet.NewFragmenter(packet.MinMTU)
	big := make([]byte, 4*packet.MinMTU)
	for i := range big {
		big[i] = byte(i * 31)
	}
	parts, err := frag.Split(big)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	sender := mustEngine(t, OrderedReliable)
	receiver := mustEngine(t, OrderedReliable)
	sender.BufferSend([]packet.Container{single("before")}, 0)
	sender.BufferSend(parts, 0)
	sender.BufferSend([]packet.Container{single("after")}, 0)

	now := time.Unix(0, 0)
	sends := sender.PendingSends(now)
	// Deliver in reverse to exercise the reorder buffer.
	for i := len(sends) - 1; i >= 0; i-- {
		_ = receiver.BufferRecv(sends[i].Seq, sends[i].Tick, sends[i].Container, now)
	}

	m1, ok1 := receiver.ReadMessage()
	m2, ok2 := receiver.ReadMessage()
	m3, ok3 := receiver.ReadMessage()
	if !ok1 || !ok2 || !ok3 {
		t.Fatalf("not all messages delivered: %v %v %v", ok1, ok2, ok3)
	}
	if string(m1.Data) != "before" || string(m3.Data) != "after" {
		t.Fatalf("framing messages out of order: %q %q", m1.Data, m3.Data)
	}
	if len(m2.Data) != len(big) {
		t.Fatalf("reassembled length %d, want %d", len(m2.Data), len(big))
	}
	for i := range big {
		if m2.Data[i] != big[i] {
			t.Fatalf("reassembled payload differs at %d", i)
		}
	}
}

func TestAckTrackerWindow(t *testing.T) {
	var a ackTracker
	if _, _, ok := a.state(); ok {
		t.Fatalf("fresh tracker should report no acks")
	}
	a.observe(10)
	a.observe(12)
	a.observe(8)
	ackSeq, ackBits, ok := a.state()
	if !ok || ackSeq != 12 {
		t.Fatalf("ackSeq = %d ok=%v, want 12", ackSeq, ok)
	}
	for _, seq := range []uint16{8, 10, 12} {
		if !ackCovers(ackSeq, ackBits, seq) {
			t.Fatalf("seq %d not covered", seq)
		}
		if !a.seen(seq) {
			t.Fatalf("seq %d not seen", seq)
		}
	}
	for _, seq := range []uint16{9, 11, 13} {
		if ackCovers(ackSeq, ackBits, seq) {
			t.Fatalf("seq %d wrongly covered", seq)
		}
	}
	// Far jump clears the window.
	a.observe(200)
	if a.seen(199) {
		t.Fatalf("unseen seq inside new window reported seen")
	}
	if !a.seen(100) {
		t.Fatalf("seq far behind the window should count as seen")
	}
}

func TestRegistryBuilder(t *testing.T) {
	reg, err := NewBuilder().
		Add(0, OrderedReliable, WithResendInterval(50*time.Millisecond)).
		Add(1, UnorderedUnreliable).
		Add(2, TickUnreliable).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := reg.IDs(); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("ids = %v", got)
	}
	e, ok := reg.Get(0)
	if !ok || e.Kind() != OrderedReliable {
		t.Fatalf("channel 0 wrong: %v %v", ok, e)
	}
	if _, ok := reg.Get(9); ok {
		t.Fatalf("unregistered id resolved")
	}

	if _, err := NewBuilder().Add(0, OrderedReliable).Add(0, TickUnreliable).Build(); err == nil {
		t.Fatalf("duplicate id must fail")
	}
	if _, err := NewBuilder().Build(); err == nil {
		t.Fatalf("empty registry must fail")
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{UnorderedUnreliable, SequencedUnreliable, OrderedReliable, SequencedReliable, UnorderedReliable, TickUnreliable} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Fatalf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("mostly_reliable"); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}
