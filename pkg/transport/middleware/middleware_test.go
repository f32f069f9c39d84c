package middleware

import (
	"bytes"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/transport"
)

// fakeReceiver hands out queued packets, newest last.
type fakeReceiver struct {
	queue [][]byte
	from  net.Addr
}

func (f *fakeReceiver) push(p []byte) { f.queue = append(f.queue, p) }

func (f *fakeReceiver) Recv() ([]byte, net.Addr, bool, error) {
	if len(f.queue) == 0 {
		return nil, nil, false, nil
	}
	p := f.queue[0]
	f.queue = f.queue[1:]
	return p, f.from, true, nil
}

func TestConditionerLatency(t *testing.T) {
	inner := &fakeReceiver{}
	clk := clock.NewMock()
	cond := NewConditioner(inner, ConditionerConfig{Latency: 40 * time.Millisecond}, WithClock(clk), WithSeed(1))

	inner.push([]byte("delayed"))
	if _, _, ok, _ := cond.Recv(); ok {
		t.Fatalf("packet released before its delivery time")
	}
	clk.Add(39 * time.Millisecond)
	if _, _, ok, _ := cond.Recv(); ok {
		t.Fatalf("packet released 1ms early")
	}
	clk.Add(time.Millisecond)
	data, _, ok, err := cond.Recv()
	if err != nil || !ok || string(data) != "delayed" {
		t.Fatalf("packet not released on time: ok=%v err=%v", ok, err)
	}
}

func TestConditionerLoss(t *testing.T) {
	inner := &fakeReceiver{}
	clk := clock.NewMock()
	dropped := 0
	cond := NewConditioner(inner, ConditionerConfig{Loss: 1}, WithClock(clk), WithSeed(7))
	cond.OnDrop = func() { dropped++ }

	for i := 0; i < 10; i++ {
		inner.push([]byte{byte(i)})
	}
	if _, _, ok, _ := cond.Recv(); ok {
		t.Fatalf("full loss should deliver nothing")
	}
	if dropped != 10 {
		t.Fatalf("dropped %d packets, want 10", dropped)
	}

	// Loss zero delivers everything.
	passthrough := NewConditioner(inner, ConditionerConfig{}, WithClock(clk), WithSeed(7))
	inner.push([]byte("a"))
	if data, _, ok, _ := passthrough.Recv(); !ok || string(data) != "a" {
		t.Fatalf("zero loss should pass packets through")
	}
}

func TestConditionerJitterReorders(t *testing.T) {
	inner := &fakeReceiver{}
	clk := clock.NewMock()
	cond := NewConditioner(inner, ConditionerConfig{Latency: 20 * time.Millisecond, Jitter: 15 * time.Millisecond},
		WithClock(clk), WithSeed(3))

	for i := 0; i < 32; i++ {
		inner.push([]byte{byte(i)})
	}
	clk.Add(time.Hour)
	var got []byte
	for {
		data, _, ok, _ := cond.Recv()
		if !ok {
			break
		}
		got = append(got, data[0])
	}
	if len(got) != 32 {
		t.Fatalf("delivered %d of 32 packets", len(got))
	}
	reordered := false
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			reordered = true
		}
	}
	if !reordered {
		t.Fatalf("jitter never reordered 32 packets with seed 3")
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	sizes := []int{0, 1, packet.DefaultMTU - 1, packet.DefaultMTU}
	for _, alg := range []string{CompressionNone, CompressionZstd, CompressionS2} {
		cfg := CompressionConfig{Algorithm: alg}
		for _, n := range sizes {
			data := make([]byte, n)
			rng.Read(data)

			a, b := transport.NewLocalPair()
			sender, err := WrapSender(a, cfg)
			if err != nil {
				t.Fatalf("%s: wrap sender: %v", alg, err)
			}
			receiver, err := WrapReceiver(b, cfg)
			if err != nil {
				t.Fatalf("%s: wrap receiver: %v", alg, err)
			}
			if err := sender.Send(data, nil); err != nil {
				t.Fatalf("%s/%d: send: %v", alg, n, err)
			}
			got, _, ok, err := receiver.Recv()
			if err != nil || !ok {
				t.Fatalf("%s/%d: recv: ok=%v err=%v", alg, n, ok, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("%s/%d: round trip altered payload", alg, n)
			}
		}
	}
}

func TestCompressionRejectsUnknown(t *testing.T) {
	if _, err := WrapSender(nil, CompressionConfig{Algorithm: "brotli"}); err == nil {
		t.Fatalf("unknown algorithm should fail")
	}
}

func TestCorruptPacketDropped(t *testing.T) {
	a, b := transport.NewLocalPair()
	receiver, err := WrapReceiver(b, CompressionConfig{Algorithm: CompressionZstd})
	if err != nil {
		t.Fatalf("wrap receiver: %v", err)
	}
	if err := a.Send([]byte("not a zstd frame"), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, _, ok, err := receiver.Recv(); ok || err != nil {
		t.Fatalf("corrupt packet should be dropped silently: ok=%v err=%v", ok, err)
	}
}

func TestApplyComposesInOrder(t *testing.T) {
	a, b := transport.NewLocalPair()
	clk := clock.NewMock()
	sender, _, err := Apply(a, nil, CompressionConfig{Algorithm: CompressionS2})
	if err != nil {
		t.Fatalf("apply sender side: %v", err)
	}
	_, receiver, err := Apply(b, &ConditionerConfig{Latency: 5 * time.Millisecond}, CompressionConfig{Algorithm: CompressionS2}, WithClock(clk))
	if err != nil {
		t.Fatalf("apply receiver side: %v", err)
	}
	if err := sender.Send([]byte("payload"), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, _, ok, _ := receiver.Recv(); ok {
		t.Fatalf("conditioner latency ignored")
	}
	clk.Add(5 * time.Millisecond)
	data, _, ok, err := receiver.Recv()
	if err != nil || !ok || string(data) != "payload" {
		t.Fatalf("composed path broken: ok=%v err=%v data=%q", ok, err, data)
	}
}
