// Package middleware decorates a transport's sender and receiver: a link
// conditioner that simulates adverse receive conditions, and symmetric
// compression codecs.
//
// Composition order is fixed: on the receive path the conditioner wraps the
// raw receiver and the decompressor wraps the conditioner; on the send path
// the compressor wraps the raw sender. The conditioner is receive-side only,
// since it exists to shape what arrives, not to alter what is sent.
package middleware

import (
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zimokernel/tickwire/pkg/transport"
)

// ConditionerConfig describes the simulated link.
type ConditionerConfig struct {
	// Latency is added to every inbound packet.
	Latency time.Duration
	// Jitter shifts each packet's delay by a uniform value in [-Jitter, +Jitter].
	Jitter time.Duration
	// Loss is the probability in [0,1] that an inbound packet is dropped.
	Loss float64
}

// Enabled reports whether the config conditions the link at all.
func (c ConditionerConfig) Enabled() bool {
	return c.Latency > 0 || c.Jitter > 0 || c.Loss > 0
}

type delayed struct {
	at   time.Time
	data []byte
	from net.Addr
}

// Conditioner delays, drops, and (via jitter) reorders inbound packets.
type Conditioner struct {
	inner transport.PacketReceiver
	cfg   ConditionerConfig
	clk   clock.Clock
	rng   *rand.Rand
	queue []delayed // sorted by delivery time

	// OnDrop, when set, is called once per packet lost to the loss rate.
	OnDrop func()
}

// Option adjusts a Conditioner.
type Option func(*Conditioner)

// WithClock substitutes the wall clock, letting tests drive delivery time.
func WithClock(clk clock.Clock) Option { return func(c *Conditioner) { c.clk = clk } }

// WithSeed makes loss and jitter deterministic.
func WithSeed(seed int64) Option {
	return func(c *Conditioner) { c.rng = rand.New(rand.NewSource(seed)) }
}

// NewConditioner wraps inner with the simulated link.
func NewConditioner(inner transport.PacketReceiver, cfg ConditionerConfig, opts ...Option) *Conditioner {
	c := &Conditioner{
		inner: inner,
		cfg:   cfg,
		clk:   clock.New(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Recv drains the wrapped receiver into the delay queue, then releases the
// earliest packet whose delivery time has come.
func (c *Conditioner) Recv() ([]byte, net.Addr, bool, error) {
	now := c.clk.Now()
	for {
		data, from, ok, err := c.inner.Recv()
		if err != nil {
			return nil, nil, false, err
		}
		if !ok {
			break
		}
		if c.cfg.Loss > 0 && c.rng.Float64() < c.cfg.Loss {
			if c.OnDrop != nil {
				c.OnDrop()
			}
			continue
		}
		delay := c.cfg.Latency
		if c.cfg.Jitter > 0 {
			delay += time.Duration((2*c.rng.Float64() - 1) * float64(c.cfg.Jitter))
		}
		if delay < 0 {
			delay = 0
		}
		d := delayed{at: now.Add(delay), data: data, from: from}
		i := sort.Search(len(c.queue), func(i int) bool { return c.queue[i].at.After(d.at) })
		c.queue = append(c.queue, delayed{})
		copy(c.queue[i+1:], c.queue[i:])
		c.queue[i] = d
	}
	if len(c.queue) == 0 || c.queue[0].at.After(now) {
		return nil, nil, false, nil
	}
	d := c.queue[0]
	c.queue = c.queue[1:]
	return d.data, d.from, true, nil
}
