package channel

import (
	"fmt"
	"sort"
	"time"

	"github.com/zimokernel/tickwire/pkg/observability"
	"github.com/zimokernel/tickwire/pkg/packet"
)

// Defaults for engine tuning knobs.
const (
	DefaultResendInterval = 100 * time.Millisecond
	DefaultReorderCap     = 1024
	DefaultTickDepth      = 64
)

type engineConfig struct {
	resendInterval    time.Duration
	reorderCap        int
	tickDepth         int
	reassemblyCap     int
	reassemblyTimeout time.Duration
	hooks             hooks
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		resendInterval:    DefaultResendInterval,
		reorderCap:        DefaultReorderCap,
		tickDepth:         DefaultTickDepth,
		reassemblyCap:     packet.DefaultReassemblyCap,
		reassemblyTimeout: packet.DefaultReassemblyTimeout,
	}
}

// EngineOption tunes one registered channel.
type EngineOption func(*engineConfig)

// WithResendInterval overrides the reliable retransmission timer.
func WithResendInterval(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.resendInterval = d
		}
	}
}

// WithReorderCap bounds the ordered-reliable reorder buffer.
func WithReorderCap(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.reorderCap = n
		}
	}
}

// WithTickDepth bounds how many ticks the tick-aligned buffer retains.
func WithTickDepth(n int) EngineOption {
	return func(c *engineConfig) {
		if n > 0 {
			c.tickDepth = n
		}
	}
}

// WithReassemblyTimeout bounds incomplete unreliable fragment sets.
func WithReassemblyTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.reassemblyTimeout = d
		}
	}
}

func newEngine(kind Kind, cfg engineConfig) (Engine, error) {
	switch kind {
	case UnorderedUnreliable:
		return newUnorderedUnreliable(cfg)
	case SequencedUnreliable:
		return newSequencedUnreliable(cfg)
	case OrderedReliable:
		return newOrderedReliable(cfg)
	case SequencedReliable:
		return newSequencedReliable(cfg)
	case UnorderedReliable:
		return newUnorderedReliable(cfg)
	case TickUnreliable:
		return newTickUnreliable(cfg)
	default:
		return nil, fmt.Errorf("channel: unknown kind %d", kind)
	}
}

// Registry maps channel ids to engine instances. It is built once, before
// traffic starts, and never mutated afterwards, so traffic processing needs
// no locking around it.
type Registry struct {
	engines map[uint8]Engine
	ids     []uint8
}

// Get returns the engine registered under id.
func (r *Registry) Get(id uint8) (Engine, bool) {
	e, ok := r.engines[id]
	return e, ok
}

// IDs lists the registered channel ids in ascending order.
func (r *Registry) IDs() []uint8 { return r.ids }

// Builder accumulates channel registrations. Registration is closed by
// Build; the resulting Registry is immutable.
type Builder struct {
	entries map[uint8]Engine
	metrics *observability.Metrics
	err     error
}

// NewBuilder starts an empty channel registration.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[uint8]Engine)}
}

// WithMetrics routes engine events (resends, evictions, reassembly
// timeouts) to the given counters.
func (b *Builder) WithMetrics(m *observability.Metrics) *Builder {
	b.metrics = m
	return b
}

// Add registers one channel id with the given kind.
func (b *Builder) Add(id uint8, kind Kind, opts ...EngineOption) *Builder {
	if b.err != nil {
		return b
	}
	if _, dup := b.entries[id]; dup {
		b.err = fmt.Errorf("channel: id %d registered twice", id)
		return b
	}
	cfg := defaultEngineConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if m := b.metrics; m != nil {
		name := kind.String()
		cfg.hooks = hooks{
			resend:       func() { m.IncResend(name) },
			evict:        func() { m.IncCapacityEviction(name) },
			reasmTimeout: func() { m.IncReassemblyTimeout(name) },
		}
	}
	e, err := newEngine(kind, cfg)
	if err != nil {
		b.err = err
		return b
	}
	b.entries[id] = e
	return b
}

// Build closes registration.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.entries) == 0 {
		return nil, fmt.Errorf("channel: no channels registered")
	}
	r := &Registry{engines: make(map[uint8]Engine, len(b.entries))}
	for id, e := range b.entries {
		r.engines[id] = e
		r.ids = append(r.ids, id)
	}
	sort.Slice(r.ids, func(i, j int) bool { return r.ids[i] < r.ids[j] })
	return r, nil
}
