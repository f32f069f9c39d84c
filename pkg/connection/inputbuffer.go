package connection

import "github.com/zimokernel/tickwire/pkg/tick"

// InputBuffer keeps a sliding history of per-tick values, indexed by tick
// modulo the depth. Pushing tick T makes anything older than T-depth+1
// unreachable; slots are reclaimed lazily as newer ticks land on them.
type InputBuffer[T any] struct {
	slots  []inputSlot[T]
	latest tick.Tick
	has    bool

	// OnEvict is called when a push overwrites a still-set slot from an
	// older tick. May be nil.
	OnEvict func()
}

type inputSlot[T any] struct {
	t   tick.Tick
	val T
	set bool
}

// DefaultInputDepth bounds the input history when no depth is configured.
const DefaultInputDepth = 32

// NewInputBuffer returns a ring retaining the most recent depth ticks.
func NewInputBuffer[T any](depth int) *InputBuffer[T] {
	if depth <= 0 {
		depth = DefaultInputDepth
	}
	return &InputBuffer[T]{slots: make([]inputSlot[T], depth)}
}

// Depth returns how many ticks of history the buffer retains.
func (b *InputBuffer[T]) Depth() int { return len(b.slots) }

// Push records the value for tick t. Pushes older than the retained window
// are ignored.
func (b *InputBuffer[T]) Push(t tick.Tick, v T) {
	if b.has && !t.After(b.latest) && b.latest.Diff(t) >= len(b.slots) {
		return
	}
	s := &b.slots[int(uint16(t))%len(b.slots)]
	if s.set && s.t != t {
		if b.OnEvict != nil {
			b.OnEvict()
		}
	}
	s.t, s.val, s.set = t, v, true
	if !b.has || t.After(b.latest) {
		b.latest, b.has = t, true
	}
}

// Get returns the value recorded for tick t. ok is false when t was never
// pushed or has already been evicted by newer ticks.
func (b *InputBuffer[T]) Get(t tick.Tick) (T, bool) {
	var zero T
	if !b.has {
		return zero, false
	}
	s := b.slots[int(uint16(t))%len(b.slots)]
	if !s.set || s.t != t {
		return zero, false
	}
	return s.val, true
}

// Latest returns the newest tick ever pushed.
func (b *InputBuffer[T]) Latest() (tick.Tick, bool) { return b.latest, b.has }
