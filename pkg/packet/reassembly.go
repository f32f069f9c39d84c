package packet

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultReassemblyTimeout bounds how long an incomplete fragment set from
// an unreliable channel is retained.
const DefaultReassemblyTimeout = 3 * time.Second

// DefaultReassemblyCap bounds how many fragment sets may be pending at once;
// the least recently touched set is evicted beyond that.
const DefaultReassemblyCap = 256

type assemblyKey struct {
	peer  string
	msgID uint16
}

type pending struct {
	chunks  [][]byte
	got     int
	firstAt time.Time
}

// Reassembler accumulates fragment containers keyed by (peer, message id)
// and yields the original payload once every fragment has arrived.
//
// A zero timeout means incomplete sets never expire (reliable channels,
// where missing fragments are retransmitted). A positive timeout is swept
// lazily via Sweep, driven by the caller-supplied clock.
type Reassembler struct {
	cache   *lru.Cache[assemblyKey, *pending]
	timeout time.Duration

	// OnEvict, when set, is called once per fragment set dropped due to
	// capacity or timeout.
	OnEvict func()
}

// NewReassembler returns a reassembler holding at most capacity pending sets.
func NewReassembler(capacity int, timeout time.Duration) (*Reassembler, error) {
	if capacity <= 0 {
		capacity = DefaultReassemblyCap
	}
	r := &Reassembler{timeout: timeout}
	cache, err := lru.NewWithEvict[assemblyKey, *pending](capacity, func(_ assemblyKey, p *pending) {
		// Completed sets are removed before delivery; anything else
		// leaving the cache was dropped.
		if p.got < len(p.chunks) && r.OnEvict != nil {
			r.OnEvict()
		}
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Add ingests one fragment. It returns the reconstructed payload and true
// when the fragment completes its message. Duplicated fragments are ignored.
func (r *Reassembler) Add(peer string, c Container, now time.Time) ([]byte, bool) {
	if !c.IsFragment() {
		return c.Data, true
	}
	key := assemblyKey{peer: peer, msgID: c.MsgID}
	p, ok := r.cache.Get(key)
	if !ok {
		p = &pending{chunks: make([][]byte, c.FragCount), firstAt: now}
		r.cache.Add(key, p)
	}
	if int(c.FragCount) != len(p.chunks) || int(c.FragIndex) >= len(p.chunks) {
		// Inconsistent with the first fragment seen for this id; drop.
		return nil, false
	}
	if p.chunks[c.FragIndex] == nil {
		p.chunks[c.FragIndex] = append([]byte(nil), c.Data...)
		p.got++
	}
	if p.got < len(p.chunks) {
		return nil, false
	}
	// Mark complete so the evict callback does not count it, then remove.
	p.got = len(p.chunks) + 1
	r.cache.Remove(key)
	size := 0
	for _, ch := range p.chunks {
		size += len(ch)
	}
	out := make([]byte, 0, size)
	for _, ch := range p.chunks {
		out = append(out, ch...)
	}
	return out, true
}

// Sweep drops incomplete sets older than the timeout and returns how many
// were dropped. It is a no-op when the timeout is zero.
func (r *Reassembler) Sweep(now time.Time) int {
	if r.timeout <= 0 {
		return 0
	}
	dropped := 0
	for _, key := range r.cache.Keys() {
		p, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(p.firstAt) >= r.timeout {
			r.cache.Remove(key)
			dropped++
		}
	}
	return dropped
}

// Pending reports how many incomplete fragment sets are held.
func (r *Reassembler) Pending() int { return r.cache.Len() }
