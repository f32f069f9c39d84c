// Package tick provides wrapping 16-bit tick and sequence arithmetic.
//
// Ticks and per-channel sequence numbers share the same representation: an
// unsigned 16-bit counter that wraps. Comparisons use a half-window rule so
// that ordering stays correct across the wrap point as long as two values are
// less than 32768 steps apart.
package tick

// Tick identifies one discrete simulation step.
type Tick uint16

// After reports whether t is newer than o, accounting for wraparound.
func (t Tick) After(o Tick) bool { return GreaterThan(uint16(t), uint16(o)) }

// Diff returns the signed wrapped distance t-o in ticks.
func (t Tick) Diff(o Tick) int { return Diff(uint16(t), uint16(o)) }

// Add advances t by n steps (n may be negative).
func (t Tick) Add(n int) Tick { return Tick(uint16(int(t) + n)) }

const halfWindow = 1 << 15

// GreaterThan reports whether sequence a is newer than b under wraparound.
func GreaterThan(a, b uint16) bool {
	return (a > b && a-b <= halfWindow) || (a < b && b-a > halfWindow)
}

// Diff returns the signed wrapped distance a-b. The result is in
// [-32768, 32767]; callers that need "how far ahead" should have already
// established direction with GreaterThan.
func Diff(a, b uint16) int {
	d := int(a) - int(b)
	switch {
	case d > halfWindow:
		d -= 1 << 16
	case d < -halfWindow:
		d += 1 << 16
	}
	return d
}
