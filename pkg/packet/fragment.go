package packet

import "fmt"

// DefaultMTU is the largest UDP payload that avoids IP fragmentation on
// common links. See gafferongames on packet fragmentation and reassembly.
const DefaultMTU = 1472

// MinMTU is the QUIC minimum datagram budget; links that may be
// QUIC-constrained should configure this instead.
const MinMTU = 1300

// Fragmenter splits messages that do not fit a single packet into numbered
// fragment containers sharing a per-sender message id.
type Fragmenter struct {
	mtu    int
	nextID uint16
}

// NewFragmenter returns a fragmenter for the given packet budget.
func NewFragmenter(mtu int) *Fragmenter {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &Fragmenter{mtu: mtu}
}

// SingleBudget is the largest message that still fits one packet.
func (f *Fragmenter) SingleBudget() int { return f.mtu - HeaderSize - singleOverhead }

// Split turns data into one single container, or several fragment
// containers when it exceeds the packet budget.
func (f *Fragmenter) Split(data []byte) ([]Container, error) {
	if len(data) <= f.SingleBudget() {
		return []Container{{Data: data}}, nil
	}
	chunk := f.mtu - HeaderSize - fragOverhead
	total := (len(data) + chunk - 1) / chunk
	if total > 255 {
		return nil, fmt.Errorf("packet: message of %d bytes needs %d fragments, max 255", len(data), total)
	}
	id := f.nextID
	f.nextID++
	out := make([]Container, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunk
		end := start + chunk
		if end > len(data) {
			end = len(data)
		}
		out = append(out, Container{
			MsgID:     id,
			FragIndex: uint8(i),
			FragCount: uint8(total),
			Data:      data[start:end],
		})
	}
	return out, nil
}
