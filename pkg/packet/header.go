// Package packet defines the wire format: the fixed packet header, the
// single/fragment message container, and fragmentation/reassembly of
// messages larger than the link budget.
package packet

import (
	"encoding/binary"
	"errors"

	"github.com/zimokernel/tickwire/pkg/tick"
)

// Fixed header layout (16 bytes) prepended to every packet.
// All integer fields are little-endian.
//
//  0 ..1   Magic   'T''W' (0x5754)
//  2       Version u8
//  3       Channel u8
//  4 ..5   Seq     u16  per-channel sequence number
//  6 ..7   AckSeq  u16  newest sequence seen on this channel from the peer
//  8 ..11  AckBits u32  bit i set => AckSeq-1-i also seen
//  12      Flags   u8
//  13      Reserved u8
//  14..15  Tick    u16  sender simulation tick (valid when FlagHasTick)
const (
	HeaderSize = 16
	magicWord  = uint16(0x5754) // 'T''W'

	// Version is the current wire protocol version.
	Version = 1
)

// Header flags.
const (
	FlagHasTick  uint8 = 1 << 0
	FlagFragment uint8 = 1 << 1
	FlagHasAck   uint8 = 1 << 2
)

var (
	ErrShortHeader = errors.New("packet: short header")
	ErrBadMagic    = errors.New("packet: bad magic")
	ErrBadVersion  = errors.New("packet: unsupported version")
)

// Header describes per-packet routing and acknowledgment metadata.
type Header struct {
	Version uint8
	Channel uint8
	Seq     uint16
	AckSeq  uint16
	AckBits uint32
	Flags   uint8
	Tick    tick.Tick
}

// HasTick reports whether the tick field is meaningful.
func (h *Header) HasTick() bool { return h.Flags&FlagHasTick != 0 }

// MarshalBinary encodes the header into a 16-byte buffer.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = h.Version
	buf[3] = h.Channel
	binary.LittleEndian.PutUint16(buf[4:6], h.Seq)
	binary.LittleEndian.PutUint16(buf[6:8], h.AckSeq)
	binary.LittleEndian.PutUint32(buf[8:12], h.AckBits)
	buf[12] = h.Flags
	// buf[13] reserved
	binary.LittleEndian.PutUint16(buf[14:16], uint16(h.Tick))
	return buf, nil
}

// UnmarshalBinary decodes the header from buf.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return ErrShortHeader
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return ErrBadMagic
	}
	h.Version = buf[2]
	if h.Version != Version {
		return ErrBadVersion
	}
	h.Channel = buf[3]
	h.Seq = binary.LittleEndian.Uint16(buf[4:6])
	h.AckSeq = binary.LittleEndian.Uint16(buf[6:8])
	h.AckBits = binary.LittleEndian.Uint32(buf[8:12])
	h.Flags = buf[12]
	h.Tick = tick.Tick(binary.LittleEndian.Uint16(buf[14:16]))
	return nil
}
