package packet

import (
	"encoding/binary"
	"errors"
)

// Container is the unit carried in a packet payload: either a complete
// message or one fragment of a larger one. FragCount <= 1 means single.
type Container struct {
	MsgID     uint16
	FragIndex uint8
	FragCount uint8
	Data      []byte
}

const (
	kindSingle   = 0x00
	kindFragment = 0x01

	// singleOverhead/fragOverhead are the container framing bytes in
	// addition to the data itself.
	singleOverhead = 1
	fragOverhead   = 5
)

var ErrShortContainer = errors.New("packet: short container")

// IsFragment reports whether c is one piece of a fragmented message.
func (c *Container) IsFragment() bool { return c.FragCount > 1 }

// Encode appends the container framing and data to a fresh buffer.
func (c *Container) Encode() []byte {
	if !c.IsFragment() {
		out := make([]byte, singleOverhead+len(c.Data))
		out[0] = kindSingle
		copy(out[singleOverhead:], c.Data)
		return out
	}
	out := make([]byte, fragOverhead+len(c.Data))
	out[0] = kindFragment
	binary.LittleEndian.PutUint16(out[1:3], c.MsgID)
	out[3] = c.FragIndex
	out[4] = c.FragCount
	copy(out[fragOverhead:], c.Data)
	return out
}

// Decode parses a container from buf. The data slice aliases buf.
func (c *Container) Decode(buf []byte) error {
	if len(buf) < singleOverhead {
		return ErrShortContainer
	}
	switch buf[0] {
	case kindSingle:
		c.MsgID, c.FragIndex, c.FragCount = 0, 0, 0
		c.Data = buf[singleOverhead:]
		return nil
	case kindFragment:
		if len(buf) < fragOverhead {
			return ErrShortContainer
		}
		c.MsgID = binary.LittleEndian.Uint16(buf[1:3])
		c.FragIndex = buf[3]
		c.FragCount = buf[4]
		if c.FragCount < 2 || c.FragIndex >= c.FragCount {
			return errors.New("packet: inconsistent fragment fields")
		}
		c.Data = buf[fragOverhead:]
		return nil
	default:
		return errors.New("packet: unknown container kind")
	}
}
