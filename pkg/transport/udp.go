package transport

import (
	"net"
	"sync"
)

const rxQueueDepth = 256

type rxPacket struct {
	data []byte
	from net.Addr
}

// udpConn is a UDP socket transport. A background reader feeds a bounded
// queue that Recv polls; packets arriving while the queue is full are
// dropped, which is acceptable for an unreliable link.
type udpConn struct {
	conn *net.UDPConn
	rx   chan rxPacket

	mu     sync.Mutex
	fatal  error
	closed bool
}

// NewUDP binds a UDP socket on addr ("" or ":0" for ephemeral) and starts
// polling it.
func NewUDP(addr string) (PacketConn, error) {
	if addr == "" {
		addr = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	u := &udpConn{conn: c, rx: make(chan rxPacket, rxQueueDepth)}
	go u.readLoop()
	return u, nil
}

func (u *udpConn) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			u.mu.Lock()
			if !u.closed {
				u.fatal = err
			}
			u.mu.Unlock()
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case u.rx <- rxPacket{data: pkt, from: raddr}:
		default:
		}
	}
}

func (u *udpConn) Send(payload []byte, addr net.Addr) error {
	raddr, ok := addr.(*net.UDPAddr)
	if !ok {
		var err error
		raddr, err = net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return err
		}
	}
	_, err := u.conn.WriteToUDP(payload, raddr)
	return err
}

func (u *udpConn) Recv() ([]byte, net.Addr, bool, error) {
	select {
	case p := <-u.rx:
		return p.data, p.from, true, nil
	default:
	}
	u.mu.Lock()
	err := u.fatal
	u.mu.Unlock()
	if err != nil {
		return nil, nil, false, err
	}
	return nil, nil, false, nil
}

func (u *udpConn) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *udpConn) Close() error {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	return u.conn.Close()
}
