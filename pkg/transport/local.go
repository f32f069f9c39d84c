package transport

import "net"

// localAddr is the synthetic address of an in-process endpoint.
type localAddr string

func (a localAddr) Network() string { return "local" }
func (a localAddr) String() string  { return string(a) }

// localConn is an in-process transport over a pre-wired channel pair.
// Useful for tests and for running client and server in one process.
type localConn struct {
	name string
	peer string
	send chan<- []byte
	recv <-chan []byte
}

// NewLocal wraps an existing channel pair as a transport.
func NewLocal(send chan<- []byte, recv <-chan []byte) PacketConn {
	return &localConn{name: "local:a", peer: "local:b", send: send, recv: recv}
}

// NewLocalPair returns two cross-wired in-process transports.
func NewLocalPair() (PacketConn, PacketConn) {
	ab := make(chan []byte, rxQueueDepth)
	ba := make(chan []byte, rxQueueDepth)
	a := &localConn{name: "local:a", peer: "local:b", send: ab, recv: ba}
	b := &localConn{name: "local:b", peer: "local:a", send: ba, recv: ab}
	return a, b
}

func (l *localConn) Send(payload []byte, _ net.Addr) error {
	pkt := append([]byte(nil), payload...)
	select {
	case l.send <- pkt:
	default:
		// Queue full: the packet is lost, like any saturated datagram link.
	}
	return nil
}

func (l *localConn) Recv() ([]byte, net.Addr, bool, error) {
	select {
	case pkt := <-l.recv:
		return pkt, localAddr(l.peer), true, nil
	default:
		return nil, nil, false, nil
	}
}

func (l *localConn) LocalAddr() net.Addr { return localAddr(l.name) }

func (l *localConn) Close() error { return nil }
