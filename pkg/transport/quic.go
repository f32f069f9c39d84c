package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// quicConn carries packets as QUIC datagrams over an established connection.
// QUIC datagrams are unreliable and unordered, which matches the packet
// contract; the engine's own channels supply reliability on top. Links built
// this way should use the MinMTU packet budget.
type quicConn struct {
	conn   quic.Connection
	cancel context.CancelFunc
	rx     chan []byte

	mu     sync.Mutex
	fatal  error
	closed bool
}

// DialQUIC connects to addr and returns a datagram transport over the
// resulting QUIC connection.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (PacketConn, error) {
	if tlsConf == nil {
		return nil, errors.New("transport: quic requires a TLS config")
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, err
	}
	return WrapQUIC(conn), nil
}

// WrapQUIC adapts an already-established QUIC connection (dialed or
// accepted elsewhere) to the packet contract.
func WrapQUIC(conn quic.Connection) PacketConn {
	ctx, cancel := context.WithCancel(context.Background())
	q := &quicConn{conn: conn, cancel: cancel, rx: make(chan []byte, rxQueueDepth)}
	go q.recvLoop(ctx)
	return q
}

func (q *quicConn) recvLoop(ctx context.Context) {
	for {
		data, err := q.conn.ReceiveDatagram(ctx)
		if err != nil {
			q.mu.Lock()
			if !q.closed {
				q.fatal = err
			}
			q.mu.Unlock()
			return
		}
		select {
		case q.rx <- data:
		default:
		}
	}
}

func (q *quicConn) Send(payload []byte, _ net.Addr) error {
	return q.conn.SendDatagram(payload)
}

func (q *quicConn) Recv() ([]byte, net.Addr, bool, error) {
	select {
	case data := <-q.rx:
		return data, q.conn.RemoteAddr(), true, nil
	default:
	}
	q.mu.Lock()
	err := q.fatal
	q.mu.Unlock()
	if err != nil {
		return nil, nil, false, err
	}
	return nil, nil, false, nil
}

func (q *quicConn) LocalAddr() net.Addr { return q.conn.LocalAddr() }

func (q *quicConn) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	return q.conn.CloseWithError(0, "closed")
}
