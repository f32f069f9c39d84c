// Package transport moves raw byte packets to and from socket addresses.
//
// Receivers follow a poll contract: Recv never blocks, and ok=false with a
// nil error means no data is currently available. A non-nil error is fatal
// to the transport instance; the caller decides whether to rebuild it.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
)

// Kind identifies a transport variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindUDP
	KindLocal
	KindQUIC
	KindDummy
)

func (k Kind) String() string {
	switch k {
	case KindUDP:
		return "udp"
	case KindLocal:
		return "local"
	case KindQUIC:
		return "quic"
	case KindDummy:
		return "dummy"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "udp":
		return KindUDP, nil
	case "local":
		return KindLocal, nil
	case "quic":
		return KindQUIC, nil
	case "dummy":
		return KindDummy, nil
	default:
		return KindUnknown, fmt.Errorf("transport: unknown kind %q", s)
	}
}

// PacketSender sends one packet to a destination address.
type PacketSender interface {
	Send(payload []byte, addr net.Addr) error
}

// PacketReceiver polls for one packet. ok=false means no data right now.
type PacketReceiver interface {
	Recv() (payload []byte, from net.Addr, ok bool, err error)
}

// PacketConn is a full transport instance.
type PacketConn interface {
	PacketSender
	PacketReceiver
	LocalAddr() net.Addr
	Close() error
}

// Config selects and parameterizes a transport variant at construction time.
type Config struct {
	Kind Kind

	// LocalAddr is the UDP listen address ("" or ":0" binds ephemeral).
	LocalAddr string

	// RemoteAddr is the QUIC dial target.
	RemoteAddr string
	// TLS configures the QUIC handshake. Required for KindQUIC.
	TLS *tls.Config

	// Send/Recv form a pre-wired in-process channel pair for KindLocal.
	Send chan<- []byte
	Recv <-chan []byte

	// Conn is a caller-supplied, already-connected transport for KindDummy
	// (for example a platform-proprietary secure channel).
	Conn PacketConn
}

// Build constructs the configured transport.
func (c Config) Build(ctx context.Context) (PacketConn, error) {
	switch c.Kind {
	case KindUDP:
		return NewUDP(c.LocalAddr)
	case KindLocal:
		if c.Send == nil || c.Recv == nil {
			return nil, errors.New("transport: local kind needs a wired channel pair")
		}
		return NewLocal(c.Send, c.Recv), nil
	case KindQUIC:
		return DialQUIC(ctx, c.RemoteAddr, c.TLS)
	case KindDummy:
		if c.Conn == nil {
			return nil, errors.New("transport: dummy kind needs a caller-supplied conn")
		}
		return c.Conn, nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %d", c.Kind)
	}
}
