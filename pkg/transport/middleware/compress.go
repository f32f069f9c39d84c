package middleware

import (
	"fmt"
	"net"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/zimokernel/tickwire/pkg/transport"
)

// Compression algorithm names accepted in configuration.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionS2   = "s2"
)

// CompressionConfig selects the packet codec. The codec is symmetric and
// lossless; both peers must agree on the algorithm.
type CompressionConfig struct {
	Algorithm string
	// Level applies to zstd only (zstd's own 1..4 scale maps from the
	// standard 1..22 range).
	Level int
}

type codec interface {
	compress(p []byte) ([]byte, error)
	decompress(p []byte) ([]byte, error)
}

func newCodec(cfg CompressionConfig) (codec, error) {
	switch cfg.Algorithm {
	case "", CompressionNone:
		return nil, nil
	case CompressionZstd:
		level := zstd.SpeedDefault
		if cfg.Level != 0 {
			level = zstd.EncoderLevelFromZstd(cfg.Level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		return &zstdCodec{enc: enc, dec: dec}, nil
	case CompressionS2:
		return s2Codec{}, nil
	default:
		return nil, fmt.Errorf("middleware: unknown compression algorithm %q", cfg.Algorithm)
	}
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (c *zstdCodec) compress(p []byte) ([]byte, error) { return c.enc.EncodeAll(p, nil), nil }
func (c *zstdCodec) decompress(p []byte) ([]byte, error) {
	return c.dec.DecodeAll(p, nil)
}

type s2Codec struct{}

func (s2Codec) compress(p []byte) ([]byte, error)   { return s2.Encode(nil, p), nil }
func (s2Codec) decompress(p []byte) ([]byte, error) { return s2.Decode(nil, p) }

type compressingSender struct {
	inner transport.PacketSender
	c     codec
}

func (s *compressingSender) Send(payload []byte, addr net.Addr) error {
	out, err := s.c.compress(payload)
	if err != nil {
		return err
	}
	return s.inner.Send(out, addr)
}

type decompressingReceiver struct {
	inner transport.PacketReceiver
	c     codec
}

func (r *decompressingReceiver) Recv() ([]byte, net.Addr, bool, error) {
	data, from, ok, err := r.inner.Recv()
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	out, err := r.c.decompress(data)
	if err != nil {
		// Malformed packet: drop it, the link stays up.
		return nil, nil, false, nil
	}
	return out, from, true, nil
}

// WrapSender adds compression to a sender. With algorithm "none" the sender
// is returned unchanged.
func WrapSender(inner transport.PacketSender, cfg CompressionConfig) (transport.PacketSender, error) {
	c, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return inner, nil
	}
	return &compressingSender{inner: inner, c: c}, nil
}

// WrapReceiver adds decompression to a receiver. With algorithm "none" the
// receiver is returned unchanged.
func WrapReceiver(inner transport.PacketReceiver, cfg CompressionConfig) (transport.PacketReceiver, error) {
	c, err := newCodec(cfg)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return inner, nil
	}
	return &decompressingReceiver{inner: inner, c: c}, nil
}

// Apply wraps conn with the configured middleware in the fixed order:
// receive = conditioner then decompressor, send = compressor.
func Apply(conn transport.PacketConn, cond *ConditionerConfig, comp CompressionConfig, opts ...Option) (transport.PacketSender, transport.PacketReceiver, error) {
	var receiver transport.PacketReceiver = conn
	if cond != nil && cond.Enabled() {
		receiver = NewConditioner(receiver, *cond, opts...)
	}
	receiver, err := WrapReceiver(receiver, comp)
	if err != nil {
		return nil, nil, err
	}
	sender, err := WrapSender(conn, comp)
	if err != nil {
		return nil, nil, err
	}
	return sender, receiver, nil
}
