// Package connection aggregates one peer's channels behind a single
// update/receive surface: outbound messages are fragmented and queued on
// their channel, arriving packets are decoded and routed by channel id, and
// clock synchronization probes ride an ordinary channel owned by the
// connection itself.
//
// A Connection is single-threaded: Update, RecvPacket, and the buffer/read
// calls must come from one goroutine. All timers run lazily against the
// caller-supplied time, so a fixed-step loop gets deterministic behavior.
package connection

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/zimokernel/tickwire/pkg/channel"
	"github.com/zimokernel/tickwire/pkg/observability"
	"github.com/zimokernel/tickwire/pkg/packet"
	"github.com/zimokernel/tickwire/pkg/tick"
	"github.com/zimokernel/tickwire/pkg/transport"
)

// Config parameterizes a Connection.
type Config struct {
	// Registry holds the channel engines, built before traffic starts.
	Registry *channel.Registry
	// Sender is where flushed packets go.
	Sender transport.PacketSender
	// RemoteAddr is the peer address stamped on every send.
	RemoteAddr net.Addr
	// MTU is the packet size budget; zero selects the default.
	MTU int
	// SyncChannel is the registered channel id carrying probe traffic. The
	// connection owns this channel's inbound messages.
	SyncChannel uint8
	// Sync tunes the clock synchronization handshake.
	Sync SyncTuning
	// InputDepth is the local input history depth in ticks.
	InputDepth int
	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *observability.Metrics
}

// Connection is the per-peer aggregate.
type Connection struct {
	log     *zap.Logger
	metrics *observability.Metrics

	reg    *channel.Registry
	sender transport.PacketSender
	remote net.Addr

	frag  *packet.Fragmenter
	sync  *SyncManager
	codec syncCodec

	inputs      *InputBuffer[[]byte]
	syncChannel uint8
	cur         tick.Tick

	// ackDirty marks channels that received payload since the last flush,
	// so channels with inbound-only traffic still get ack-only packets out.
	// Gating on arrivals rather than on ack-state changes keeps acks flowing
	// for retransmitted duplicates, whose sequences are already in the
	// bitfield.
	ackDirty map[uint8]bool
}

// New validates cfg and builds the connection.
func New(cfg Config) (*Connection, error) {
	if cfg.Registry == nil {
		return nil, errors.New("connection: nil channel registry")
	}
	if cfg.Sender == nil {
		return nil, errors.New("connection: nil packet sender")
	}
	if _, ok := cfg.Registry.Get(cfg.SyncChannel); !ok {
		return nil, fmt.Errorf("connection: sync channel %d is not registered", cfg.SyncChannel)
	}
	codec, err := newSyncCodec()
	if err != nil {
		return nil, fmt.Errorf("connection: sync codec: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Connection{
		log:         log,
		metrics:     cfg.Metrics,
		reg:         cfg.Registry,
		sender:      cfg.Sender,
		remote:      cfg.RemoteAddr,
		frag:        packet.NewFragmenter(cfg.MTU),
		sync:        NewSyncManager(cfg.Sync),
		codec:       codec,
		inputs:      NewInputBuffer[[]byte](cfg.InputDepth),
		syncChannel: cfg.SyncChannel,
		ackDirty:    make(map[uint8]bool),
	}
	c.sync.onResync = func() {
		c.metrics.IncResync()
		c.log.Info("tick drift beyond threshold, resyncing")
	}
	c.inputs.OnEvict = func() { c.metrics.IncCapacityEviction("input") }
	return c, nil
}

// BufferSend queues one message on a channel, splitting it into fragments
// when it exceeds the packet budget. Nothing touches the wire until Update.
func (c *Connection) BufferSend(channelID uint8, data []byte, t tick.Tick) error {
	eng, ok := c.reg.Get(channelID)
	if !ok {
		return fmt.Errorf("connection: channel %d is not registered", channelID)
	}
	cs, err := c.frag.Split(data)
	if err != nil {
		return err
	}
	eng.BufferSend(cs, t)
	return nil
}

// ReadMessage pops the next delivered message on a channel.
func (c *Connection) ReadMessage(channelID uint8) (channel.Message, bool) {
	eng, ok := c.reg.Get(channelID)
	if !ok {
		return channel.Message{}, false
	}
	return eng.ReadMessage()
}

// PushInput records the local input for tick t.
func (c *Connection) PushInput(t tick.Tick, data []byte) { c.inputs.Push(t, data) }

// InputAt returns the local input recorded for tick t, if still retained.
func (c *Connection) InputAt(t tick.Tick) ([]byte, bool) { return c.inputs.Get(t) }

// Update advances the connection one step: engine bookkeeping, probe
// scheduling, and the flush of everything due onto the wire. A returned
// error is a fatal transport failure.
func (c *Connection) Update(delta time.Duration, now time.Time, cur tick.Tick) error {
	c.cur = cur
	for _, id := range c.reg.IDs() {
		eng, _ := c.reg.Get(id)
		eng.Update(now, cur)
	}

	if ping, due, err := c.sync.Update(delta, now, c.codec); err != nil {
		return err
	} else if due {
		if err := c.BufferSend(c.syncChannel, ping, cur); err != nil {
			return err
		}
	}
	pongs, err := c.sync.PendingPongs(now, cur, c.codec)
	if err != nil {
		return err
	}
	for _, p := range pongs {
		if err := c.BufferSend(c.syncChannel, p, cur); err != nil {
			return err
		}
	}

	return c.flush(now)
}

func (c *Connection) flush(now time.Time) error {
	for _, id := range c.reg.IDs() {
		eng, _ := c.reg.Get(id)
		ackSeq, ackBits, hasAck := eng.AckState()
		sends := eng.PendingSends(now)
		for _, s := range sends {
			h := packet.Header{
				Version: packet.Version,
				Channel: id,
				Seq:     s.Seq,
				Flags:   packet.FlagHasTick,
				Tick:    s.Tick,
			}
			if hasAck {
				h.AckSeq, h.AckBits = ackSeq, ackBits
				h.Flags |= packet.FlagHasAck
			}
			if s.Container.IsFragment() {
				h.Flags |= packet.FlagFragment
			}
			hdr, err := h.MarshalBinary()
			if err != nil {
				return err
			}
			buf := append(hdr, s.Container.Encode()...)
			if err := c.sender.Send(buf, c.remote); err != nil {
				return fmt.Errorf("connection: send on channel %d: %w", id, err)
			}
			c.metrics.IncPacketsSent()
		}
		if !hasAck {
			continue
		}
		if len(sends) == 0 && c.ackDirty[id] {
			// Inbound-only channel that received something: without a payload
			// to piggyback on, the peer would keep resending, so emit a bare
			// header carrying only the ack and the tick.
			h := packet.Header{
				Version: packet.Version,
				Channel: id,
				AckSeq:  ackSeq,
				AckBits: ackBits,
				Flags:   packet.FlagHasTick | packet.FlagHasAck,
				Tick:    c.cur,
			}
			hdr, err := h.MarshalBinary()
			if err != nil {
				return err
			}
			if err := c.sender.Send(hdr, c.remote); err != nil {
				return fmt.Errorf("connection: ack on channel %d: %w", id, err)
			}
			c.metrics.IncPacketsSent()
		}
		c.ackDirty[id] = false
	}
	return nil
}

// RecvPacket ingests one packet from the transport. Malformed packets are
// counted and dropped; the returned error is reserved for conditions the
// caller must act on, of which there are currently none.
func (c *Connection) RecvPacket(data []byte, now time.Time) error {
	var h packet.Header
	if err := h.UnmarshalBinary(data); err != nil {
		c.metrics.IncMalformed()
		c.log.Debug("dropping packet with bad header", zap.Error(err))
		return nil
	}
	c.metrics.IncPacketsReceived()
	if h.HasTick() {
		c.sync.ObserveRemoteTick(h.Tick, now)
	}
	eng, ok := c.reg.Get(h.Channel)
	if !ok {
		c.metrics.IncMalformed()
		c.log.Debug("dropping packet for unknown channel", zap.Uint8("channel", h.Channel))
		return nil
	}
	if h.Flags&packet.FlagHasAck != 0 {
		eng.RecvAck(h.AckSeq, h.AckBits)
	}
	if len(data) == packet.HeaderSize {
		// Ack-only packet, no payload to route.
		return nil
	}
	var cont packet.Container
	if err := cont.Decode(data[packet.HeaderSize:]); err != nil {
		c.metrics.IncMalformed()
		c.log.Debug("dropping packet with bad container", zap.Error(err))
		return nil
	}
	c.ackDirty[h.Channel] = true
	if err := eng.BufferRecv(h.Seq, h.Tick, cont, now); err != nil {
		c.metrics.IncMalformed()
		c.log.Debug("channel rejected packet", zap.Uint8("channel", h.Channel), zap.Error(err))
		return nil
	}
	if h.Channel == c.syncChannel {
		c.drainSync(now)
	}
	return nil
}

// drainSync consumes probe traffic; the sync channel never surfaces
// messages to the application.
func (c *Connection) drainSync(now time.Time) {
	eng, _ := c.reg.Get(c.syncChannel)
	for {
		m, ok := eng.ReadMessage()
		if !ok {
			return
		}
		var sm syncMessage
		if err := c.codec.unmarshal(m.Data, &sm); err != nil {
			c.metrics.IncMalformed()
			c.log.Debug("dropping undecodable probe", zap.Error(err))
			continue
		}
		switch sm.Kind {
		case syncKindPing:
			c.sync.HandlePing(sm, now)
		case syncKindPong:
			c.sync.HandlePong(sm, now)
		default:
			c.metrics.IncMalformed()
			c.log.Debug("dropping probe with unknown kind", zap.Uint8("kind", sm.Kind))
		}
	}
}

// IsSynced reports whether remote tick prediction is trustworthy.
func (c *Connection) IsSynced() bool { return c.sync.IsSynced() }

// SyncState returns the synchronization handshake state.
func (c *Connection) SyncState() SyncState { return c.sync.State() }

// RTT returns the smoothed round-trip estimate.
func (c *Connection) RTT() time.Duration { return c.sync.RTT() }

// PredictedRemoteTick extrapolates the peer's current simulation tick.
func (c *Connection) PredictedRemoteTick(now time.Time) (tick.Tick, bool) {
	return c.sync.PredictedRemoteTick(now)
}

// LatestRemoteTick returns the newest tick observed on an arriving packet.
func (c *Connection) LatestRemoteTick() (tick.Tick, bool) { return c.sync.LatestRemoteTick() }
