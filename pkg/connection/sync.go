package connection

import (
	"fmt"
	"time"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/zimokernel/tickwire/pkg/tick"
)

// SyncState is the clock synchronization handshake state.
type SyncState int

const (
	// Unsynced means no probe reply has been observed yet.
	Unsynced SyncState = iota
	// Syncing means replies are arriving but the sample window is not yet
	// stable enough to predict the remote tick.
	Syncing
	// Synced means the remote tick can be predicted within tolerance.
	Synced
)

func (s SyncState) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// Probe message kinds on the wire.
const (
	syncKindPing uint8 = 1
	syncKindPong uint8 = 2
)

// syncMessage is the CBOR wire form shared by pings and pongs. A pong echoes
// the ping's send timestamp and adds the replier's hold time and tick, so the
// probing side can subtract processing delay from the measured round trip.
type syncMessage struct {
	Kind         uint8  `cbor:"1,keyasint"`
	ID           uint16 `cbor:"2,keyasint"`
	SentUnixNano int64  `cbor:"3,keyasint"`
	HoldNanos    int64  `cbor:"4,keyasint,omitempty"`
	RemoteTick   uint16 `cbor:"5,keyasint,omitempty"`
}

type syncCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newSyncCodec() (syncCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return syncCodec{}, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return syncCodec{}, err
	}
	return syncCodec{enc: em, dec: dm}, nil
}

func (c syncCodec) marshal(m syncMessage) ([]byte, error)   { return c.enc.Marshal(m) }
func (c syncCodec) unmarshal(b []byte, m *syncMessage) error { return c.dec.Unmarshal(b, m) }

// SyncTuning parameterizes the sync manager.
type SyncTuning struct {
	// NumProbes is the minimum sample count before Synced is reachable.
	NumProbes int
	// ProbeInterval spaces outgoing pings while not synced.
	ProbeInterval time.Duration
	// TickInterval converts elapsed time into elapsed remote ticks.
	TickInterval time.Duration
	// ResyncThreshold re-enters Syncing when the observed remote tick
	// diverges this many ticks from the prediction.
	ResyncThreshold int
	// JitterTolerance is the largest round-trip deviation from the mean
	// that still counts as a stable window. Zero selects a default of two
	// tick intervals.
	JitterTolerance time.Duration
}

func (t *SyncTuning) sanitize() {
	if t.NumProbes <= 0 {
		t.NumProbes = 8
	}
	if t.ProbeInterval <= 0 {
		t.ProbeInterval = 100 * time.Millisecond
	}
	if t.TickInterval <= 0 {
		t.TickInterval = 16 * time.Millisecond
	}
	if t.ResyncThreshold <= 0 {
		t.ResyncThreshold = 2
	}
	if t.JitterTolerance <= 0 {
		t.JitterTolerance = 2 * t.TickInterval
	}
}

type syncSample struct {
	rtt        time.Duration
	remoteTick tick.Tick
	at         time.Time
}

type pendingPong struct {
	id       uint16
	sentNano int64
	recvAt   time.Time
}

// SyncManager estimates the peer's simulation tick from timestamped probes.
// It is the single owner of all clock state on a connection: round-trip
// samples, the smoothed estimate, and the resync decision.
type SyncManager struct {
	tuning SyncTuning
	state  SyncState

	sinceProbe  time.Duration
	nextProbeID uint16
	inFlight    map[uint16]int64 // probe id -> sent unix nanos

	samples     []syncSample
	smoothedRTT time.Duration

	pongs []pendingPong

	latestRemote tick.Tick
	hasRemote    bool

	// onResync fires when drift forces the state back to Syncing. May be nil.
	onResync func()
}

// NewSyncManager returns a manager in the Unsynced state.
func NewSyncManager(tuning SyncTuning) *SyncManager {
	tuning.sanitize()
	return &SyncManager{
		tuning:   tuning,
		inFlight: make(map[uint16]int64),
		// fire the first probe immediately
		sinceProbe: tuning.ProbeInterval,
	}
}

// State returns the current handshake state.
func (s *SyncManager) State() SyncState { return s.state }

// IsSynced reports whether remote tick prediction is trustworthy.
func (s *SyncManager) IsSynced() bool { return s.state == Synced }

// RTT returns the smoothed round-trip estimate, zero before the first reply.
func (s *SyncManager) RTT() time.Duration { return s.smoothedRTT }

// Update advances the probe timer. It returns an encoded ping payload when
// one is due. Probing continues after the link is synced; fresh samples keep
// the round-trip estimate and the tick prediction from going stale.
func (s *SyncManager) Update(delta time.Duration, now time.Time, codec syncCodec) ([]byte, bool, error) {
	s.sinceProbe += delta
	if s.sinceProbe < s.tuning.ProbeInterval {
		return nil, false, nil
	}
	s.sinceProbe = 0
	// Forget probes old enough that a reply can no longer be useful.
	stale := now.Add(-10 * s.tuning.ProbeInterval).UnixNano()
	for id, sent := range s.inFlight {
		if sent < stale {
			delete(s.inFlight, id)
		}
	}
	id := s.nextProbeID
	s.nextProbeID++
	s.inFlight[id] = now.UnixNano()
	payload, err := codec.marshal(syncMessage{
		Kind:         syncKindPing,
		ID:           id,
		SentUnixNano: now.UnixNano(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("encode ping: %w", err)
	}
	return payload, true, nil
}

// HandlePing queues a reply for the next flush. The reply is not built here
// so its hold time can cover the gap between arrival and send.
func (s *SyncManager) HandlePing(m syncMessage, now time.Time) {
	s.pongs = append(s.pongs, pendingPong{id: m.ID, sentNano: m.SentUnixNano, recvAt: now})
}

// PendingPongs drains queued replies, stamping each with the local tick and
// the time it spent held since the ping arrived.
func (s *SyncManager) PendingPongs(now time.Time, cur tick.Tick, codec syncCodec) ([][]byte, error) {
	if len(s.pongs) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(s.pongs))
	for _, p := range s.pongs {
		payload, err := codec.marshal(syncMessage{
			Kind:         syncKindPong,
			ID:           p.id,
			SentUnixNano: p.sentNano,
			HoldNanos:    now.Sub(p.recvAt).Nanoseconds(),
			RemoteTick:   uint16(cur),
		})
		if err != nil {
			return nil, fmt.Errorf("encode pong: %w", err)
		}
		out = append(out, payload)
	}
	s.pongs = s.pongs[:0]
	return out, nil
}

// HandlePong ingests one probe reply: it computes the network round trip
// (hold time subtracted), folds it into the sample window, and promotes the
// state once the window is full and stable.
func (s *SyncManager) HandlePong(m syncMessage, now time.Time) {
	sentNano, ok := s.inFlight[m.ID]
	if !ok || sentNano != m.SentUnixNano {
		// Stale or forged reply.
		return
	}
	delete(s.inFlight, m.ID)

	rtt := now.Sub(time.Unix(0, sentNano)) - time.Duration(m.HoldNanos)
	if rtt < 0 {
		rtt = 0
	}
	s.samples = append(s.samples, syncSample{
		rtt:        rtt,
		remoteTick: tick.Tick(m.RemoteTick),
		at:         now,
	})
	if len(s.samples) > s.tuning.NumProbes {
		s.samples = s.samples[1:]
	}
	s.recomputeRTT()
	if s.state == Unsynced {
		s.state = Syncing
	}
	if s.state == Syncing && len(s.samples) >= s.tuning.NumProbes && s.windowStable() {
		s.state = Synced
	}
}

func (s *SyncManager) recomputeRTT() {
	var sum time.Duration
	for _, smp := range s.samples {
		sum += smp.rtt
	}
	s.smoothedRTT = sum / time.Duration(len(s.samples))
}

func (s *SyncManager) windowStable() bool {
	for _, smp := range s.samples {
		dev := smp.rtt - s.smoothedRTT
		if dev < 0 {
			dev = -dev
		}
		if dev > s.tuning.JitterTolerance {
			return false
		}
	}
	return true
}

// PredictedRemoteTick extrapolates the peer's current tick from the newest
// sample: the tick it reported, advanced by the time since plus half the
// round trip.
func (s *SyncManager) PredictedRemoteTick(now time.Time) (tick.Tick, bool) {
	if len(s.samples) == 0 {
		return 0, false
	}
	latest := s.samples[len(s.samples)-1]
	ahead := now.Sub(latest.at) + s.smoothedRTT/2
	return latest.remoteTick.Add(int(ahead / s.tuning.TickInterval)), true
}

// ObserveRemoteTick records a tick seen on an arriving packet header. Once
// synced, divergence beyond the threshold drops the state back to Syncing.
func (s *SyncManager) ObserveRemoteTick(t tick.Tick, now time.Time) {
	if s.hasRemote && !t.After(s.latestRemote) {
		return
	}
	s.latestRemote, s.hasRemote = t, true
	if s.state != Synced {
		return
	}
	predicted, ok := s.PredictedRemoteTick(now)
	if !ok {
		return
	}
	drift := predicted.Diff(t)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.tuning.ResyncThreshold {
		s.state = Syncing
		s.samples = s.samples[:0]
		s.sinceProbe = s.tuning.ProbeInterval
		if s.onResync != nil {
			s.onResync()
		}
	}
}

// LatestRemoteTick returns the newest tick observed on any arriving packet.
func (s *SyncManager) LatestRemoteTick() (tick.Tick, bool) { return s.latestRemote, s.hasRemote }
