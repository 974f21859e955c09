// Package peer implements the control plane that sits above the rollback
// session and below the transport: pending→connected promotion, authority
// election, STATE_SYNC broadcast and acceptance, and disconnect/rejoin
// handling. Transport callbacks are enqueued and processed at two fixed
// points per tick — data messages before the simulation tick, peer events
// after it — never mid-tick.
package peer

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/metrics"
	"github.com/kokokino/talon-and-lance-sub001/pkg/rollback"
	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
	"github.com/kokokino/talon-and-lance-sub001/pkg/statebuf"
	"github.com/kokokino/talon-and-lance-sub001/pkg/transport"
)

// Transport is the outbound half the host provides. Reliability is not
// assumed on either direction.
type Transport interface {
	Broadcast(transport.Message)
	Send(to string, msg transport.Message)
}

// Sentinel rejection reasons for STATE_SYNC handling.
var (
	ErrStaleStateSync    = fmt.Errorf("state sync too far behind local frame")
	ErrRejectedStateSync = fmt.Errorf("state sync from non-authority while not joining")
)

// Config carries the control-plane policy parameters.
type Config struct {
	NumPeers          int
	LocalSlot         int
	InputDelay        int32
	Window            int32
	DisconnectTimeout time.Duration
	ChecksumInterval  int32

	// RedundantInputs is the window of recent inputs resent in every input
	// packet to ride out loss.
	RedundantInputs int

	// StateSyncBufferCap bounds snapshots parked for not-yet-known senders.
	StateSyncBufferCap int

	// StateSyncMaxSkew rejects snapshots more than this many frames behind
	// the local current frame.
	StateSyncMaxSkew int32

	// RetransmitDelays schedules redundant STATE_SYNC resends after a join
	// or desync, so a joiner racing with signalling still converges.
	RetransmitDelays []time.Duration

	// PreSessionInputCap bounds inputs buffered before the session exists.
	PreSessionInputCap int
}

func (c *Config) fillDefaults() {
	if c.NumPeers == 0 {
		c.NumPeers = sim.MaxPlayers
	}
	if c.RedundantInputs == 0 {
		c.RedundantInputs = 5
	}
	if c.StateSyncBufferCap == 0 {
		c.StateSyncBufferCap = 4
	}
	if c.StateSyncMaxSkew == 0 {
		c.StateSyncMaxSkew = 120
	}
	if c.RetransmitDelays == nil {
		c.RetransmitDelays = []time.Duration{time.Second, 3 * time.Second}
	}
	if c.PreSessionInputCap == 0 {
		c.PreSessionInputCap = 256
	}
}

type preInput struct {
	slot  int
	frame int32
	word  sim.Input
}

// Plane owns the peer maps and the session lifecycle. Owned by the driver
// thread; not safe for concurrent use.
type Plane struct {
	cfg Config

	state *sim.State
	buf   *statebuf.Buffer
	sess  *rollback.Session
	out   Transport

	pending   map[string]int
	connected map[string]int
	slotToID  map[int]string

	joining   bool
	authority int

	deferredEvents []transport.Message
	syncBuffer     []transport.Message
	preInputs      []preInput
	retransmitAt   []time.Time
	retransmitFor  int

	recentInputs []transport.FrameInput

	soloDisconnects []int
}

// New creates a control plane around the given state and snapshot buffer.
// A plane created with joining=true stays in solo mode until a STATE_SYNC
// is accepted.
func New(cfg Config, state *sim.State, buf *statebuf.Buffer, out Transport, joining bool) *Plane {
	cfg.fillDefaults()
	return &Plane{
		cfg:           cfg,
		state:         state,
		buf:           buf,
		out:           out,
		pending:       make(map[string]int),
		connected:     make(map[string]int),
		slotToID:      make(map[int]string),
		joining:       joining,
		authority:     cfg.LocalSlot,
		retransmitFor: -1,
	}
}

// Session returns the active rollback session, or nil in solo mode.
func (p *Plane) Session() *rollback.Session { return p.sess }

// Joining reports whether the plane is still waiting for its first
// authoritative snapshot.
func (p *Plane) Joining() bool { return p.joining }

// Authority returns the current authority slot.
func (p *Plane) Authority() int { return p.authority }

// RegisterPeer places a transport id in the pending map with its assigned
// slot. Registration normally comes from the room roster before the
// transport-level connected event fires. Idempotent.
func (p *Plane) RegisterPeer(id string, slot int) {
	if _, ok := p.connected[id]; ok {
		return
	}
	p.pending[id] = slot
}

// HandleMessage processes one inbound data message. Peer events are deferred
// to the post-tick drain; everything else applies immediately.
func (p *Plane) HandleMessage(msg transport.Message, now time.Time) {
	switch msg.Kind {
	case transport.KindPeerEvent:
		p.deferredEvents = append(p.deferredEvents, msg)
	case transport.KindInput:
		p.handleInput(msg, now)
	case transport.KindChecksum:
		if p.sess != nil {
			p.sess.AddRemoteChecksum(int(msg.Slot), msg.Frame, msg.Sum, now)
		}
	case transport.KindStateSync:
		p.handleStateSync(msg, now)
	}
}

func (p *Plane) handleInput(msg transport.Message, now time.Time) {
	slot := int(msg.Slot)
	if slot < 0 || slot >= p.cfg.NumPeers || slot == p.cfg.LocalSlot {
		return
	}
	if p.sess == nil {
	next:
		for _, fi := range msg.Inputs {
			for _, pi := range p.preInputs {
				if pi.slot == slot && pi.frame == fi.Frame {
					continue next // redundant batches repeat frames
				}
			}
			if len(p.preInputs) >= p.cfg.PreSessionInputCap {
				logrus.WithFields(logrus.Fields{
					"system_name": "peer_plane",
					"slot":        slot,
				}).Warn("pre-session input buffer full, dropping")
				return
			}
			p.preInputs = append(p.preInputs, preInput{slot: slot, frame: fi.Frame, word: sim.Input(fi.Word)})
		}
		return
	}
	// Inputs only flow once a peer has adopted a snapshot; a pending
	// retransmission for it is no longer needed, and rebroadcasting a
	// speculative state to a converged peer would desync it.
	if len(p.retransmitAt) > 0 && (p.retransmitFor < 0 || p.retransmitFor == slot) {
		p.retransmitAt = p.retransmitAt[:0]
	}
	for _, fi := range msg.Inputs {
		p.sess.AddRemoteInput(slot, fi.Frame, sim.Input(fi.Word), now)
	}
}

// handleStateSync applies the acceptance rules: the sender must be the
// current authority, or the local peer must still be joining (in which case
// the sender is adopted as authority); a snapshot far behind the local frame
// is stale. Snapshots from unknown transport ids are buffered while joining
// and replayed on promotion.
func (p *Plane) handleStateSync(msg transport.Message, now time.Time) {
	senderSlot, known := p.connected[msg.From]
	if !known {
		if p.joining {
			if len(p.syncBuffer) >= p.cfg.StateSyncBufferCap {
				metrics.StateSyncsDropped.Inc()
				logrus.WithFields(logrus.Fields{
					"system_name": "peer_plane",
					"from":        msg.From,
				}).Warn("state sync buffer full, dropping")
				return
			}
			metrics.StateSyncsBuffered.Inc()
			p.syncBuffer = append(p.syncBuffer, msg)
			return
		}
		metrics.StateSyncsRejected.Inc()
		logrus.WithFields(logrus.Fields{
			"system_name": "peer_plane",
			"from":        msg.From,
		}).Debug("state sync from unknown peer dropped")
		return
	}

	if !p.joining {
		if senderSlot != p.authority {
			metrics.StateSyncsRejected.Inc()
			logrus.WithFields(logrus.Fields{
				"system_name": "peer_plane",
				"from":        msg.From,
				"slot":        senderSlot,
				"authority":   p.authority,
				"reason":      ErrRejectedStateSync,
			}).Debug("state sync rejected")
			return
		}
		local := p.localFrame()
		if local-msg.Frame > p.cfg.StateSyncMaxSkew {
			metrics.StateSyncsRejected.Inc()
			logrus.WithFields(logrus.Fields{
				"system_name": "peer_plane",
				"frame":       msg.Frame,
				"local_frame": local,
				"reason":      ErrStaleStateSync,
			}).Debug("state sync rejected")
			return
		}
	}

	p.adoptSnapshot(msg, senderSlot, now)
}

func (p *Plane) localFrame() int32 {
	if p.sess != nil {
		return p.sess.Frame()
	}
	return p.state.Frame()
}

// adoptSnapshot deserializes an accepted snapshot, activates the local slot
// if needed, and creates or resets the session at the snapshot frame.
func (p *Plane) adoptSnapshot(msg transport.Message, senderSlot int, now time.Time) {
	if err := p.state.Deserialize(msg.Snapshot); err != nil {
		logrus.WithFields(logrus.Fields{
			"system_name": "peer_plane",
			"from":        msg.From,
		}).WithError(err).Warn("state sync snapshot malformed")
		return
	}
	p.state.SetFrame(msg.Frame)
	if !p.state.PlayerActive(p.cfg.LocalSlot) {
		p.state.ActivatePlayer(p.cfg.LocalSlot)
	}
	p.buf.Reset()

	wasJoining := p.joining
	p.joining = false
	if wasJoining {
		// Adopt the sender as authority to prevent split-brain; membership
		// changes recompute it from here on.
		p.authority = senderSlot
	}

	if p.sess == nil {
		p.createSession(msg.Frame, now)
	} else {
		p.sess.ResetToFrame(msg.Frame, now)
		for slot := 0; slot < p.cfg.NumPeers; slot++ {
			if slot == p.cfg.LocalSlot {
				continue
			}
			_, live := p.slotToID[slot]
			p.sess.SetAutoInput(slot, !live)
		}
	}

	metrics.StateSyncsAccepted.Inc()
	logrus.WithFields(logrus.Fields{
		"system_name": "peer_plane",
		"from":        msg.From,
		"frame":       msg.Frame,
		"authority":   p.authority,
	}).Info("state sync accepted")
}

// createSession builds a session anchored at frame with auto-input slots for
// every seat without a connected peer, then injects any pre-session inputs
// at or after the anchor.
func (p *Plane) createSession(frame int32, now time.Time) {
	auto := make([]int, 0, p.cfg.NumPeers)
	for slot := 0; slot < p.cfg.NumPeers; slot++ {
		if slot == p.cfg.LocalSlot {
			continue
		}
		if _, ok := p.slotToID[slot]; !ok {
			auto = append(auto, slot)
		}
	}
	p.sess = rollback.New(rollback.Config{
		NumPeers:          p.cfg.NumPeers,
		LocalIdx:          p.cfg.LocalSlot,
		InputDelay:        p.cfg.InputDelay,
		Window:            p.cfg.Window,
		DisconnectTimeout: p.cfg.DisconnectTimeout,
		ChecksumInterval:  p.cfg.ChecksumInterval,
		StartFrame:        frame,
		AutoInputs:        auto,
	}, now)

	kept := 0
	for _, pi := range p.preInputs {
		if pi.frame >= frame {
			p.sess.AddRemoteInput(pi.slot, pi.frame, pi.word, now)
			kept++
		}
	}
	if len(p.preInputs) > 0 {
		logrus.WithFields(logrus.Fields{
			"system_name": "peer_plane",
			"kept":        kept,
			"dropped":     len(p.preInputs) - kept,
		}).Debug("pre-session inputs injected")
	}
	p.preInputs = nil
}

// DrainPeerEvents processes deferred transport peer events in arrival order.
// Runs after the simulation tick, never mid-tick.
func (p *Plane) DrainPeerEvents(now time.Time) {
	events := p.deferredEvents
	p.deferredEvents = nil
	for _, ev := range events {
		if ev.Up {
			p.promotePeer(ev.From, now)
		} else {
			p.dropPeer(ev.From, now)
		}
	}
	p.flushRetransmits(now)
}

// promotePeer moves a pending peer to connected, re-arms its session slot,
// and — when the local peer is authority — activates the joiner's slot and
// broadcasts a STATE_SYNC. Duplicate notifications are idempotent.
func (p *Plane) promotePeer(id string, now time.Time) {
	if _, ok := p.connected[id]; ok {
		return
	}
	slot, ok := p.pending[id]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"system_name": "peer_plane",
			"peer":        id,
		}).Warn("connected event for unregistered peer")
		return
	}
	delete(p.pending, id)
	p.connected[id] = slot
	p.slotToID[slot] = id
	p.recomputeAuthority()

	logrus.WithFields(logrus.Fields{
		"system_name": "peer_plane",
		"peer":        id,
		"slot":        slot,
		"authority":   p.authority,
	}).Info("peer connected")

	if p.joining {
		// Replay snapshots that raced ahead of this promotion.
		buffered := p.syncBuffer
		p.syncBuffer = nil
		for _, msg := range buffered {
			p.handleStateSync(msg, now)
		}
		return
	}

	if p.sess != nil {
		p.sess.ReconnectPeer(slot)
	} else {
		p.createSession(p.state.Frame(), now)
	}
	if p.authority == p.cfg.LocalSlot {
		p.state.ActivatePlayer(slot)
		p.broadcastStateSync(now, slot)
	}
}

// dropPeer removes a peer from either map. A connected peer's slot becomes
// auto-input; with no connected peers left, the session tears down and the
// driver returns to solo mode.
func (p *Plane) dropPeer(id string, now time.Time) {
	if _, ok := p.pending[id]; ok {
		delete(p.pending, id)
		return
	}
	slot, ok := p.connected[id]
	if !ok {
		return
	}
	delete(p.connected, id)
	delete(p.slotToID, slot)
	if p.sess != nil {
		p.sess.DisconnectPeer(slot)
	}
	p.recomputeAuthority()

	logrus.WithFields(logrus.Fields{
		"system_name": "peer_plane",
		"peer":        id,
		"slot":        slot,
		"authority":   p.authority,
	}).Info("peer dropped")

	if len(p.connected) == 0 && p.sess != nil {
		p.soloDisconnects = append(p.soloDisconnects, slot)
		p.sess = nil
		p.retransmitAt = nil
		logrus.WithFields(logrus.Fields{
			"system_name": "peer_plane",
		}).Info("no peers left, returning to solo mode")
	}
}

// HandleSessionEvent reacts to events drained from the session after a tick.
func (p *Plane) HandleSessionEvent(ev rollback.Event, now time.Time) {
	switch ev.Kind {
	case rollback.EventDisconnected:
		if id, ok := p.slotToID[ev.Peer]; ok {
			p.dropPeer(id, now)
		}
	case rollback.EventDesyncDetected:
		if p.authority == p.cfg.LocalSlot {
			p.broadcastStateSync(now, -1)
		}
	case rollback.EventStateSyncRequested:
		// Non-authorities wait for the authority's broadcast; its own
		// checksum comparison raises the same event on its side.
	}
}

// recomputeAuthority elects the lowest active slot among connected peers and
// the local slot. Activity matters: a freshly connected joiner is not active
// in anyone's state yet, so election stays with the peers that carry the
// authoritative state until the joiner is seeded.
func (p *Plane) recomputeAuthority() {
	candidates := []int{p.cfg.LocalSlot}
	for _, slot := range p.connected {
		candidates = append(candidates, slot)
	}
	best := -1
	fallback := candidates[0]
	for _, slot := range candidates {
		if slot < fallback {
			fallback = slot
		}
		if p.state.PlayerActive(slot) && (best < 0 || slot < best) {
			best = slot
		}
	}
	if best < 0 {
		best = fallback
	}
	p.authority = best
}

// broadcastStateSync serializes the current state and broadcasts it, then
// schedules the redundant retransmissions. forSlot names the joiner the
// retransmissions are for, or -1 when any peer's inputs may cancel them.
func (p *Plane) broadcastStateSync(now time.Time, forSlot int) {
	msg := transport.Message{
		Kind:     transport.KindStateSync,
		Slot:     int32(p.cfg.LocalSlot),
		Frame:    p.state.Frame(),
		Snapshot: p.state.Serialize(),
	}
	p.out.Broadcast(msg)
	metrics.StateSyncsSent.Inc()
	logrus.WithFields(logrus.Fields{
		"system_name": "peer_plane",
		"frame":       msg.Frame,
	}).Info("state sync broadcast")

	p.retransmitAt = p.retransmitAt[:0]
	for _, d := range p.cfg.RetransmitDelays {
		p.retransmitAt = append(p.retransmitAt, now.Add(d))
	}
	p.retransmitFor = forSlot
}

// flushRetransmits re-broadcasts a fresh snapshot at each due mark, provided
// the local peer is still authority with a live session.
func (p *Plane) flushRetransmits(now time.Time) {
	if len(p.retransmitAt) == 0 {
		return
	}
	due := false
	rest := p.retransmitAt[:0]
	for _, at := range p.retransmitAt {
		if !at.After(now) {
			due = true
		} else {
			rest = append(rest, at)
		}
	}
	p.retransmitAt = rest
	if due && p.sess != nil && p.authority == p.cfg.LocalSlot {
		msg := transport.Message{
			Kind:     transport.KindStateSync,
			Slot:     int32(p.cfg.LocalSlot),
			Frame:    p.state.Frame(),
			Snapshot: p.state.Serialize(),
		}
		p.out.Broadcast(msg)
		metrics.StateSyncsSent.Inc()
	}
}

// BroadcastLocalInput records the stamped local input in the redundancy
// window and broadcasts the window, oldest first.
func (p *Plane) BroadcastLocalInput(frame int32, in sim.Input) {
	if n := len(p.recentInputs); n > 0 && p.recentInputs[n-1].Frame == frame {
		// A stalled tick restamps the same frame; keep one entry for it.
		p.recentInputs[n-1].Word = uint32(in)
	} else {
		p.recentInputs = append(p.recentInputs, transport.FrameInput{Frame: frame, Word: uint32(in)})
	}
	if len(p.recentInputs) > p.cfg.RedundantInputs {
		p.recentInputs = p.recentInputs[len(p.recentInputs)-p.cfg.RedundantInputs:]
	}
	batch := make([]transport.FrameInput, len(p.recentInputs))
	copy(batch, p.recentInputs)
	p.out.Broadcast(transport.Message{
		Kind:   transport.KindInput,
		Slot:   int32(p.cfg.LocalSlot),
		Inputs: batch,
	})
}

// BroadcastChecksum publishes the saved snapshot digest for a frame.
func (p *Plane) BroadcastChecksum(frame int32, sum uint32) {
	p.out.Broadcast(transport.Message{
		Kind:  transport.KindChecksum,
		Slot:  int32(p.cfg.LocalSlot),
		Frame: frame,
		Sum:   sum,
	})
}

// TakeSoloDisconnects returns the slots whose disconnect bit the driver must
// feed into the next solo step, clearing the list.
func (p *Plane) TakeSoloDisconnects() []int {
	out := p.soloDisconnects
	p.soloDisconnects = nil
	return out
}
