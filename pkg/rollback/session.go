// Package rollback implements the prediction/rollback session that keeps N
// peers' deterministic simulations in lockstep over a lossy transport.
//
// The session never touches the simulation directly. Each tick it emits a
// short script of requests — save, load, advance — that the driver executes
// against the state buffer and the step function. When a remote input arrives
// that contradicts an earlier prediction, the next tick's script re-executes
// the predicted window with the authoritative inputs.
package rollback

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/metrics"
	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
)

// RequestKind tags a driver request.
type RequestKind int

// Driver request kinds, executed in emission order.
const (
	SaveState RequestKind = iota
	LoadState
	AdvanceFrame
)

// Request is one instruction for the driver. Inputs is populated for
// AdvanceFrame only and holds one word per peer slot.
type Request struct {
	Kind   RequestKind
	Frame  int32
	Inputs []sim.Input
}

// EventKind tags a session event.
type EventKind int

// Session events drained by the driver after each tick.
const (
	EventDisconnected EventKind = iota
	EventDesyncDetected
	EventStateSyncRequested
)

// Event is an outbound session event.
type Event struct {
	Kind  EventKind
	Peer  int
	Frame int32
}

// Config carries the session construction parameters.
type Config struct {
	NumPeers          int
	LocalIdx          int
	InputDelay        int32
	Window            int32
	DisconnectTimeout time.Duration
	ChecksumInterval  int32
	StartFrame        int32
	AutoInputs        []int
}

type inputQueue struct {
	entries   map[int32]sim.Input
	predicted map[int32]sim.Input
	confirmed int32
}

// Session tracks per-peer input queues and decides, each tick, whether to
// advance, suspend, or roll back. Owned by the driver thread; not safe for
// concurrent use.
type Session struct {
	cfg Config

	frame     int32
	syncFrame int32

	queues       []inputQueue
	auto         []bool
	disconnected []bool
	synchronized []bool
	lastRecv     []time.Time

	rollbackPending bool
	rollbackTo      int32

	localSums  map[int32]uint32
	remoteSums map[int32]map[int]uint32
	desyncSeen map[int32]bool

	events []Event
}

// New creates a session anchored at cfg.StartFrame. Slots listed in
// cfg.AutoInputs never expect remote input.
func New(cfg Config, now time.Time) *Session {
	s := &Session{
		cfg:          cfg,
		frame:        cfg.StartFrame,
		syncFrame:    cfg.StartFrame,
		queues:       make([]inputQueue, cfg.NumPeers),
		auto:         make([]bool, cfg.NumPeers),
		disconnected: make([]bool, cfg.NumPeers),
		synchronized: make([]bool, cfg.NumPeers),
		lastRecv:     make([]time.Time, cfg.NumPeers),
		rollbackTo:   -1,
		localSums:    make(map[int32]uint32),
		remoteSums:   make(map[int32]map[int]uint32),
		desyncSeen:   make(map[int32]bool),
	}
	for i := range s.queues {
		s.queues[i] = inputQueue{
			entries:   make(map[int32]sim.Input),
			predicted: make(map[int32]sim.Input),
			confirmed: cfg.StartFrame - 1,
		}
		s.lastRecv[i] = now
	}
	for _, a := range cfg.AutoInputs {
		if a >= 0 && a < cfg.NumPeers {
			s.auto[a] = true
		}
	}
	logrus.WithFields(logrus.Fields{
		"system_name": "rollback",
		"peers":       cfg.NumPeers,
		"local":       cfg.LocalIdx,
		"delay":       cfg.InputDelay,
		"window":      cfg.Window,
		"start_frame": cfg.StartFrame,
	}).Info("rollback session created")
	return s
}

// Frame returns the current (next to execute) frame.
func (s *Session) Frame() int32 { return s.frame }

// SyncFrame returns the greatest frame known authoritative.
func (s *Session) SyncFrame() int32 { return s.syncFrame }

// ConfirmedFrame returns the greatest frame for which a real input from the
// peer has arrived.
func (s *Session) ConfirmedFrame(peer int) int32 {
	if peer < 0 || peer >= s.cfg.NumPeers {
		return s.cfg.StartFrame - 1
	}
	return s.queues[peer].confirmed
}

// AutoInput reports whether a slot is in the auto-input set.
func (s *Session) AutoInput(peer int) bool {
	return peer >= 0 && peer < s.cfg.NumPeers && s.auto[peer]
}

// SetAutoInput moves a slot in or out of the auto-input set.
func (s *Session) SetAutoInput(peer int, auto bool) {
	if peer >= 0 && peer < s.cfg.NumPeers {
		s.auto[peer] = auto
	}
}

// Disconnected reports whether a peer has been marked disconnected.
func (s *Session) Disconnected(peer int) bool {
	return peer >= 0 && peer < s.cfg.NumPeers && s.disconnected[peer]
}

// AddLocalInput stamps the local input with the delay offset, records it as
// confirmed, and returns the stamped frame and effective word for broadcast.
// A stalled tick restamps the same frame; the first value wins, so what was
// already broadcast stays what will be executed.
func (s *Session) AddLocalInput(in sim.Input) (int32, sim.Input) {
	stamped := s.frame + s.cfg.InputDelay
	q := &s.queues[s.cfg.LocalIdx]
	if prev, ok := q.entries[stamped]; ok {
		return stamped, prev
	}
	q.entries[stamped] = in
	if stamped > q.confirmed {
		q.confirmed = stamped
	}
	return stamped, in
}

// AddRemoteInput records an authoritative remote input. Late arrivals are
// inserted at their frame, not appended; a value that contradicts the
// prediction used at that frame schedules a rollback.
func (s *Session) AddRemoteInput(peer int, frame int32, in sim.Input, now time.Time) {
	if peer < 0 || peer >= s.cfg.NumPeers || peer == s.cfg.LocalIdx {
		return
	}
	s.Touch(peer, now)
	s.synchronized[peer] = true

	q := &s.queues[peer]
	prev, had := q.entries[frame]
	if had && prev == in {
		return
	}
	q.entries[frame] = in
	if frame > q.confirmed {
		q.confirmed = frame
	}

	// A contradiction with what was executed at this frame — whether a
	// prediction or a previously confirmed value replaced after the peer
	// reset — schedules a rollback to the earliest such frame.
	mismatch := false
	if pred, ok := q.predicted[frame]; ok {
		delete(q.predicted, frame)
		mismatch = pred != in
	} else if had {
		mismatch = prev != in
	}
	if mismatch && frame <= s.frame-1 {
		if !s.rollbackPending || frame < s.rollbackTo {
			s.rollbackPending = true
			s.rollbackTo = frame
		}
		metrics.LateInputs.Inc()
	}
}

// Touch refreshes the wall-clock liveness of a peer.
func (s *Session) Touch(peer int, now time.Time) {
	if peer >= 0 && peer < s.cfg.NumPeers {
		s.lastRecv[peer] = now
	}
}

// AddLocalChecksum records the digest of the locally saved snapshot at
// frame. A rollback re-save overwrites the entry, so comparison is deferred
// until the frame is safely authoritative (see ChecksumHorizon).
func (s *Session) AddLocalChecksum(frame int32, sum uint32) {
	s.localSums[frame] = sum
	s.pruneChecksums()
}

// AddRemoteChecksum records a peer's digest for frame. Comparison happens on
// the next tick, once the frame is behind the rollback horizon on both ends.
func (s *Session) AddRemoteChecksum(peer int, frame int32, sum uint32, now time.Time) {
	if peer < 0 || peer >= s.cfg.NumPeers || peer == s.cfg.LocalIdx {
		return
	}
	if s.disconnected[peer] {
		return
	}
	s.Touch(peer, now)
	m := s.remoteSums[frame]
	if m == nil {
		m = make(map[int]uint32)
		s.remoteSums[frame] = m
	}
	m[peer] = sum
}

// ChecksumHorizon is the greatest frame whose saved digest can no longer be
// rewritten by a rollback and is safe to publish or compare.
func (s *Session) ChecksumHorizon() int32 {
	return s.syncFrame - s.cfg.Window - 2
}

// compareReadyChecksums compares every stored (local, remote) digest pair
// behind the horizon.
func (s *Session) compareReadyChecksums() {
	horizon := s.ChecksumHorizon()
	for frame, peers := range s.remoteSums {
		if frame > horizon {
			continue
		}
		local, ok := s.localSums[frame]
		if !ok {
			continue
		}
		for peer, remote := range peers {
			s.compareChecksums(peer, frame, remote, local)
		}
	}
}

func (s *Session) compareChecksums(peer int, frame int32, remote, local uint32) {
	if remote == local || s.desyncSeen[frame] {
		return
	}
	s.desyncSeen[frame] = true
	metrics.DesyncsDetected.Inc()
	logrus.WithFields(logrus.Fields{
		"system_name": "rollback",
		"peer":        peer,
		"frame":       frame,
		"local_sum":   local,
		"remote_sum":  remote,
	}).Warn("checksum mismatch")
	s.events = append(s.events, Event{Kind: EventDesyncDetected, Peer: peer, Frame: frame})
	s.events = append(s.events, Event{Kind: EventStateSyncRequested, Peer: peer, Frame: frame})
}

func (s *Session) pruneChecksums() {
	horizon := s.syncFrame - 4*s.cfg.ChecksumInterval
	for f := range s.localSums {
		if f < horizon {
			delete(s.localSums, f)
		}
	}
	for f := range s.remoteSums {
		if f < horizon {
			delete(s.remoteSums, f)
		}
	}
	for f := range s.desyncSeen {
		if f < horizon {
			delete(s.desyncSeen, f)
		}
	}
}

// DisconnectPeer moves a peer into the auto-input set, schedules the
// disconnect bit for the next advanced frame, drops its queued checksums,
// and drains a Disconnected event. Idempotent.
func (s *Session) DisconnectPeer(peer int) {
	if peer < 0 || peer >= s.cfg.NumPeers || s.disconnected[peer] {
		return
	}
	s.disconnected[peer] = true
	s.auto[peer] = true

	q := &s.queues[peer]
	q.entries = map[int32]sim.Input{s.frame: sim.InputDisconnect}
	q.predicted = make(map[int32]sim.Input)
	if s.frame > q.confirmed {
		q.confirmed = s.frame
	}
	for _, m := range s.remoteSums {
		delete(m, peer)
	}
	logrus.WithFields(logrus.Fields{
		"system_name": "rollback",
		"peer":        peer,
		"frame":       s.frame,
	}).Info("peer disconnected")
	s.events = append(s.events, Event{Kind: EventDisconnected, Peer: peer, Frame: s.frame})
}

// ReconnectPeer clears the disconnected and auto-input marks for a slot that
// rejoined, re-arming its queue from the current frame. The caller follows up
// with a STATE_SYNC and a reset, so stale entries are simply discarded.
func (s *Session) ReconnectPeer(peer int) {
	if peer < 0 || peer >= s.cfg.NumPeers || peer == s.cfg.LocalIdx {
		return
	}
	s.disconnected[peer] = false
	s.auto[peer] = false
	s.synchronized[peer] = false
	s.queues[peer].entries = make(map[int32]sim.Input)
	s.queues[peer].predicted = make(map[int32]sim.Input)
	s.queues[peer].confirmed = s.frame - 1
	logrus.WithFields(logrus.Fields{
		"system_name": "rollback",
		"peer":        peer,
		"frame":       s.frame,
	}).Info("peer reconnected")
}

// Events drains pending session events.
func (s *Session) Events() []Event {
	out := s.events
	s.events = nil
	return out
}

// ResetToFrame clears all queues, checksums, and rollback cursors, and
// re-anchors the session at frame. Called after adopting an authoritative
// snapshot.
func (s *Session) ResetToFrame(frame int32, now time.Time) {
	for i := range s.queues {
		s.queues[i].entries = make(map[int32]sim.Input)
		s.queues[i].predicted = make(map[int32]sim.Input)
		s.queues[i].confirmed = frame - 1
		s.lastRecv[i] = now
		s.synchronized[i] = false
	}
	s.frame = frame
	s.syncFrame = frame
	s.rollbackPending = false
	s.rollbackTo = -1
	s.localSums = make(map[int32]uint32)
	s.remoteSums = make(map[int32]map[int]uint32)
	s.desyncSeen = make(map[int32]bool)
	logrus.WithFields(logrus.Fields{
		"system_name": "rollback",
		"frame":       frame,
	}).Info("session reset")
}

// Tick runs the per-tick decision. It returns the request script for the
// driver and true, or nil and false when the prediction window is saturated
// and the caller must back off for this tick.
func (s *Session) Tick(now time.Time) ([]Request, bool) {
	s.checkDisconnects(now)
	s.updateSyncFrame()
	s.compareReadyChecksums()

	if s.frame-s.syncFrame > s.cfg.Window {
		metrics.StalledTicks.Inc()
		return nil, false
	}

	var reqs []Request

	if s.rollbackPending && s.rollbackTo <= s.frame-1 {
		// Re-execute from the earliest mispredicted frame. The frontier may
		// already have passed it, but snapshots between it and the current
		// frame were built on the wrong prediction and must be rebuilt.
		target := s.rollbackTo
		depth := s.frame - target
		metrics.RollbacksTotal.Inc()
		metrics.RollbackDepth.Observe(float64(depth))
		logrus.WithFields(logrus.Fields{
			"system_name": "rollback",
			"from":        s.frame,
			"to":          target,
			"depth":       depth,
		}).Debug("rolling back")

		reqs = append(reqs, Request{Kind: LoadState, Frame: target})
		for f := target; f < s.frame; f++ {
			if f > target {
				reqs = append(reqs, Request{Kind: SaveState, Frame: f})
			}
			reqs = append(reqs, Request{Kind: AdvanceFrame, Frame: f, Inputs: s.inputsFor(f)})
		}
	}
	s.rollbackPending = false
	s.rollbackTo = -1

	reqs = append(reqs, Request{Kind: SaveState, Frame: s.frame})
	reqs = append(reqs, Request{Kind: AdvanceFrame, Frame: s.frame, Inputs: s.inputsFor(s.frame)})
	s.frame++
	s.pruneEntries()
	return reqs, true
}

// updateSyncFrame recomputes the authoritative frontier: the minimum
// confirmed frame over live remote-fed peers plus the local queue. Auto-input
// slots act as always confirmed at the current frame.
func (s *Session) updateSyncFrame() {
	min := s.frame
	for i := range s.queues {
		if s.auto[i] {
			continue
		}
		if c := s.queues[i].confirmed; c < min {
			min = c
		}
	}
	if min > s.syncFrame {
		s.syncFrame = min
	}
}

// inputsFor assembles the input vector for one frame, predicting where
// unconfirmed: the last confirmed input repeats, or zero if none. Predictions
// are recorded so a contradicting arrival can be detected.
func (s *Session) inputsFor(frame int32) []sim.Input {
	inputs := make([]sim.Input, s.cfg.NumPeers)
	for i := range s.queues {
		q := &s.queues[i]
		if in, ok := q.entries[frame]; ok {
			inputs[i] = in
			continue
		}
		if s.auto[i] || i == s.cfg.LocalIdx {
			continue // zero
		}
		pred := s.lastKnownInput(q, frame)
		inputs[i] = pred
		if frame > q.confirmed {
			q.predicted[frame] = pred
		}
	}
	return inputs
}

// lastKnownInput scans down from frame for the nearest recorded input.
func (s *Session) lastKnownInput(q *inputQueue, frame int32) sim.Input {
	horizon := frame - s.cfg.Window - s.cfg.InputDelay - 2
	for f := frame - 1; f >= horizon; f-- {
		if in, ok := q.entries[f]; ok {
			return in
		}
	}
	return 0
}

// checkDisconnects runs the two disconnect tracks: frame-based (confirmed
// frontier more than Window behind) and wall-clock (silence beyond the
// timeout). Auto-input slots and already-disconnected peers are skipped.
func (s *Session) checkDisconnects(now time.Time) {
	for i := range s.queues {
		if i == s.cfg.LocalIdx || s.auto[i] || s.disconnected[i] {
			continue
		}
		// The frame track only applies once a peer has spoken: a joiner
		// racing with signalling gets the wall-clock grace instead.
		if s.synchronized[i] && s.frame-s.queues[i].confirmed > s.cfg.Window {
			s.DisconnectPeer(i)
			continue
		}
		if s.cfg.DisconnectTimeout > 0 && now.Sub(s.lastRecv[i]) > s.cfg.DisconnectTimeout {
			s.DisconnectPeer(i)
		}
	}
}

// pruneEntries drops queue entries far behind the authoritative frontier.
func (s *Session) pruneEntries() {
	horizon := s.syncFrame - 2*(s.cfg.Window+s.cfg.InputDelay)
	for i := range s.queues {
		for f := range s.queues[i].entries {
			if f < horizon {
				delete(s.queues[i].entries, f)
			}
		}
		for f := range s.queues[i].predicted {
			if f < horizon {
				delete(s.queues[i].predicted, f)
			}
		}
	}
}
