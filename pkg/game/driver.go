// Package game provides the 60 Hz driver that owns the simulation, the
// snapshot buffer, and the control plane for one peer. Each wall-clock tick
// it drains the transport inbox, stamps local input, services the session's
// request script, and drains events — in that order, which is load-bearing:
// a peer event processed mid-step would desync.
package game

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/peer"
	"github.com/kokokino/talon-and-lance-sub001/pkg/rollback"
	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
	"github.com/kokokino/talon-and-lance-sub001/pkg/statebuf"
	"github.com/kokokino/talon-and-lance-sub001/pkg/transport"
)

// Receiver is the inbound half of the transport: a drained batch of decoded
// messages per tick. transport.Mesh nodes and the websocket client both
// satisfy it.
type Receiver interface {
	Receive() []transport.Message
}

// Config wires a driver.
type Config struct {
	Seed      uint32
	LocalSlot int
	Joining   bool

	// SnapshotCapacity must exceed the prediction window; zero picks a safe
	// multiple of it.
	SnapshotCapacity int

	Peer peer.Config
}

// Driver runs one peer's tick loop body. Owned by a single goroutine.
type Driver struct {
	cfg   Config
	state *sim.State
	buf   *statebuf.Buffer
	plane *peer.Plane
	rx    Receiver

	lastSession   *rollback.Session
	lastPublished int32
	desyncFrames  []int32
}

// New builds a driver, its state seeded and with the local slot already
// active for solo play, whether hosting or joining.
func New(cfg Config, rx Receiver, out peer.Transport) *Driver {
	if cfg.SnapshotCapacity == 0 {
		cfg.SnapshotCapacity = int(cfg.Peer.Window)*4 + 16
	}
	cfg.Peer.LocalSlot = cfg.LocalSlot

	st := sim.New(cfg.Seed)
	st.ActivatePlayer(cfg.LocalSlot)
	buf := statebuf.New(cfg.SnapshotCapacity)
	return &Driver{
		cfg:   cfg,
		state: st,
		buf:   buf,
		plane: peer.New(cfg.Peer, st, buf, out, cfg.Joining),
		rx:    rx,
	}
}

// State exposes the live simulation state. The driver retains ownership.
func (d *Driver) State() *sim.State { return d.state }

// Buffer exposes the snapshot ring.
func (d *Driver) Buffer() *statebuf.Buffer { return d.buf }

// Plane exposes the control plane for registration and inspection.
func (d *Driver) Plane() *peer.Plane { return d.plane }

// Frame returns the session frame, or the solo state frame.
func (d *Driver) Frame() int32 {
	if s := d.plane.Session(); s != nil {
		return s.Frame()
	}
	return d.state.Frame()
}

// Tick runs one wall-clock tick: drain inbox, stamp input, service the
// session (or step solo), drain session events, then peer events.
func (d *Driver) Tick(now time.Time, localIn sim.Input) {
	for _, msg := range d.rx.Receive() {
		d.plane.HandleMessage(msg, now)
	}

	sess := d.plane.Session()
	if sess == nil {
		d.tickSolo(localIn)
		d.plane.DrainPeerEvents(now)
		return
	}
	if sess != d.lastSession {
		d.lastSession = sess
		d.lastPublished = sess.Frame()
	}

	stamped, effective := sess.AddLocalInput(localIn)
	d.plane.BroadcastLocalInput(stamped, effective)

	reqs, ok := sess.Tick(now)
	if ok {
		for _, r := range reqs {
			d.execute(sess, r)
		}
	}
	d.publishChecksums(sess)

	for _, ev := range sess.Events() {
		if ev.Kind == rollback.EventDesyncDetected {
			d.desyncFrames = append(d.desyncFrames, ev.Frame)
		}
		d.plane.HandleSessionEvent(ev, now)
	}
	d.plane.DrainPeerEvents(now)
}

// Desyncs returns the frames at which checksum mismatches were detected — the
// driver's diagnostic report.
func (d *Driver) Desyncs() []int32 { return d.desyncFrames }

// tickSolo advances the simulation directly: local input only, plus any
// disconnect bits owed from a session teardown.
func (d *Driver) tickSolo(localIn sim.Input) {
	inputs := make([]sim.Input, sim.MaxPlayers)
	if d.cfg.LocalSlot >= 0 && d.cfg.LocalSlot < sim.MaxPlayers {
		inputs[d.cfg.LocalSlot] = localIn
	}
	for _, slot := range d.plane.TakeSoloDisconnects() {
		if slot >= 0 && slot < sim.MaxPlayers {
			inputs[slot] |= sim.InputDisconnect
		}
	}
	sim.Step(d.state, inputs)
}

// execute services one session request against the buffer and the step.
func (d *Driver) execute(sess *rollback.Session, r rollback.Request) {
	switch r.Kind {
	case rollback.SaveState:
		sum := d.buf.Save(r.Frame, d.state.Words())
		sess.AddLocalChecksum(r.Frame, sum)
	case rollback.LoadState:
		words, err := d.buf.Load(r.Frame)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "game_loop",
				"frame":       r.Frame,
			}).WithError(err).Warn("rollback load failed")
			return
		}
		if err := d.state.SetWords(words); err != nil {
			logrus.WithFields(logrus.Fields{
				"system_name": "game_loop",
				"frame":       r.Frame,
			}).WithError(err).Warn("rollback restore failed")
		}
	case rollback.AdvanceFrame:
		sim.Step(d.state, r.Inputs)
	}
}

// publishChecksums broadcasts digests for interval frames that have crossed
// the rollback horizon, so a later rollback can never rewrite a published
// value.
func (d *Driver) publishChecksums(sess *rollback.Session) {
	interval := d.cfg.Peer.ChecksumInterval
	if interval <= 0 {
		return
	}
	horizon := sess.ChecksumHorizon()
	if d.lastPublished > horizon {
		return
	}
	for f := d.lastPublished + 1; f <= horizon; f++ {
		if f%interval != 0 {
			continue
		}
		if sum, ok := d.buf.Checksum(f); ok {
			d.plane.BroadcastChecksum(f, sum)
		}
	}
	d.lastPublished = horizon
}
