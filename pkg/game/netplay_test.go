package game

import (
	"bytes"
	"testing"
	"time"

	"github.com/kokokino/talon-and-lance-sub001/pkg/peer"
	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
	"github.com/kokokino/talon-and-lance-sub001/pkg/transport"
)

// The end-to-end scenarios drive full peers — simulation, snapshot buffer,
// session, control plane — over the deterministic in-memory mesh, with the
// reference parameters: seed 42, input delay 2, window 8, four seats with
// seats 2 and 3 unoccupied.

const tickDur = 16 * time.Millisecond

type netPeer struct {
	id     string
	driver *Driver
	input  func(tick int) sim.Input
}

type netHarness struct {
	t          *testing.T
	mesh       *transport.Mesh
	now        time.Time
	tick       int
	peers      []*netPeer
	draining   bool
	redundancy int
}

func refPeerConfig() peer.Config {
	return peer.Config{
		NumPeers:          sim.MaxPlayers,
		InputDelay:        2,
		Window:            8,
		DisconnectTimeout: 3 * time.Second,
		ChecksumInterval:  60,
		RedundantInputs:   5,
	}
}

func newHarness(t *testing.T, meshSeed uint32, opts transport.MeshOptions) *netHarness {
	return &netHarness{
		t:    t,
		mesh: transport.NewMesh(meshSeed, opts),
		now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// addPeer joins a driver to the mesh with the given roster of expected
// remote peers.
func (h *netHarness) addPeer(id string, slot int, joining bool, roster map[string]int, input func(int) sim.Input) *netPeer {
	cfg := refPeerConfig()
	if h.redundancy > 0 {
		cfg.RedundantInputs = h.redundancy
	}
	if input == nil {
		input = func(int) sim.Input { return 0 }
	}
	node := h.mesh.AddNode(id)
	d := New(Config{Seed: 42, LocalSlot: slot, Joining: joining, Peer: cfg}, node, node)
	for rid, rslot := range roster {
		d.Plane().RegisterPeer(rid, rslot)
	}
	p := &netPeer{id: id, driver: d, input: input}
	h.peers = append(h.peers, p)
	return p
}

func (h *netHarness) removePeer(p *netPeer) {
	h.mesh.RemoveNode(p.id)
	rest := h.peers[:0]
	for _, q := range h.peers {
		if q != p {
			rest = append(rest, q)
		}
	}
	h.peers = rest
}

// run advances the harness by n wall-clock ticks.
func (h *netHarness) run(n int) {
	for i := 0; i < n; i++ {
		h.tick++
		h.now = h.now.Add(tickDur)
		h.mesh.Tick()
		for _, p := range h.peers {
			in := sim.Input(0)
			if !h.draining {
				in = p.input(h.tick)
			}
			p.driver.Tick(h.now, in)
		}
	}
}

// drain runs n ticks with no new local inputs so in-flight packets and
// rollbacks converge.
func (h *netHarness) drain(n int) {
	h.draining = true
	h.run(n)
	h.draining = false
}

// compareBuffers asserts both peers' snapshots at the newest common
// authoritative frame are byte-identical.
func (h *netHarness) compareBuffers(a, b *netPeer) {
	h.t.Helper()
	sa := a.driver.Plane().Session()
	sb := b.driver.Plane().Session()
	if sa == nil || sb == nil {
		h.t.Fatal("comparison requires both peers in session")
	}
	frame := sa.SyncFrame()
	if f := sb.SyncFrame(); f < frame {
		frame = f
	}
	frame--

	wa, err := a.driver.Buffer().Load(frame)
	if err != nil {
		h.t.Fatalf("%s has no snapshot at frame %d: %v", a.id, frame, err)
	}
	wb, err := b.driver.Buffer().Load(frame)
	if err != nil {
		h.t.Fatalf("%s has no snapshot at frame %d: %v", b.id, frame, err)
	}
	ba := sim.SerializeWords(wa)
	bb := sim.SerializeWords(wb)
	if !bytes.Equal(ba, bb) {
		for i := range wa {
			if wa[i] != wb[i] {
				h.t.Fatalf("state buffers differ at frame %d, word %d: %d vs %d", frame, i, wa[i], wb[i])
			}
		}
	}
}

// scriptA and scriptB are two distinct repeatable input patterns with
// frequent transitions.
func scriptA(tick int) sim.Input {
	switch tick % 9 {
	case 0, 1, 2:
		return sim.InputLeft
	case 3:
		return sim.InputLeft | sim.InputFlap
	case 4, 5:
		return sim.InputRight
	case 6:
		return sim.InputFlap
	}
	return 0
}

func scriptB(tick int) sim.Input {
	switch tick % 7 {
	case 0, 1:
		return sim.InputRight
	case 2:
		return sim.InputRight | sim.InputFlap
	case 3, 4:
		return sim.InputLeft
	case 5:
		return sim.InputFlap
	}
	return 0
}

// quietWindow silences a script between two ticks.
func quietWindow(inner func(int) sim.Input, from, to int) func(int) sim.Input {
	return func(tick int) sim.Input {
		if tick >= from && tick < to {
			return 0
		}
		return inner(tick)
	}
}

func startPair(t *testing.T, opts transport.MeshOptions, redundancy int) (*netHarness, *netPeer, *netPeer) {
	h := newHarness(t, 42, opts)
	h.redundancy = redundancy
	p0 := h.addPeer("p0", 0, false, map[string]int{"p1": 1}, scriptA)
	p1 := h.addPeer("p1", 1, true, map[string]int{"p0": 0}, scriptB)
	return h, p0, p1
}

// TestLockstepTenSeconds runs two jittery peers for 600 frames and checks
// byte-identical state buffers after a short drain.
func TestLockstepTenSeconds(t *testing.T) {
	h, p0, p1 := startPair(t, transport.MeshOptions{MinDelay: 1, MaxDelay: 2}, 0)
	h.run(600)
	h.drain(10)
	h.compareBuffers(p0, p1)
	if len(p0.driver.Desyncs()) != 0 || len(p1.driver.Desyncs()) != 0 {
		t.Fatalf("lossless lockstep reported desyncs: %v / %v", p0.driver.Desyncs(), p1.driver.Desyncs())
	}
}

// TestLockstepFiveMinutes is the long-haul variant of the lockstep run.
func TestLockstepFiveMinutes(t *testing.T) {
	if testing.Short() {
		t.Skip("long-haul lockstep skipped in short mode")
	}
	h, p0, p1 := startPair(t, transport.MeshOptions{MinDelay: 1, MaxDelay: 2}, 0)
	h.run(18000)
	h.drain(10)
	h.compareBuffers(p0, p1)
}

// TestLossWithRedundancyConverges verifies 2% packet loss is absorbed by the
// redundant input window.
func TestLossWithRedundancyConverges(t *testing.T) {
	h, p0, p1 := startPair(t, transport.MeshOptions{DropRate: 0.02, MinDelay: 1, MaxDelay: 2}, 5)
	h.run(3600)
	h.drain(10)
	h.compareBuffers(p0, p1)
}

// TestLossWithoutRedundancyDesyncs verifies the same loss rate without
// redundancy produces a desync diagnostic.
func TestLossWithoutRedundancyDesyncs(t *testing.T) {
	h, p0, p1 := startPair(t, transport.MeshOptions{DropRate: 0.02, MinDelay: 1, MaxDelay: 2}, 1)
	h.run(3600)
	h.drain(10)
	if len(p0.driver.Desyncs()) == 0 && len(p1.driver.Desyncs()) == 0 {
		t.Fatal("2% loss without redundancy never reported a desync")
	}
}

// TestStaggeredJoin verifies a peer joining a 300-frame-old solo game via
// STATE_SYNC and converging from there.
func TestStaggeredJoin(t *testing.T) {
	h := newHarness(t, 42, transport.MeshOptions{MinDelay: 1, MaxDelay: 2})
	p0 := h.addPeer("p0", 0, false, map[string]int{"p1": 1}, scriptA)
	h.run(300)
	if got := p0.driver.Frame(); got < 300 {
		t.Fatalf("solo frame = %d after 300 ticks, want >= 300", got)
	}

	p1 := h.addPeer("p1", 1, true, map[string]int{"p0": 0}, scriptB)
	h.run(3600)
	h.drain(10)

	if p1.driver.Plane().Joining() {
		t.Fatal("joiner never accepted a state sync")
	}
	h.compareBuffers(p0, p1)
}

// TestDisconnectAndRejoin verifies the survivor continues solo and the
// returning peer is reseeded as a fresh join under a new transport id.
func TestDisconnectAndRejoin(t *testing.T) {
	h, p0, p1 := startPair(t, transport.MeshOptions{MinDelay: 1, MaxDelay: 2}, 0)
	h.run(300)

	h.removePeer(p1)
	h.run(120)
	if p0.driver.Plane().Session() != nil {
		t.Fatal("survivor did not fall back to solo mode")
	}
	if p0.driver.State().PlayerActive(1) {
		t.Fatal("departed slot still active after the disconnect bit")
	}

	p0.driver.Plane().RegisterPeer("p1b", 1)
	p1b := h.addPeer("p1b", 1, true, map[string]int{"p0": 0}, scriptB)
	h.run(600)
	h.drain(10)

	if p1b.driver.Plane().Joining() {
		t.Fatal("rejoining peer never accepted a state sync")
	}
	h.compareBuffers(p0, p1b)
}

// TestCorruptionRecovery flips one word of one peer's live state during a
// quiet input window, expects a desync diagnostic within 180 frames, and
// checks convergence after the authority's STATE_SYNC plus reset.
func TestCorruptionRecovery(t *testing.T) {
	h := newHarness(t, 42, transport.MeshOptions{MinDelay: 1, MaxDelay: 2})
	p0 := h.addPeer("p0", 0, false, map[string]int{"p1": 1}, quietWindow(scriptA, 100, 300))
	p1 := h.addPeer("p1", 1, true, map[string]int{"p0": 0}, quietWindow(scriptB, 100, 300))
	h.run(130)

	idx := sim.PlayerYIndex(0)
	st := p1.driver.State()
	st.SetWord(idx, st.Word(idx)+937)
	corruptFrame := p1.driver.Frame()

	h.run(180)
	detected := int32(-1)
	for _, f := range append(append([]int32{}, p0.driver.Desyncs()...), p1.driver.Desyncs()...) {
		if detected < 0 || f < detected {
			detected = f
		}
	}
	if detected < 0 {
		t.Fatal("corruption never surfaced as a desync within 180 frames")
	}
	if detected > corruptFrame+180 {
		t.Fatalf("desync detected at frame %d, more than 180 after corruption at %d", detected, corruptFrame)
	}

	h.run(600)
	h.drain(10)
	h.compareBuffers(p0, p1)
}

// TestAuthorityAfterJoin verifies property 7 on live peers: the elected
// authority is the minimum of the connected slots and the local slot.
func TestAuthorityAfterJoin(t *testing.T) {
	h, p0, p1 := startPair(t, transport.MeshOptions{MinDelay: 1, MaxDelay: 2}, 0)
	h.run(120)
	if got := p0.driver.Plane().Authority(); got != 0 {
		t.Fatalf("p0 sees authority %d, want 0", got)
	}
	if got := p1.driver.Plane().Authority(); got != 0 {
		t.Fatalf("p1 sees authority %d, want 0", got)
	}
}
