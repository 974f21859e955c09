package transport

import "testing"

func drainUntil(m *Mesh, n *Node, ticks int) []Message {
	var out []Message
	for i := 0; i < ticks; i++ {
		m.Tick()
		out = append(out, n.Receive()...)
	}
	return out
}

// TestLosslessDelivery verifies every broadcast arrives within the delay
// bound when the drop rate is zero.
func TestLosslessDelivery(t *testing.T) {
	m := NewMesh(1, MeshOptions{MinDelay: 1, MaxDelay: 2})
	a := m.AddNode("a")
	b := m.AddNode("b")
	drainUntil(m, a, 3) // flush the join events
	b.Receive()

	for i := 0; i < 50; i++ {
		a.Broadcast(Message{Kind: KindChecksum, Frame: int32(i)})
	}
	got := drainUntil(m, b, 4)
	if len(got) != 50 {
		t.Fatalf("delivered %d of 50 broadcasts with zero drop rate", len(got))
	}
	seen := make(map[int32]bool)
	for _, msg := range got {
		if msg.From != "a" {
			t.Errorf("message stamped From=%q, want a", msg.From)
		}
		seen[msg.Frame] = true
	}
	if len(seen) != 50 {
		t.Errorf("distinct frames delivered = %d, want 50", len(seen))
	}
}

// TestPeerEventsOnJoinAndLeave verifies nodes observe up and down events.
func TestPeerEventsOnJoinAndLeave(t *testing.T) {
	m := NewMesh(1, MeshOptions{DropRate: 0.9, MinDelay: 1, MaxDelay: 1})
	a := m.AddNode("a")
	m.AddNode("b")

	got := drainUntil(m, a, 3)
	foundUp := false
	for _, msg := range got {
		if msg.Kind == KindPeerEvent && msg.From == "b" && msg.Up {
			foundUp = true
		}
	}
	if !foundUp {
		t.Fatal("no peer-up event for b despite a hostile drop rate (events are never dropped)")
	}

	m.RemoveNode("b")
	got = drainUntil(m, a, 3)
	foundDown := false
	for _, msg := range got {
		if msg.Kind == KindPeerEvent && msg.From == "b" && !msg.Up {
			foundDown = true
		}
	}
	if !foundDown {
		t.Fatal("no peer-down event for b")
	}
}

// TestDropRateDropsSomething verifies a lossy mesh actually loses packets,
// deterministically for a given seed.
func TestDropRateDropsSomething(t *testing.T) {
	m := NewMesh(7, MeshOptions{DropRate: 0.5, MinDelay: 1, MaxDelay: 1})
	a := m.AddNode("a")
	b := m.AddNode("b")
	drainUntil(m, a, 3)
	b.Receive()

	for i := 0; i < 200; i++ {
		a.Broadcast(Message{Kind: KindChecksum, Frame: int32(i)})
	}
	got := drainUntil(m, b, 4)
	if len(got) == 200 {
		t.Fatal("a 50% drop rate delivered every packet")
	}
	if len(got) == 0 {
		t.Fatal("a 50% drop rate delivered nothing")
	}
}

// TestDeterministicSchedule verifies two meshes with the same seed drop and
// delay identically.
func TestDeterministicSchedule(t *testing.T) {
	run := func() []int32 {
		m := NewMesh(99, MeshOptions{DropRate: 0.2, MinDelay: 1, MaxDelay: 3})
		a := m.AddNode("a")
		b := m.AddNode("b")
		drainUntil(m, a, 4)
		b.Receive()
		var got []int32
		for i := 0; i < 100; i++ {
			a.Broadcast(Message{Kind: KindChecksum, Frame: int32(i)})
			m.Tick()
			for _, msg := range b.Receive() {
				got = append(got, msg.Frame)
			}
		}
		return got
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("runs delivered %d vs %d messages", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("delivery order diverged at %d: %d vs %d", i, first[i], second[i])
		}
	}
}
