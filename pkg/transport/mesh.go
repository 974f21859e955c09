package transport

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/rng"
)

// MeshOptions tune the in-memory mesh: packet drop probability and the
// per-hop delivery delay range in ticks. A spread between MinDelay and
// MaxDelay produces natural reordering.
type MeshOptions struct {
	DropRate float64
	MinDelay int
	MaxDelay int
}

type pending struct {
	deliverAt int64
	seq       int64
	to        string
	msg       Message
}

// Mesh is a deterministic in-memory peer mesh for tests and local play. Drop
// and delay decisions come from a seeded generator, so a run is reproducible
// from its seed. Peer events are never dropped; data messages may be.
type Mesh struct {
	opts  MeshOptions
	rand  *rng.RNG
	nodes map[string]*Node
	queue []pending
	tick  int64
	seq   int64
}

// Node is one mesh endpoint.
type Node struct {
	ID    string
	mesh  *Mesh
	inbox []Message
}

// NewMesh creates a mesh whose loss schedule derives from seed.
func NewMesh(seed uint32, opts MeshOptions) *Mesh {
	if opts.MinDelay < 1 {
		opts.MinDelay = 1
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	return &Mesh{
		opts:  opts,
		rand:  rng.NewRNG(seed),
		nodes: make(map[string]*Node),
	}
}

// AddNode joins a peer to the mesh. Existing peers see a peer-up event for
// it, and it sees one for each existing peer.
func (m *Mesh) AddNode(id string) *Node {
	n := &Node{ID: id, mesh: m}
	for _, other := range m.sortedNodes() {
		m.enqueue(other.ID, Message{Kind: KindPeerEvent, From: id, Up: true}, false)
		m.enqueue(id, Message{Kind: KindPeerEvent, From: other.ID, Up: true}, false)
	}
	m.nodes[id] = n
	return n
}

// RemoveNode drops a peer; the rest see a peer-down event. In-flight
// messages to the removed peer are discarded at delivery.
func (m *Mesh) RemoveNode(id string) {
	if _, ok := m.nodes[id]; !ok {
		return
	}
	delete(m.nodes, id)
	for _, other := range m.sortedNodes() {
		m.enqueue(other.ID, Message{Kind: KindPeerEvent, From: id, Up: false}, false)
	}
}

// Tick advances mesh time by one tick and delivers everything due.
func (m *Mesh) Tick() {
	m.tick++
	rest := m.queue[:0]
	due := make([]pending, 0)
	for _, p := range m.queue {
		if p.deliverAt <= m.tick {
			due = append(due, p)
		} else {
			rest = append(rest, p)
		}
	}
	m.queue = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].deliverAt != due[j].deliverAt {
			return due[i].deliverAt < due[j].deliverAt
		}
		return due[i].seq < due[j].seq
	})
	for _, p := range due {
		if n, ok := m.nodes[p.to]; ok {
			n.inbox = append(n.inbox, p.msg)
		}
	}
}

func (m *Mesh) enqueue(to string, msg Message, droppable bool) {
	if droppable && m.opts.DropRate > 0 && m.rand.Float64() < m.opts.DropRate {
		logrus.WithFields(logrus.Fields{
			"system_name": "mesh",
			"to":          to,
			"kind":        msg.Kind,
		}).Debug("packet dropped")
		return
	}
	delay := m.opts.MinDelay
	if spread := m.opts.MaxDelay - m.opts.MinDelay; spread > 0 {
		delay += m.rand.Intn(spread + 1)
	}
	m.seq++
	m.queue = append(m.queue, pending{
		deliverAt: m.tick + int64(delay),
		seq:       m.seq,
		to:        to,
		msg:       msg,
	})
}

func (m *Mesh) sortedNodes() []*Node {
	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = m.nodes[id]
	}
	return out
}

// Broadcast sends a data message to every other node. Each link rolls its
// own drop and delay, so one broadcast can arrive at different ticks.
func (n *Node) Broadcast(msg Message) {
	msg.From = n.ID
	for _, other := range n.mesh.sortedNodes() {
		if other.ID == n.ID {
			continue
		}
		n.mesh.enqueue(other.ID, msg, true)
	}
}

// Send delivers a data message to one peer.
func (n *Node) Send(to string, msg Message) {
	msg.From = n.ID
	n.mesh.enqueue(to, msg, true)
}

// Receive drains the node's inbox in delivery order.
func (n *Node) Receive() []Message {
	out := n.inbox
	n.inbox = nil
	return out
}
