// Package statebuf provides a fixed-capacity ring of saved simulation
// snapshots keyed by frame number, each paired with its checksum. Any frame
// within the last capacity saved frames is restorable; older entries are
// evicted as the ring wraps.
package statebuf

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
)

// ErrFrameEvicted is returned when a requested frame is no longer (or not
// yet) present in the ring.
var ErrFrameEvicted = fmt.Errorf("frame not in state buffer")

type cell struct {
	frame int32
	words []int32
	sum   uint32
	valid bool
}

// Buffer is the snapshot ring. Not safe for concurrent use; it is owned by
// the driver thread.
type Buffer struct {
	cells []cell
}

// New creates a buffer with the given capacity. Capacity must exceed the
// session's maximum prediction window.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer{cells: make([]cell, capacity)}
	for i := range b.cells {
		b.cells[i].words = make([]int32, sim.StateWords)
	}
	return b
}

// Capacity returns the ring capacity.
func (b *Buffer) Capacity() int { return len(b.cells) }

// Save copies the words into the cell for frame and records the checksum in
// the same operation, so the stored frame and its published digest can never
// disagree. The previous occupant of the cell is evicted.
func (b *Buffer) Save(frame int32, words []int32) uint32 {
	c := &b.cells[b.index(frame)]
	if c.valid && c.frame != frame {
		logrus.WithFields(logrus.Fields{
			"system_name": "state_buffer",
			"evicted":     c.frame,
			"frame":       frame,
		}).Debug("snapshot cell evicted")
	}
	copy(c.words, words)
	c.frame = frame
	c.sum = sim.ChecksumWords(c.words)
	c.valid = true
	return c.sum
}

// Load returns the snapshot saved at frame. The returned slice is the ring's
// storage; callers copy it into live state and must not retain it.
func (b *Buffer) Load(frame int32) ([]int32, error) {
	c := &b.cells[b.index(frame)]
	if !c.valid || c.frame != frame {
		return nil, fmt.Errorf("load frame %d: %w", frame, ErrFrameEvicted)
	}
	return c.words, nil
}

// Checksum returns the digest recorded when frame was saved.
func (b *Buffer) Checksum(frame int32) (uint32, bool) {
	c := &b.cells[b.index(frame)]
	if !c.valid || c.frame != frame {
		return 0, false
	}
	return c.sum, true
}

// Reset invalidates every cell.
func (b *Buffer) Reset() {
	for i := range b.cells {
		b.cells[i].valid = false
	}
}

func (b *Buffer) index(frame int32) int {
	n := int32(len(b.cells))
	i := frame % n
	if i < 0 {
		i += n
	}
	return int(i)
}
