package sim

// Input is one player's input word for one frame: a small bitfield. Unknown
// bits are ignored by the step, so the set can grow without breaking peers.
type Input uint32

// Input bits. Left/right steer, flap is the action bit, and the disconnect
// bit tells the step to deactivate the slot.
const (
	InputLeft       Input = 1 << 0
	InputRight      Input = 1 << 1
	InputFlap       Input = 1 << 2
	InputDisconnect Input = 1 << 3
)

// Left reports the left bit.
func (in Input) Left() bool { return in&InputLeft != 0 }

// Right reports the right bit.
func (in Input) Right() bool { return in&InputRight != 0 }

// Flap reports the action bit.
func (in Input) Flap() bool { return in&InputFlap != 0 }

// Disconnect reports the disconnect bit.
func (in Input) Disconnect() bool { return in&InputDisconnect != 0 }
