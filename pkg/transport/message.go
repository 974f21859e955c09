// Package transport defines the message kinds exchanged between peers and a
// byte-exact little-endian wire codec for them. Reliability is never assumed:
// any message may be dropped or reordered, and the input codec carries a
// redundant window of recent inputs to ride out loss.
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind identifies a wire message.
type Kind uint8

// Wire message kinds.
const (
	KindInput Kind = iota + 1
	KindChecksum
	KindStateSync
	KindPeerEvent
)

// FrameInput is one (frame, input word) pair inside an input batch.
type FrameInput struct {
	Frame int32
	Word  uint32
}

// Message is a decoded transport message. From is the transport-level peer
// id, stamped by the delivery path, never serialized. Slot is the sender's
// player slot.
type Message struct {
	Kind Kind
	From string
	Slot int32

	// KindInput: a bounded window of the sender's most recent inputs,
	// oldest first, delivered atomically.
	Inputs []FrameInput

	// KindChecksum and KindStateSync.
	Frame int32
	Sum   uint32

	// KindStateSync: raw little-endian state words.
	Snapshot []byte

	// KindPeerEvent.
	Up bool
}

const maxInputBatch = 32

// Encode renders the message in the documented little-endian wire format.
func Encode(m *Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, uint8(m.Kind)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, m.Slot); err != nil {
		return nil, err
	}

	switch m.Kind {
	case KindInput:
		if len(m.Inputs) == 0 || len(m.Inputs) > maxInputBatch {
			return nil, fmt.Errorf("input batch size %d out of range", len(m.Inputs))
		}
		if err := binary.Write(buf, binary.LittleEndian, uint8(len(m.Inputs))); err != nil {
			return nil, err
		}
		for _, fi := range m.Inputs {
			if err := binary.Write(buf, binary.LittleEndian, fi.Frame); err != nil {
				return nil, err
			}
			if err := binary.Write(buf, binary.LittleEndian, fi.Word); err != nil {
				return nil, err
			}
		}
	case KindChecksum:
		if err := binary.Write(buf, binary.LittleEndian, m.Frame); err != nil {
			return nil, err
		}
		if err := binary.Write(buf, binary.LittleEndian, m.Sum); err != nil {
			return nil, err
		}
	case KindStateSync:
		if err := binary.Write(buf, binary.LittleEndian, m.Frame); err != nil {
			return nil, err
		}
		// Snapshot length is implicit in the state layout constants.
		buf.Write(m.Snapshot)
	case KindPeerEvent:
		up := uint8(0)
		if m.Up {
			up = 1
		}
		if err := binary.Write(buf, binary.LittleEndian, up); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown message kind %d", m.Kind)
	}
	return buf.Bytes(), nil
}

// Decode parses a wire message. The From field is left for the caller.
func Decode(data []byte) (*Message, error) {
	buf := bytes.NewReader(data)
	var kind uint8
	if err := binary.Read(buf, binary.LittleEndian, &kind); err != nil {
		return nil, fmt.Errorf("read kind: %w", err)
	}
	m := &Message{Kind: Kind(kind)}
	if err := binary.Read(buf, binary.LittleEndian, &m.Slot); err != nil {
		return nil, fmt.Errorf("read slot: %w", err)
	}

	switch m.Kind {
	case KindInput:
		var n uint8
		if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read batch size: %w", err)
		}
		if n == 0 || n > maxInputBatch {
			return nil, fmt.Errorf("input batch size %d out of range", n)
		}
		m.Inputs = make([]FrameInput, n)
		for i := range m.Inputs {
			if err := binary.Read(buf, binary.LittleEndian, &m.Inputs[i].Frame); err != nil {
				return nil, fmt.Errorf("read input frame: %w", err)
			}
			if err := binary.Read(buf, binary.LittleEndian, &m.Inputs[i].Word); err != nil {
				return nil, fmt.Errorf("read input word: %w", err)
			}
		}
	case KindChecksum:
		if err := binary.Read(buf, binary.LittleEndian, &m.Frame); err != nil {
			return nil, fmt.Errorf("read checksum frame: %w", err)
		}
		if err := binary.Read(buf, binary.LittleEndian, &m.Sum); err != nil {
			return nil, fmt.Errorf("read checksum: %w", err)
		}
	case KindStateSync:
		if err := binary.Read(buf, binary.LittleEndian, &m.Frame); err != nil {
			return nil, fmt.Errorf("read snapshot frame: %w", err)
		}
		m.Snapshot = make([]byte, buf.Len())
		if _, err := buf.Read(m.Snapshot); err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	case KindPeerEvent:
		var up uint8
		if err := binary.Read(buf, binary.LittleEndian, &up); err != nil {
			return nil, fmt.Errorf("read peer event: %w", err)
		}
		m.Up = up != 0
	default:
		return nil, fmt.Errorf("unknown message kind %d", kind)
	}
	return m, nil
}
