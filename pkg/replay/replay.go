// Package replay records the per-frame input matrix of a game for offline
// determinism checking: a seed plus every input word fully reproduces a run.
// Frames are the only clock, so no timestamps are stored.
package replay

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kokokino/talon-and-lance-sub001/pkg/sim"
)

const (
	// MagicBytes identifies a talon replay stream.
	MagicBytes = "TLRP"
	// CurrentVersion is the replay format version.
	CurrentVersion = uint16(1)
)

type header struct {
	Magic       [4]byte
	Version     uint16
	PlayerCount uint8
	_           uint8 // pad
	Seed        uint32
	FrameCount  uint32
}

// Recorder accumulates the input matrix frame by frame.
type Recorder struct {
	seed    uint32
	players int
	frames  [][]sim.Input
}

// NewRecorder creates a recorder for a game seeded with seed.
func NewRecorder(seed uint32, players int) *Recorder {
	if players < 1 || players > sim.MaxPlayers {
		players = sim.MaxPlayers
	}
	return &Recorder{seed: seed, players: players}
}

// RecordFrame appends one frame of inputs. Short rows are zero-padded.
func (r *Recorder) RecordFrame(inputs []sim.Input) {
	row := make([]sim.Input, r.players)
	copy(row, inputs)
	r.frames = append(r.frames, row)
}

// Frames returns the number of recorded frames.
func (r *Recorder) Frames() int { return len(r.frames) }

// WriteTo renders the replay in the binary format.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	buf := &bytes.Buffer{}
	h := header{
		Version:     CurrentVersion,
		PlayerCount: uint8(r.players),
		Seed:        r.seed,
		FrameCount:  uint32(len(r.frames)),
	}
	copy(h.Magic[:], MagicBytes)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return 0, fmt.Errorf("write replay header: %w", err)
	}
	for _, row := range r.frames {
		for _, in := range row {
			if err := binary.Write(buf, binary.LittleEndian, uint32(in)); err != nil {
				return 0, fmt.Errorf("write replay frame: %w", err)
			}
		}
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Save writes the replay to a file.
func (r *Recorder) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create replay file: %w", err)
	}
	defer f.Close()

	if _, err := r.WriteTo(f); err != nil {
		return fmt.Errorf("save replay: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"system_name": "replay",
		"path":        path,
		"frames":      len(r.frames),
	}).Info("replay saved")
	return nil
}

// Replay is a loaded input stream.
type Replay struct {
	Seed    uint32
	Players int
	Frames  [][]sim.Input
}

// Read parses a replay stream.
func Read(rd io.Reader) (*Replay, error) {
	var h header
	if err := binary.Read(rd, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read replay header: %w", err)
	}
	if string(h.Magic[:]) != MagicBytes {
		return nil, fmt.Errorf("bad replay magic %q", h.Magic)
	}
	if h.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported replay version %d", h.Version)
	}
	if h.PlayerCount < 1 || int(h.PlayerCount) > sim.MaxPlayers {
		return nil, fmt.Errorf("bad player count %d", h.PlayerCount)
	}

	rep := &Replay{Seed: h.Seed, Players: int(h.PlayerCount)}
	rep.Frames = make([][]sim.Input, h.FrameCount)
	for i := range rep.Frames {
		row := make([]sim.Input, h.PlayerCount)
		for j := range row {
			var w uint32
			if err := binary.Read(rd, binary.LittleEndian, &w); err != nil {
				return nil, fmt.Errorf("read replay frame %d: %w", i, err)
			}
			row[j] = sim.Input(w)
		}
		rep.Frames[i] = row
	}
	return rep, nil
}

// Load reads a replay from a file.
func Load(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Run replays the input stream against a fresh state and returns it.
func (r *Replay) Run() *sim.State {
	st := sim.New(r.Seed)
	for slot := 0; slot < r.Players; slot++ {
		st.ActivatePlayer(slot)
	}
	for _, row := range r.Frames {
		sim.Step(st, row)
	}
	return st
}

// Checksum replays the stream and returns the final state digest — the
// one-number determinism probe.
func (r *Replay) Checksum() uint32 {
	return r.Run().Checksum()
}
