package sim

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	"github.com/kokokino/talon-and-lance-sub001/pkg/rng"
)

// SnapshotBytes is the length of a serialized state in bytes.
const SnapshotBytes = StateWords * 4

// State is the complete game state: a flat array of signed 32-bit words.
// It is owned exclusively by its driver and only mutated by Step, by
// Deserialize/SetWords, and by the explicit slot operations below.
type State struct {
	w [StateWords]int32
}

// New constructs a state from a seed: zeroed sections, RNG primed, first
// wave intro scheduled.
func New(seed uint32) *State {
	s := &State{}
	s.w[offRNGState] = int32(seed)
	s.w[offWave] = 1
	s.w[offWaveState] = WaveIntro
	s.w[offWaveTimer] = waveIntroFrames
	s.w[offSpawnTimer] = spawnIntervalFrames
	s.w[offGameMode] = ModeCoop
	return s
}

// Frame returns the current frame counter.
func (s *State) Frame() int32 { return s.w[offFrame] }

// SetFrame overwrites the frame counter. Used when adopting an authoritative
// snapshot whose frame anchor differs from the local one.
func (s *State) SetFrame(f int32) { s.w[offFrame] = f }

// Wave returns the current wave number.
func (s *State) Wave() int32 { return s.w[offWave] }

// GameOver reports whether the game-over flag is set.
func (s *State) GameOver() bool { return s.w[offGameOver] != 0 }

// rngFromState loads the RNG from the state word; storeRNG writes it back.
func (s *State) rngFromState() *rng.RNG {
	return rng.NewRNG(uint32(s.w[offRNGState]))
}

func (s *State) storeRNG(g *rng.RNG) {
	s.w[offRNGState] = int32(g.State())
}

// PlayerActive reports whether the player slot is active.
func (s *State) PlayerActive(slot int) bool {
	if slot < 0 || slot >= MaxPlayers {
		return false
	}
	return s.w[playerIdx(slot, fldActive)] != 0
}

// ActivatePlayer activates a player slot at its spawn pad with fresh lives.
// Activating an already-active slot is a no-op.
func (s *State) ActivatePlayer(slot int) {
	if slot < 0 || slot >= MaxPlayers || s.PlayerActive(slot) {
		return
	}
	base := playerIdx(slot, 0)
	for i := 0; i < playerWords; i++ {
		s.w[base+i] = 0
	}
	pad := playerPads[slot]
	s.w[playerIdx(slot, fldActive)] = 1
	s.w[playerIdx(slot, fldX)] = pad.x
	s.w[playerIdx(slot, fldY)] = pad.y
	s.w[playerIdx(slot, fldPrevX)] = pad.x
	s.w[playerIdx(slot, fldPrevY)] = pad.y
	s.w[playerIdx(slot, fldMove)] = MoveMaterializing
	s.w[playerIdx(slot, fldTimer)] = materializeFrames
	s.w[playerIdx(slot, fldFacing)] = 1
	s.w[playerIdx(slot, fldLives)] = startLives
	s.w[playerIdx(slot, fldPalette)] = int32(slot)
}

// PlayerScore returns the score of a player slot.
func (s *State) PlayerScore(slot int) int32 {
	if slot < 0 || slot >= MaxPlayers {
		return 0
	}
	return s.w[playerIdx(slot, fldScore)]
}

// PlayerYIndex returns the word index of a player's vertical position.
// Used by diagnostics and fault-injection tests.
func PlayerYIndex(slot int) int { return playerIdx(slot, fldY) }

// Word exposes a raw state word for diagnostics and corruption tests.
func (s *State) Word(i int) int32 { return s.w[i] }

// SetWord overwrites a raw state word. Diagnostics and tests only.
func (s *State) SetWord(i int, v int32) { s.w[i] = v }

// Words returns a copy of the full word array.
func (s *State) Words() []int32 {
	out := make([]int32, StateWords)
	copy(out, s.w[:])
	return out
}

// SetWords overwrites the full word array from a snapshot copy.
func (s *State) SetWords(words []int32) error {
	if len(words) != StateWords {
		return fmt.Errorf("snapshot has %d words, want %d", len(words), StateWords)
	}
	copy(s.w[:], words)
	return nil
}

// Serialize renders the state as little-endian bytes. The length is implicit
// in the layout constants.
func (s *State) Serialize() []byte {
	return SerializeWords(s.w[:])
}

// Deserialize replaces the state with the given little-endian snapshot.
func (s *State) Deserialize(data []byte) error {
	words, err := DeserializeWords(data)
	if err != nil {
		return err
	}
	copy(s.w[:], words)
	return nil
}

// Checksum returns the FNV-1a digest of the serialized state.
func (s *State) Checksum() uint32 {
	return ChecksumWords(s.w[:])
}

// SerializeWords renders a word slice as little-endian bytes.
func SerializeWords(words []int32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(w))
	}
	return out
}

// DeserializeWords parses little-endian bytes back into state words.
func DeserializeWords(data []byte) ([]int32, error) {
	if len(data) != SnapshotBytes {
		return nil, fmt.Errorf("snapshot is %d bytes, want %d", len(data), SnapshotBytes)
	}
	words := make([]int32, StateWords)
	for i := range words {
		words[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return words, nil
}

// ChecksumWords returns the 32-bit FNV-1a digest over the little-endian
// byte rendering of the words.
func ChecksumWords(words []int32) uint32 {
	h := fnv.New32a()
	var b [4]byte
	for _, w := range words {
		binary.LittleEndian.PutUint32(b[:], uint32(w))
		h.Write(b[:])
	}
	return h.Sum32()
}

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	c := &State{}
	c.w = s.w
	return c
}
