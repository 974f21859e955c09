// Package rng provides a seed-based deterministic random number generator.
//
// The generator is mulberry32: a single uint32 state word with an integer-only
// advance function. The state word lives inside the serialized simulation
// state, so a deserialized game resumes the stream at the exact point the
// producer left off. math/rand is unsuitable here — its internal layout is not
// stable across Go releases and the stream would not survive a snapshot.
package rng

// RNG holds the single mulberry32 state word.
type RNG struct {
	state uint32
}

// NewRNG creates a new RNG with the given seed.
func NewRNG(seed uint32) *RNG {
	return &RNG{state: seed}
}

// Uint32 advances the generator and returns the next 32-bit value.
func (g *RNG) Uint32() uint32 {
	g.state += 0x6D2B79F5
	z := g.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return z ^ (z >> 14)
}

// Float64 returns a value in [0.0, 1.0). Division by 2^32 is an exact binary
// operation, so the result is bit-identical on every platform.
func (g *RNG) Float64() float64 {
	return float64(g.Uint32()) / 4294967296.0
}

// Intn returns a value in [0, n). n must be positive.
func (g *RNG) Intn(n int) int {
	return int(g.Float64() * float64(n))
}

// Seed resets the generator to a new seed.
func (g *RNG) Seed(seed uint32) {
	g.state = seed
}

// State returns the current state word for serialization.
func (g *RNG) State() uint32 {
	return g.state
}

// Restore sets the state word, resuming a serialized stream.
func (g *RNG) Restore(state uint32) {
	g.state = state
}
