package sim

import (
	"github.com/kokokino/talon-and-lance-sub001/pkg/fixed"
	"github.com/kokokino/talon-and-lance-sub001/pkg/rng"
)

// updateAI advances the per-enemy scratch machines. All randomness comes from
// the RNG carried in the state, so the draw order is fixed: enemies ascending,
// draws only at the documented decision points.
func (s *State) updateAI(g *rng.RNG) {
	for i := 0; i < MaxEnemies; i++ {
		e := s.enemyRef(i)
		if !e.active() {
			continue
		}
		m := e.get(fldMove)
		if m != MoveGrounded && m != MoveAirborne {
			continue
		}

		base := aiIdx(i, 0)
		kind := s.w[base+aiKind]

		s.w[base+aiDirTimer]--
		if s.w[base+aiDirTimer] <= 0 {
			s.w[base+aiDir] = int32(g.Intn(3)) - 1
			s.w[base+aiDirTimer] = 30 + int32(g.Intn(60))
		}

		target, ok := s.nearestPlayer(e.get(fldX))
		if kind == KindHunter && ok {
			if d := target.get(fldX) - e.get(fldX); d != 0 {
				s.w[base+aiDir] = sign32(d)
			}
		}

		vx := e.get(fldVX) + s.w[base+aiDir]*fixed.Div60(accelX)
		e.set(fldVX, clamp32(vx, -maxSpeedX, maxSpeedX))
		if s.w[base+aiDir] != 0 {
			e.set(fldFacing, s.w[base+aiDir])
		}

		// Flap cadence: the accumulator overflows at 100 and fires a flap.
		gain := 15 + kind*7 + int32(g.Intn(10))
		if kind == KindShadow && ok && target.get(fldY) < e.get(fldY) {
			gain += 10
		}
		s.w[base+aiAccum] += gain
		if s.w[base+aiAccum] >= 100 {
			s.w[base+aiAccum] -= 100
			e.set(fldVY, flapImpulse)
			e.set(fldMove, MoveAirborne)
		}
	}
}

// nearestPlayer returns the live player slot closest in x. Ties resolve to
// the lower slot index.
func (s *State) nearestPlayer(x int32) (ref, bool) {
	bestDist := int32(-1)
	var best ref
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		if !p.solid() {
			continue
		}
		d := p.get(fldX) - x
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = p
		}
	}
	return best, bestDist >= 0
}
