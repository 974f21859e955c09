package sim

import "github.com/kokokino/talon-and-lance-sub001/pkg/fixed"

// resolveEnvironment handles platform landings, head bumps, side pushes, edge
// walk-offs, and the lava lower bound for one slot.
func (s *State) resolveEnvironment(r ref) {
	m := r.get(fldMove)
	if m == MoveDead || m == MoveGrabbed || m == MoveMaterializing {
		return
	}

	x := r.get(fldX)
	y := r.get(fldY)
	vx := r.get(fldVX)
	vy := r.get(fldVY)
	prevY := r.get(fldPrevY)

	landed := false
	for _, p := range platforms {
		if x+slotW <= p.left || x >= p.right {
			continue
		}
		switch {
		case vy >= 0 && prevY+slotH <= p.top && y+slotH >= p.top:
			// Crossed the top edge from above: land.
			y = p.top - slotH
			vy = 0
			if r.get(fldMove) == MoveAirborne {
				r.set(fldMove, MoveGrounded)
			}
			landed = true
		case vy < 0 && prevY >= p.top+p.thick && y <= p.top+p.thick:
			// Crossed the bottom edge from below: head bump.
			y = p.top + p.thick
			vy = 0
		case y+slotH > p.top && y < p.top+p.thick:
			// Side contact: push out toward the nearer edge and rebound.
			if x+slotW/2 < (p.left+p.right)/2 {
				x = p.left - slotW
			} else {
				x = p.right
			}
			vx = -(vx - fixed.Div3(vx))
		}
	}

	if y < 0 {
		y = 0
		if vy < 0 {
			vy = 0
		}
	}

	r.set(fldX, x)
	r.set(fldY, y)
	r.set(fldVX, vx)
	r.set(fldVY, vy)

	if r.get(fldMove) == MoveGrounded && !landed {
		if !s.supported(x, y) {
			r.set(fldMove, MoveAirborne)
		}
	}

	if r.get(fldY)+slotH >= lavaY {
		s.kill(r, false)
	}
}

// supported reports whether a slot standing at (x, y) has a platform top
// directly under its feet.
func (s *State) supported(x, y int32) bool {
	for _, p := range platforms {
		if x+slotW > p.left && x < p.right && y+slotH == p.top {
			return true
		}
	}
	return false
}

// kill marks a slot dead. Players lose a life and enter the respawn cycle;
// enemies deactivate, dropping an egg when dropEgg is set (joust kills hatch
// eggs, the lava does not).
func (s *State) kill(r ref, dropEgg bool) {
	r.set(fldFlags, r.get(fldFlags)|flagKilled)
	if !r.isEnemy {
		r.set(fldVX, 0)
		r.set(fldVY, 0)
		r.set(fldMove, MoveDead)
		r.set(fldTimer, respawnFrames)
		r.add(fldLives, -1)
		return
	}
	if dropEgg {
		s.dropEgg(r.get(fldX), r.get(fldY), r.get(fldKind))
	}
	r.set(fldActive, 0)
}

// dropEgg activates a free egg slot at the given position. If every slot is
// occupied the egg is simply lost.
func (s *State) dropEgg(x, y, kind int32) {
	for i := 0; i < MaxEggs; i++ {
		base := eggIdx(i, 0)
		if s.w[base+eggState] != EggInactive {
			continue
		}
		s.w[base+eggX] = x
		s.w[base+eggY] = y
		s.w[base+eggVX] = 0
		s.w[base+eggVY] = 0
		s.w[base+eggPrevX] = x
		s.w[base+eggPrevY] = y
		s.w[base+eggOwnerKind] = kind
		s.w[base+eggState] = EggFalling
		s.w[base+eggTimer] = 0
		return
	}
}
