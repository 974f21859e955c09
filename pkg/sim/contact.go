package sim

import "github.com/kokokino/talon-and-lance-sub001/pkg/fixed"

// resolveContacts walks every slot pair in combined index order and resolves
// overlaps. A pair is in contact when the bounding boxes overlap at the frame
// boundary, or when the horizontal sign of their separation flipped during
// the frame without sampled overlap (tunneling).
func (s *State) resolveContacts() {
	refs := make([]ref, 0, MaxPlayers+MaxEnemies)
	for i := 0; i < MaxPlayers; i++ {
		refs = append(refs, s.playerRef(i))
	}
	for i := 0; i < MaxEnemies; i++ {
		refs = append(refs, s.enemyRef(i))
	}

	for i := 0; i < len(refs); i++ {
		for j := i + 1; j < len(refs); j++ {
			a, b := refs[i], refs[j]
			if !a.solid() || !b.solid() {
				continue
			}
			if !inContact(a, b) {
				continue
			}
			s.resolvePair(a, b)
		}
	}
}

func overlaps(a, b ref) bool {
	ax, ay := a.get(fldX), a.get(fldY)
	bx, by := b.get(fldX), b.get(fldY)
	return ax < bx+slotW && ax+slotW > bx && ay < by+slotH && ay+slotH > by
}

// tunneled detects pairs that crossed horizontally in a single frame: the
// sign of the x separation flipped while both stayed close and vertically
// aligned.
func tunneled(a, b ref) bool {
	d0 := a.get(fldPrevX) - b.get(fldPrevX)
	d1 := a.get(fldX) - b.get(fldX)
	if sign32(d0) == 0 || sign32(d1) == 0 || sign32(d0) == sign32(d1) {
		return false
	}
	if d0 > tunnelMaxGap || -d0 > tunnelMaxGap || d1 > tunnelMaxGap || -d1 > tunnelMaxGap {
		return false
	}
	ay, by := a.get(fldY), b.get(fldY)
	return ay < by+slotH && ay+slotH > by
}

func inContact(a, b ref) bool {
	return overlaps(a, b) || tunneled(a, b)
}

// resolvePair dispatches a contact to bounce, elimination, or neutral.
// Player-player contacts bounce; enemy-enemy contacts are neutral; mixed
// pairs joust — within the jostle band they bounce, otherwise the higher
// slot survives (exact ties resolve to the lower combined index, which is
// always the player in a mixed pair).
func (s *State) resolvePair(a, b ref) {
	if a.isEnemy && b.isEnemy {
		return
	}
	if !a.isEnemy && !b.isEnemy {
		s.bounce(a, b)
		return
	}

	dy := a.get(fldY) - b.get(fldY)
	if dy >= -jostleBand && dy <= jostleBand {
		s.bounce(a, b)
		return
	}

	winner, loser := a, b
	if dy > 0 {
		winner, loser = b, a
	}
	s.eliminate(winner, loser)
}

// bounce swaps horizontal velocities and pushes the pair apart by half the
// overlap plus a small epsilon each.
func (s *State) bounce(a, b ref) {
	av, bv := a.get(fldVX), b.get(fldVX)
	a.set(fldVX, bv)
	b.set(fldVX, av)

	ax, bx := a.get(fldX), b.get(fldX)
	left, right := a, b
	if bx < ax || (bx == ax && b.combined < a.combined) {
		left, right = b, a
	}
	ow := min32(left.get(fldX)+slotW, right.get(fldX)+slotW) - max32(left.get(fldX), right.get(fldX))
	if ow < 0 {
		ow = 0
	}
	shift := ow/2 + bounceEpsilon
	left.set(fldX, left.get(fldX)-shift)
	right.set(fldX, right.get(fldX)+shift)
}

// eliminate kills the loser and applies recoil to the winner. A player
// winner scores by the defeated kind.
func (s *State) eliminate(winner, loser ref) {
	if !winner.isEnemy && loser.isEnemy {
		winner.add(fldScore, killScoreBase*(loser.get(fldKind)+1))
	}
	away := sign32(winner.get(fldX) - loser.get(fldX))
	if away == 0 {
		away = 1
	}
	winner.set(fldVX, away*fixed.Div3(maxSpeedX))
	winner.set(fldVY, -recoilSpeed)
	winner.set(fldMove, MoveAirborne)
	s.kill(loser, loser.isEnemy)
}

// resolvePickups collects eggs touched by live players.
func (s *State) resolvePickups() {
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		if !p.solid() {
			continue
		}
		px, py := p.get(fldX), p.get(fldY)
		for e := 0; e < MaxEggs; e++ {
			base := eggIdx(e, 0)
			if s.w[base+eggState] == EggInactive {
				continue
			}
			ex, ey := s.w[base+eggX], s.w[base+eggY]
			if px < ex+eggW && px+slotW > ex && py < ey+eggH && py+slotH > ey {
				s.w[base+eggState] = EggInactive
				p.add(fldEggs, 1)
				p.add(fldScore, eggScore)
			}
		}
	}
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
