package sim

import (
	"github.com/kokokino/talon-and-lance-sub001/pkg/fixed"
	"github.com/kokokino/talon-and-lance-sub001/pkg/rng"
)

// updateTroll advances the lava troll machine:
// idle → announce → reach → grab → pull → retreat.
// The troll hunts slots flying low over the lava, drags a grabbed victim
// down, and releases it when the victim out-flaps the pull.
func (s *State) updateTroll(g *rng.RNG) {
	st := s.w[trollIdx(trState)]

	switch st {
	case TrollIdle:
		s.w[trollIdx(trTimer)]--
		if s.w[trollIdx(trTimer)] > 0 {
			return
		}
		kind, idx, ok := s.lowFlyer()
		if !ok {
			s.w[trollIdx(trTimer)] = 30
			return
		}
		v := s.trollVictim(kind, idx)
		s.w[trollIdx(trState)] = TrollAnnounce
		s.w[trollIdx(trTimer)] = trollAnnounceFrames
		s.w[trollIdx(trTargetKind)] = kind
		s.w[trollIdx(trTargetIdx)] = idx
		s.w[trollIdx(trHandX)] = v.get(fldX)
		s.w[trollIdx(trHandY)] = lavaY

	case TrollAnnounce:
		v, ok := s.trollTarget()
		if !ok {
			s.trollRetreat()
			return
		}
		s.w[trollIdx(trHandX)] = v.get(fldX)
		s.w[trollIdx(trTimer)]--
		if s.w[trollIdx(trTimer)] <= 0 {
			s.w[trollIdx(trState)] = TrollReach
		}

	case TrollReach:
		v, ok := s.trollTarget()
		if !ok || v.get(fldY)+slotH < lavaY-trollEscapeBand {
			s.trollRetreat()
			return
		}
		hx := s.w[trollIdx(trHandX)]
		hy := s.w[trollIdx(trHandY)]
		step := fixed.Div60(trollReachSpeed)
		hx += clamp32(v.get(fldX)-hx, -step, step)
		hy += clamp32(v.get(fldY)-hy, -step, step)
		s.w[trollIdx(trHandX)] = hx
		s.w[trollIdx(trHandY)] = hy
		dx, dy := v.get(fldX)-hx, v.get(fldY)-hy
		if dx >= -trollGrabRange && dx <= trollGrabRange && dy >= -trollGrabRange && dy <= trollGrabRange {
			v.set(fldMove, MoveGrabbed)
			v.set(fldEscape, 0)
			v.set(fldVX, 0)
			v.set(fldVY, 0)
			// The hand closes on the victim where it is; the pull drags
			// both down from there.
			s.w[trollIdx(trHandX)] = v.get(fldX)
			s.w[trollIdx(trHandY)] = v.get(fldY)
			s.w[trollIdx(trState)] = TrollGrab
		}

	case TrollGrab:
		s.w[trollIdx(trState)] = TrollPull

	case TrollPull:
		v, ok := s.trollGrabbedTarget()
		if !ok {
			s.trollRetreat()
			return
		}
		if v.get(fldEscape) >= escapeFlapsNeeded {
			v.set(fldMove, MoveAirborne)
			v.set(fldVY, flapImpulse)
			v.set(fldEscape, 0)
			s.trollRetreat()
			return
		}
		s.w[trollIdx(trHandY)] += fixed.Div60(trollPullSpeed)
		v.set(fldPrevX, v.get(fldX))
		v.set(fldPrevY, v.get(fldY))
		v.set(fldX, s.w[trollIdx(trHandX)])
		v.set(fldY, s.w[trollIdx(trHandY)])
		if v.get(fldY)+slotH >= lavaY {
			v.set(fldMove, MoveAirborne)
			s.kill(v, false)
			s.trollRetreat()
		}

	case TrollRetreat:
		s.w[trollIdx(trHandY)] += fixed.Div60(trollReachSpeed)
		if s.w[trollIdx(trHandY)] >= lavaY {
			s.w[trollIdx(trState)] = TrollIdle
			s.w[trollIdx(trTimer)] = 120 + int32(g.Intn(120))
			s.w[trollIdx(trTargetKind)] = targetNone
			s.w[trollIdx(trTargetIdx)] = 0
		}
	}
}

func (s *State) trollRetreat() {
	s.w[trollIdx(trState)] = TrollRetreat
}

// lowFlyer finds the first live slot near the lava line, players before
// enemies, lower index first.
func (s *State) lowFlyer() (kind, idx int32, ok bool) {
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		if p.solid() && p.get(fldY)+slotH >= lavaY-trollNearBand {
			return targetPlayer, int32(i), true
		}
	}
	for i := 0; i < MaxEnemies; i++ {
		e := s.enemyRef(i)
		if e.solid() && e.get(fldY)+slotH >= lavaY-trollNearBand {
			return targetEnemy, int32(i), true
		}
	}
	return 0, 0, false
}

func (s *State) trollVictim(kind, idx int32) ref {
	if kind == targetPlayer {
		return s.playerRef(int(idx))
	}
	return s.enemyRef(int(idx))
}

// trollTarget resolves the current target if it is still alive and solid.
func (s *State) trollTarget() (ref, bool) {
	kind := s.w[trollIdx(trTargetKind)]
	if kind == targetNone {
		return ref{}, false
	}
	v := s.trollVictim(kind, s.w[trollIdx(trTargetIdx)])
	return v, v.solid()
}

// trollGrabbedTarget resolves the target while it is held.
func (s *State) trollGrabbedTarget() (ref, bool) {
	kind := s.w[trollIdx(trTargetKind)]
	if kind == targetNone {
		return ref{}, false
	}
	v := s.trollVictim(kind, s.w[trollIdx(trTargetIdx)])
	return v, v.active() && v.get(fldMove) == MoveGrabbed
}
