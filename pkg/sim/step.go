package sim

import "github.com/kokokino/talon-and-lance-sub001/pkg/fixed"

// ref addresses one player or enemy slot through the shared field layout.
// combined index: players 0..MaxPlayers-1, enemies MaxPlayers..MaxPlayers+MaxEnemies-1.
type ref struct {
	st       *State
	base     int
	combined int
	isEnemy  bool
}

func (s *State) playerRef(i int) ref {
	return ref{st: s, base: playerIdx(i, 0), combined: i}
}

func (s *State) enemyRef(i int) ref {
	return ref{st: s, base: enemyIdx(i, 0), combined: MaxPlayers + i, isEnemy: true}
}

func (r ref) get(f int) int32    { return r.st.w[r.base+f] }
func (r ref) set(f int, v int32) { r.st.w[r.base+f] = v }
func (r ref) add(f int, v int32) { r.st.w[r.base+f] += v }
func (r ref) active() bool       { return r.get(fldActive) != 0 }
func (r ref) slot() int          { return r.combined % MaxPlayers }

// solid reports whether the slot participates in contacts and pickups.
func (r ref) solid() bool {
	if !r.active() {
		return false
	}
	m := r.get(fldMove)
	return m == MoveGrounded || m == MoveAirborne
}

func sign32(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func clamp32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Step advances the state by exactly one frame. It is pure — the result
// depends only on the state, the inputs, and the RNG word inside the state —
// and total: it never fails and never suspends. Inputs beyond MaxPlayers are
// ignored; missing inputs are zero.
func Step(s *State, inputs []Input) {
	g := s.rngFromState()

	var in [MaxPlayers]Input
	for i := 0; i < MaxPlayers && i < len(inputs); i++ {
		in[i] = inputs[i]
	}

	// 1. Meta bits. The disconnect bit deactivates the slot, preserving the
	// remaining fields; on an inactive slot it is a no-op.
	for i := 0; i < MaxPlayers; i++ {
		if in[i].Disconnect() {
			s.w[playerIdx(i, fldActive)] = 0
			in[i] = 0
		}
	}
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		p.set(fldFlags, p.get(fldFlags)&^flagKilled)
	}
	for i := 0; i < MaxEnemies; i++ {
		e := s.enemyRef(i)
		e.set(fldFlags, e.get(fldFlags)&^flagKilled)
	}

	// 2. Scheduled spawns, egg lifecycles, and per-slot timers.
	s.advanceSpawns(g)
	s.advanceEggs(g)

	// 3. Kinematics.
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		if p.active() {
			s.integratePlayer(p, in[i])
		}
	}
	for i := 0; i < MaxEnemies; i++ {
		e := s.enemyRef(i)
		if e.active() {
			s.integrateEnemy(e)
		}
	}

	// 4. Environment collisions.
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		if p.active() {
			s.resolveEnvironment(p)
		}
	}
	for i := 0; i < MaxEnemies; i++ {
		e := s.enemyRef(i)
		if e.active() {
			s.resolveEnvironment(e)
		}
	}

	// 5. Slot-vs-slot contact.
	s.resolveContacts()

	// 6. Egg pickups.
	s.resolvePickups()

	// 7. AI scratch updates.
	s.updateAI(g)

	// 8. Lava troll.
	s.updateTroll(g)

	// 9. Wave state and global timers.
	s.updateWave(g)

	// 10. Frame counter, RNG write-back.
	s.w[offFrame]++
	s.storeRNG(g)
}

// integratePlayer applies one frame of input and kinematics to a player slot.
func (s *State) integratePlayer(p ref, in Input) {
	flapEdge := in.Flap() && p.get(fldFlags)&flagPrevFlap == 0
	if in.Flap() {
		p.set(fldFlags, p.get(fldFlags)|flagPrevFlap)
	} else {
		p.set(fldFlags, p.get(fldFlags)&^flagPrevFlap)
	}

	switch p.get(fldMove) {
	case MoveDead:
		t := p.get(fldTimer) - 1
		p.set(fldTimer, t)
		if t <= 0 && p.get(fldLives) > 0 {
			pad := playerPads[p.slot()]
			p.set(fldX, pad.x)
			p.set(fldY, pad.y)
			p.set(fldPrevX, pad.x)
			p.set(fldPrevY, pad.y)
			p.set(fldVX, 0)
			p.set(fldVY, 0)
			p.set(fldMove, MoveMaterializing)
			p.set(fldTimer, materializeFrames)
		}
		return
	case MoveMaterializing:
		t := p.get(fldTimer) - 1
		p.set(fldTimer, t)
		if t <= 0 || in.Left() || in.Right() || flapEdge {
			p.set(fldMove, MoveGrounded)
			p.set(fldTimer, 0)
		}
		return
	case MoveGrabbed:
		// Position is slaved to the troll hand; flapping fights the pull.
		if flapEdge {
			p.add(fldEscape, 1)
		}
		return
	}

	s.steer(p, in, flapEdge)
	s.integrateCommon(p)
}

// integrateEnemy applies one frame of kinematics to an enemy slot. Steering
// impulses come from the AI phase, not from inputs.
func (s *State) integrateEnemy(e ref) {
	switch e.get(fldMove) {
	case MoveMaterializing:
		t := e.get(fldTimer) - 1
		e.set(fldTimer, t)
		if t <= 0 {
			e.set(fldMove, MoveGrounded)
			e.set(fldTimer, 0)
		}
		return
	case MoveGrabbed, MoveDead:
		return
	}
	s.integrateCommon(e)
}

// steer applies directional input with skid handling and the flap impulse.
func (s *State) steer(p ref, in Input, flapEdge bool) {
	vx := p.get(fldVX)
	switch {
	case in.Left() && !in.Right():
		p.set(fldFacing, -1)
		var a int32 = accelX
		if vx > 0 {
			a = skidDecelX
		}
		vx -= fixed.Div60(a)
	case in.Right() && !in.Left():
		p.set(fldFacing, 1)
		var a int32 = accelX
		if vx < 0 {
			a = skidDecelX
		}
		vx += fixed.Div60(a)
	default:
		if p.get(fldMove) == MoveGrounded {
			f := fixed.Div60(frictionX)
			switch {
			case vx > f:
				vx -= f
			case vx < -f:
				vx += f
			default:
				vx = 0
			}
		}
	}
	p.set(fldVX, clamp32(vx, -maxSpeedX, maxSpeedX))

	if flapEdge {
		p.set(fldVY, flapImpulse)
		p.set(fldMove, MoveAirborne)
	}
}

// integrateCommon applies gravity and advances position for a grounded or
// airborne slot, wrapping horizontally at the screen edges.
func (s *State) integrateCommon(r ref) {
	if r.get(fldMove) == MoveAirborne {
		vy := r.get(fldVY) + fixed.Div60(gravity)
		r.set(fldVY, clamp32(vy, -maxFallSpeed, maxFallSpeed))
	}

	r.set(fldPrevX, r.get(fldX))
	r.set(fldPrevY, r.get(fldY))

	x := r.get(fldX) + fixed.Div60(r.get(fldVX))
	if x < 0 {
		x += screenW
	} else if x >= screenW {
		x -= screenW
	}
	r.set(fldX, x)
	r.set(fldY, r.get(fldY)+fixed.Div60(r.get(fldVY)))
}
