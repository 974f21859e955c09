package sim

import (
	"testing"

	"github.com/kokokino/talon-and-lance-sub001/pkg/fixed"
)

// placeAirborne parks a player slot mid-air with the given pixel position and
// velocity, clear of the materialize timer.
func placeAirborne(s *State, slot int, xPx, yPx, vxPx, vyPx int32) {
	s.ActivatePlayer(slot)
	base := playerIdx(slot, 0)
	s.w[base+fldMove] = MoveAirborne
	s.w[base+fldTimer] = 0
	s.w[base+fldX] = xPx * fixed.Scale
	s.w[base+fldY] = yPx * fixed.Scale
	s.w[base+fldPrevX] = xPx * fixed.Scale
	s.w[base+fldPrevY] = yPx * fixed.Scale
	s.w[base+fldVX] = vxPx * fixed.Scale
	s.w[base+fldVY] = vyPx * fixed.Scale
}

func placeEnemy(s *State, slot int, kind, xPx, yPx int32) {
	base := enemyIdx(int(slot), 0)
	s.w[base+fldActive] = 1
	s.w[base+fldMove] = MoveAirborne
	s.w[base+fldX] = xPx * fixed.Scale
	s.w[base+fldY] = yPx * fixed.Scale
	s.w[base+fldPrevX] = xPx * fixed.Scale
	s.w[base+fldPrevY] = yPx * fixed.Scale
	s.w[base+fldKind] = kind
	s.w[aiIdx(int(slot), aiKind)] = kind
}

// TestGravityAppliesWhenAirborne verifies an airborne slot accelerates down.
func TestGravityAppliesWhenAirborne(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 160, 80, 0, 0)
	y0 := s.w[playerIdx(0, fldY)]

	Step(s, nil)

	if vy := s.w[playerIdx(0, fldVY)]; vy <= 0 {
		t.Errorf("vy = %d after a frame of gravity, want > 0", vy)
	}
	if y := s.w[playerIdx(0, fldY)]; y <= y0 {
		t.Errorf("y did not fall: %d -> %d", y0, y)
	}
}

// TestPlatformLanding verifies a falling slot crossing a platform top from
// above lands on it and stops.
func TestPlatformLanding(t *testing.T) {
	s := New(1)
	// Mid platform top is at 150px; start the feet a pixel above, falling.
	placeAirborne(s, 0, 160, 150-17, 0, 120)

	Step(s, nil)

	if got := s.w[playerIdx(0, fldMove)]; got != MoveGrounded {
		t.Fatalf("move = %d after crossing the top edge, want grounded", got)
	}
	if got := s.w[playerIdx(0, fldVY)]; got != 0 {
		t.Errorf("vy = %d after landing, want 0", got)
	}
	if got, want := s.w[playerIdx(0, fldY)], int32((150-16)*fixed.Scale); got != want {
		t.Errorf("y = %d after landing, want %d", got, want)
	}
}

// TestWalkOffEdgeBecomesAirborne verifies grounded support is re-checked.
func TestWalkOffEdgeBecomesAirborne(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 160, 80, 0, 0)
	base := playerIdx(0, 0)
	s.w[base+fldMove] = MoveGrounded
	s.w[base+fldVY] = 0

	Step(s, nil)

	if got := s.w[base+fldMove]; got != MoveAirborne {
		t.Errorf("move = %d with no platform underfoot, want airborne", got)
	}
}

// TestHorizontalWrap verifies the screen wraps left to right.
func TestHorizontalWrap(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 0, 80, -120, 0)

	Step(s, nil)

	if got := s.w[playerIdx(0, fldX)]; got < screenW/2 {
		t.Errorf("x = %d after wrapping left, want right half of screen", got)
	}
}

// TestLavaKillsPlayer verifies the lower bound check sets the killed state
// and costs a life.
func TestLavaKillsPlayer(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 160, 210, 0, 120)

	Step(s, nil)

	if got := s.w[playerIdx(0, fldMove)]; got != MoveDead {
		t.Fatalf("move = %d after touching lava, want dead", got)
	}
	if got := s.w[playerIdx(0, fldLives)]; got != startLives-1 {
		t.Errorf("lives = %d after lava death, want %d", got, startLives-1)
	}
	if s.w[playerIdx(0, fldFlags)]&flagKilled == 0 {
		t.Error("killed flag not set on the death frame")
	}
}

// TestRespawnAfterDeath verifies the dead → materializing → grounded cycle.
func TestRespawnAfterDeath(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 160, 210, 0, 120)
	Step(s, nil) // dies

	for i := 0; i < respawnFrames+1; i++ {
		Step(s, nil)
	}
	if got := s.w[playerIdx(0, fldMove)]; got != MoveMaterializing {
		t.Fatalf("move = %d after respawn timer, want materializing", got)
	}

	// Any steering input ends materialization.
	Step(s, []Input{InputRight})
	if got := s.w[playerIdx(0, fldMove)]; got != MoveGrounded {
		t.Errorf("move = %d after input during materialize, want grounded", got)
	}
}

// TestFlapEdgeLaunches verifies a flap edge applies the impulse and a held
// flap does not re-trigger.
func TestFlapEdgeLaunches(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 160, 150-16, 0, 0)
	base := playerIdx(0, 0)
	s.w[base+fldMove] = MoveGrounded

	Step(s, []Input{InputFlap})
	if got := s.w[base+fldMove]; got != MoveAirborne {
		t.Fatalf("move = %d after flap, want airborne", got)
	}
	vy1 := s.w[base+fldVY]
	if vy1 >= 0 {
		t.Fatalf("vy = %d after flap, want upward", vy1)
	}

	Step(s, []Input{InputFlap}) // held, no new edge
	vy2 := s.w[base+fldVY]
	if vy2 < vy1 {
		t.Errorf("held flap re-fired the impulse: vy %d -> %d", vy1, vy2)
	}
}

// TestJoustElimination verifies a mixed-pair contact kills the lower slot,
// scores the surviving player, and drops an egg.
func TestJoustElimination(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 100, 100, 0, 0)
	placeEnemy(s, 0, KindHunter, 100, 110)

	Step(s, nil)

	if s.w[enemyIdx(0, fldActive)] != 0 {
		t.Fatal("lower enemy survived the joust")
	}
	if !s.PlayerActive(0) || s.w[playerIdx(0, fldMove)] == MoveDead {
		t.Fatal("higher player did not survive the joust")
	}
	if got := s.PlayerScore(0); got < killScoreBase*(KindHunter+1) {
		t.Errorf("score = %d after the kill, want at least %d", got, killScoreBase*(KindHunter+1))
	}
	hasEgg := false
	for i := 0; i < MaxEggs; i++ {
		if st := s.w[eggIdx(i, eggState)]; st != EggInactive {
			hasEgg = true
		}
	}
	collected := s.w[playerIdx(0, fldEggs)] > 0
	if !hasEgg && !collected {
		t.Error("joust kill dropped no egg")
	}
}

// TestJoustKillsLowerPlayer verifies the reversed pair kills the
// player instead.
func TestJoustKillsLowerPlayer(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 100, 110, 0, 0)
	placeEnemy(s, 0, KindBounder, 100, 100)

	Step(s, nil)

	if got := s.w[playerIdx(0, fldMove)]; got != MoveDead {
		t.Fatalf("move = %d for the lower player, want dead", got)
	}
	if s.w[enemyIdx(0, fldActive)] == 0 {
		t.Fatal("higher enemy died in a joust it won")
	}
}

// TestPlayerPairBounces verifies same-team contact swaps horizontal velocity
// and separates the pair.
func TestPlayerPairBounces(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 100, 100, 60, 0)
	placeAirborne(s, 1, 108, 100, -60, 0)

	Step(s, nil)

	v0 := s.w[playerIdx(0, fldVX)]
	v1 := s.w[playerIdx(1, fldVX)]
	if v0 >= 0 || v1 <= 0 {
		t.Errorf("velocities not exchanged: v0 = %d, v1 = %d", v0, v1)
	}
	gap := s.w[playerIdx(1, fldX)] - s.w[playerIdx(0, fldX)]
	if gap < slotW {
		t.Errorf("pair still overlapping after bounce: gap = %d", gap)
	}
	if s.w[playerIdx(0, fldMove)] == MoveDead || s.w[playerIdx(1, fldMove)] == MoveDead {
		t.Error("same-team bounce killed a slot")
	}
}

// TestTunnelingContact verifies a pair that crosses in one frame without
// sampled overlap still resolves.
func TestTunnelingContact(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 100, 100, 0, 0)
	placeAirborne(s, 1, 110, 100, 0, 0)
	// Fake a crossing: previous positions on opposite sides, current swapped
	// beyond overlap range is impossible within slotW, so shrink the frame
	// delta by hand.
	s.w[playerIdx(0, fldPrevX)] = 90 * fixed.Scale
	s.w[playerIdx(1, fldPrevX)] = 108 * fixed.Scale
	s.w[playerIdx(0, fldX)] = 112 * fixed.Scale
	s.w[playerIdx(1, fldX)] = 94 * fixed.Scale
	s.w[playerIdx(0, fldVX)] = 80 * fixed.Scale
	s.w[playerIdx(1, fldVX)] = -80 * fixed.Scale

	a := s.playerRef(0)
	b := s.playerRef(1)
	if !tunneled(a, b) {
		t.Fatal("sign-flip crossing not detected as tunneling")
	}

	s.resolveContacts()
	if s.w[playerIdx(0, fldVX)] >= 0 || s.w[playerIdx(1, fldVX)] <= 0 {
		t.Error("tunneled pair did not bounce")
	}
}

// TestEggPickup verifies a player collects an overlapping egg.
func TestEggPickup(t *testing.T) {
	s := New(1)
	placeAirborne(s, 0, 100, 100, 0, 0)
	base := eggIdx(0, 0)
	s.w[base+eggState] = EggRested
	s.w[base+eggX] = 104 * fixed.Scale
	s.w[base+eggY] = 104 * fixed.Scale
	s.w[base+eggTimer] = 100

	Step(s, nil)

	if got := s.w[base+eggState]; got != EggInactive {
		t.Fatalf("egg state = %d after pickup, want inactive", got)
	}
	if got := s.w[playerIdx(0, fldEggs)]; got != 1 {
		t.Errorf("collected count = %d, want 1", got)
	}
	if got := s.PlayerScore(0); got != eggScore {
		t.Errorf("score = %d after pickup, want %d", got, eggScore)
	}
}

// TestEggHatchCycle verifies rested → wobbling → hatch queues a spawn.
func TestEggHatchCycle(t *testing.T) {
	s := New(1)
	base := eggIdx(0, 0)
	s.w[base+eggState] = EggRested
	s.w[base+eggX] = 160 * fixed.Scale
	s.w[base+eggY] = (150 - 8) * fixed.Scale
	s.w[base+eggOwnerKind] = KindHunter
	s.w[base+eggTimer] = 1

	Step(s, nil)
	if got := s.w[base+eggState]; got != EggWobbling {
		t.Fatalf("egg state = %d after rest timer, want wobbling", got)
	}

	s.w[base+eggTimer] = 1
	Step(s, nil)
	if got := s.w[base+eggState]; got != EggInactive {
		t.Fatalf("egg state = %d after wobble timer, want inactive", got)
	}
	found := false
	for i := int32(0); i < s.w[offSpawnCount]; i++ {
		at := (s.w[offSpawnHead] + i) % spawnRingCap
		if s.w[offSpawnRing+at] == KindHunter {
			found = true
		}
	}
	if !found {
		t.Error("hatched egg did not queue a hunter spawn")
	}
}

// TestWaveProgression verifies the intro fills the spawn queue and enemies
// materialize onto pads.
func TestWaveProgression(t *testing.T) {
	s := New(42)

	for f := 0; f < waveIntroFrames+2; f++ {
		Step(s, nil)
	}
	if got := s.w[offWaveState]; got != WaveSpawning && got != WaveActive {
		t.Fatalf("wave state = %d after the intro, want spawning or active", got)
	}

	for f := 0; f < 5*spawnIntervalFrames; f++ {
		Step(s, nil)
	}
	active := 0
	for i := 0; i < MaxEnemies; i++ {
		if s.w[enemyIdx(i, fldActive)] != 0 {
			active++
		}
	}
	if active == 0 {
		t.Fatal("no enemies materialized after the spawn intervals")
	}
}

// TestTrollGrabsLowFlyer verifies the lava troll announce → reach → grab →
// pull chain against a slot hovering over the lava, ending in a kill when
// the victim never flaps free.
func TestTrollGrabsLowFlyer(t *testing.T) {
	s := New(5)
	placeAirborne(s, 0, 160, 200, 0, 0)

	grabbed := false
	for i := 0; i < 500; i++ {
		if s.w[playerIdx(0, fldMove)] == MoveGrabbed {
			grabbed = true
			break
		}
		// Hold the bait in place until the hand arrives.
		base := playerIdx(0, 0)
		s.w[base+fldY] = 200 * fixed.Scale
		s.w[base+fldPrevY] = 200 * fixed.Scale
		s.w[base+fldVY] = 0
		Step(s, nil)
	}
	if !grabbed {
		t.Fatalf("troll never grabbed the low flyer; troll state = %d", s.w[trollIdx(trState)])
	}

	for i := 0; i < 500 && s.w[playerIdx(0, fldMove)] == MoveGrabbed; i++ {
		Step(s, nil)
	}
	if got := s.w[playerIdx(0, fldMove)]; got != MoveDead {
		t.Fatalf("move = %d after the pull, want dead", got)
	}
}

// TestTrollReleaseOnEscapeFlaps verifies a grabbed player flapping hard
// enough breaks the hold.
func TestTrollReleaseOnEscapeFlaps(t *testing.T) {
	s := New(5)
	placeAirborne(s, 0, 160, 200, 0, 0)
	base := playerIdx(0, 0)

	for i := 0; i < 500 && s.w[base+fldMove] != MoveGrabbed; i++ {
		s.w[base+fldY] = 200 * fixed.Scale
		s.w[base+fldPrevY] = 200 * fixed.Scale
		s.w[base+fldVY] = 0
		Step(s, nil)
	}
	if s.w[base+fldMove] != MoveGrabbed {
		t.Skip("grab did not occur under this seed; covered by TestTrollGrabsLowFlyer")
	}

	// Alternate flap on/off to generate edges.
	for i := 0; i < 4*escapeFlapsNeeded && s.w[base+fldMove] == MoveGrabbed; i++ {
		in := Input(0)
		if i%2 == 0 {
			in = InputFlap
		}
		Step(s, []Input{in})
	}
	if got := s.w[base+fldMove]; got == MoveGrabbed || got == MoveDead {
		t.Fatalf("move = %d after escape flaps, want released alive", got)
	}
}
