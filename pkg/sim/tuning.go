package sim

import "github.com/kokokino/talon-and-lance-sub001/pkg/fixed"

// All tuning values are fixed-point scalars (pixels * 256). Velocities and
// accelerations are per second; the step applies fixed.Div60 to get the
// per-frame delta.

const (
	screenW = 320 * fixed.Scale
	screenH = 240 * fixed.Scale
	lavaY   = 220 * fixed.Scale

	slotW = 16 * fixed.Scale
	slotH = 16 * fixed.Scale
	eggW  = 8 * fixed.Scale
	eggH  = 8 * fixed.Scale

	gravity      = 300 * fixed.Scale
	flapImpulse  = -110 * fixed.Scale
	accelX       = 240 * fixed.Scale
	skidDecelX   = 480 * fixed.Scale
	frictionX    = 180 * fixed.Scale
	maxSpeedX    = 120 * fixed.Scale
	maxFallSpeed = 200 * fixed.Scale
	recoilSpeed  = 80 * fixed.Scale

	// Contact resolution.
	bounceEpsilon = 16              // 1/16 px of extra separation after a bounce
	jostleBand    = 4 * fixed.Scale // y-difference treated as a mutual bounce, not a kill
	tunnelMaxGap  = 24 * fixed.Scale

	// Timers, in frames.
	materializeFrames   = 90
	respawnFrames       = 120
	eggHatchFrames      = 300
	eggWobbleFrames     = 90
	waveIntroFrames     = 120
	waveClearedFrames   = 180
	spawnIntervalFrames = 45

	escapeFlapsNeeded = 8

	trollAnnounceFrames = 45
	trollReachSpeed     = 40 * fixed.Scale
	trollPullSpeed      = 8 * fixed.Scale
	trollNearBand       = 24 * fixed.Scale
	trollEscapeBand     = 48 * fixed.Scale
	trollGrabRange      = 8 * fixed.Scale

	// Scoring.
	eggScore      = 250
	killScoreBase = 500
	clearBonus    = 3000

	startLives = 3
)

// platform is an axis-aligned ledge. Slots land on top, bump their heads on
// bottom, and are pushed off side.
type platform struct {
	left, right int32
	top         int32
	thick       int32
}

var platforms = []platform{
	{left: 0, right: 96 * fixed.Scale, top: 200 * fixed.Scale, thick: 8 * fixed.Scale},
	{left: 224 * fixed.Scale, right: screenW, top: 200 * fixed.Scale, thick: 8 * fixed.Scale},
	{left: 112 * fixed.Scale, right: 208 * fixed.Scale, top: 150 * fixed.Scale, thick: 8 * fixed.Scale},
	{left: 0, right: 64 * fixed.Scale, top: 96 * fixed.Scale, thick: 8 * fixed.Scale},
	{left: 256 * fixed.Scale, right: screenW, top: 96 * fixed.Scale, thick: 8 * fixed.Scale},
	{left: 128 * fixed.Scale, right: 192 * fixed.Scale, top: 56 * fixed.Scale, thick: 8 * fixed.Scale},
}

type spawnPad struct {
	x, y int32
}

// Enemy spawn pads sit on platform tops; players 0 and 1 respawn on the
// center ledge, players 2 and 3 on the ledges at y = 200.
var enemyPads = []spawnPad{
	{x: 160 * fixed.Scale, y: (150 - 16) * fixed.Scale},
	{x: 32 * fixed.Scale, y: (96 - 16) * fixed.Scale},
	{x: 288 * fixed.Scale, y: (96 - 16) * fixed.Scale},
	{x: 160 * fixed.Scale, y: (56 - 16) * fixed.Scale},
}

var playerPads = []spawnPad{
	{x: 140 * fixed.Scale, y: (150 - 16) * fixed.Scale},
	{x: 180 * fixed.Scale, y: (150 - 16) * fixed.Scale},
	{x: 48 * fixed.Scale, y: (200 - 16) * fixed.Scale},
	{x: 272 * fixed.Scale, y: (200 - 16) * fixed.Scale},
}
