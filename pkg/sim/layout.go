package sim

// The game state is a single flat array of signed 32-bit words. Every section
// and field offset below is a compile-time constant; changing any of them is a
// snapshot format version change.

// Slot capacities.
const (
	MaxPlayers = 4
	MaxEnemies = 8
	MaxEggs    = 8
)

// Global section, base 0.
const (
	offFrame      = 0
	offRNGState   = 1
	offWave       = 2
	offWaveState  = 3
	offWaveTimer  = 4
	offSpawnTimer = 5
	offGameMode   = 6
	offGameOver   = 7
	offSpawnHead  = 8
	offSpawnCount = 9
	offSpawnRing  = 10 // spawnRingCap words

	spawnRingCap = 8
	globalWords  = 20 // 18..19 reserved
)

// Per-slot fields shared by players and enemies. Enemies carry one extra
// trailing word for the kind tag.
const (
	fldActive  = 0
	fldX       = 1
	fldY       = 2
	fldVX      = 3
	fldVY      = 4
	fldPrevX   = 5
	fldPrevY   = 6
	fldMove    = 7
	fldFacing  = 8
	fldTimer   = 9
	fldEscape  = 10
	fldFlags   = 11
	fldScore   = 12
	fldLives   = 13
	fldEggs    = 14
	fldPalette = 15
	fldKind    = 16 // enemies only

	playerWords = 16
	enemyWords  = 17
)

// AI scratch fields, one slot per enemy.
const (
	aiDirTimer = 0
	aiDir      = 1
	aiAccum    = 2
	aiKind     = 3

	aiWords = 4
)

// Egg slot fields.
const (
	eggX         = 0
	eggY         = 1
	eggVX        = 2
	eggVY        = 3
	eggPrevX     = 4
	eggPrevY     = 5
	eggOwnerKind = 6
	eggState     = 7
	eggTimer     = 8

	eggWords = 9
)

// Lava troll extension section.
const (
	trState      = 0
	trTimer      = 1
	trHandX      = 2
	trHandY      = 3
	trTargetKind = 4
	trTargetIdx  = 5

	trollWords = 8 // 6..7 reserved
)

// Section bases.
const (
	playerBase = globalWords
	enemyBase  = playerBase + MaxPlayers*playerWords
	aiBase     = enemyBase + MaxEnemies*enemyWords
	eggBase    = aiBase + MaxEnemies*aiWords
	trollBase  = eggBase + MaxEggs*eggWords

	// StateWords is the fixed length of the serialized state.
	StateWords = trollBase + trollWords
)

// Movement states for players and enemies.
const (
	MoveGrounded = iota
	MoveAirborne
	MoveGrabbed
	MoveMaterializing
	MoveDead
)

// Enemy kinds.
const (
	KindBounder = iota
	KindHunter
	KindShadow
	enemyKinds
)

// Egg lifecycle states.
const (
	EggInactive = iota
	EggFalling
	EggRested
	EggWobbling
)

// Lava troll states.
const (
	TrollIdle = iota
	TrollAnnounce
	TrollReach
	TrollGrab
	TrollPull
	TrollRetreat
)

// Wave states.
const (
	WaveIntro = iota
	WaveSpawning
	WaveActive
	WaveCleared
)

// Game modes.
const (
	ModeCoop = iota
	ModeVersus
)

// Target kinds for the troll section.
const (
	targetNone = iota
	targetPlayer
	targetEnemy
)

// Slot flag bits.
const (
	flagKilled   = 1 << 0 // set on the frame the slot died; cleared next frame
	flagPrevFlap = 1 << 1 // flap bit state from the previous frame, for edge detection
)

func playerIdx(slot, fld int) int { return playerBase + slot*playerWords + fld }
func enemyIdx(slot, fld int) int  { return enemyBase + slot*enemyWords + fld }
func aiIdx(slot, fld int) int     { return aiBase + slot*aiWords + fld }
func eggIdx(slot, fld int) int    { return eggBase + slot*eggWords + fld }
func trollIdx(fld int) int        { return trollBase + fld }
