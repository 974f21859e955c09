package sim

import (
	"github.com/kokokino/talon-and-lance-sub001/pkg/fixed"
	"github.com/kokokino/talon-and-lance-sub001/pkg/rng"
)

// pushSpawn appends an enemy kind to the bounded spawn queue. A full queue
// drops the spawn.
func (s *State) pushSpawn(kind int32) {
	if s.w[offSpawnCount] >= spawnRingCap {
		return
	}
	at := (s.w[offSpawnHead] + s.w[offSpawnCount]) % spawnRingCap
	s.w[offSpawnRing+at] = kind
	s.w[offSpawnCount]++
}

func (s *State) popSpawn() int32 {
	kind := s.w[offSpawnRing+s.w[offSpawnHead]]
	s.w[offSpawnHead] = (s.w[offSpawnHead] + 1) % spawnRingCap
	s.w[offSpawnCount]--
	return kind
}

// advanceSpawns materializes queued enemies onto spawn pads at a fixed
// cadence, one per interval, when a slot is free.
func (s *State) advanceSpawns(g *rng.RNG) {
	s.w[offSpawnTimer]--
	if s.w[offSpawnTimer] > 0 {
		return
	}
	s.w[offSpawnTimer] = spawnIntervalFrames
	if s.w[offSpawnCount] <= 0 {
		return
	}

	slot := -1
	for i := 0; i < MaxEnemies; i++ {
		if s.w[enemyIdx(i, fldActive)] == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return
	}

	kind := s.popSpawn()
	pad := enemyPads[g.Intn(len(enemyPads))]

	base := enemyIdx(slot, 0)
	for i := 0; i < enemyWords; i++ {
		s.w[base+i] = 0
	}
	s.w[base+fldActive] = 1
	s.w[base+fldX] = pad.x
	s.w[base+fldY] = pad.y
	s.w[base+fldPrevX] = pad.x
	s.w[base+fldPrevY] = pad.y
	s.w[base+fldMove] = MoveMaterializing
	s.w[base+fldTimer] = materializeFrames
	s.w[base+fldFacing] = 1
	s.w[base+fldKind] = kind

	ai := aiIdx(slot, 0)
	s.w[ai+aiKind] = kind
	s.w[ai+aiDir] = int32(g.Intn(2))*2 - 1
	s.w[ai+aiDirTimer] = 30 + int32(g.Intn(60))
	s.w[ai+aiAccum] = int32(g.Intn(100))
}

// advanceEggs runs the egg lifecycles: falling → rested → wobbling → hatch.
// A hatch queues a fresh enemy of the owner kind.
func (s *State) advanceEggs(g *rng.RNG) {
	for i := 0; i < MaxEggs; i++ {
		base := eggIdx(i, 0)
		switch s.w[base+eggState] {
		case EggFalling:
			vy := clamp32(s.w[base+eggVY]+fixed.Div60(gravity), -maxFallSpeed, maxFallSpeed)
			s.w[base+eggVY] = vy
			s.w[base+eggPrevX] = s.w[base+eggX]
			s.w[base+eggPrevY] = s.w[base+eggY]
			x := s.w[base+eggX] + fixed.Div60(s.w[base+eggVX])
			if x < 0 {
				x += screenW
			} else if x >= screenW {
				x -= screenW
			}
			y := s.w[base+eggY] + fixed.Div60(vy)
			prevY := s.w[base+eggPrevY]
			for _, p := range platforms {
				if x+eggW <= p.left || x >= p.right {
					continue
				}
				if vy >= 0 && prevY+eggH <= p.top && y+eggH >= p.top {
					y = p.top - eggH
					s.w[base+eggVX] = 0
					s.w[base+eggVY] = 0
					s.w[base+eggState] = EggRested
					s.w[base+eggTimer] = eggHatchFrames
					break
				}
			}
			s.w[base+eggX] = x
			s.w[base+eggY] = y
			if y+eggH >= lavaY {
				s.w[base+eggState] = EggInactive
			}
		case EggRested:
			s.w[base+eggTimer]--
			if s.w[base+eggTimer] <= 0 {
				s.w[base+eggState] = EggWobbling
				s.w[base+eggTimer] = eggWobbleFrames
			}
		case EggWobbling:
			s.w[base+eggTimer]--
			if s.w[base+eggTimer] <= 0 {
				s.w[base+eggState] = EggInactive
				s.pushSpawn(s.w[base+eggOwnerKind])
			}
		}
	}
}

// updateWave advances the wave machine and the game-over flag.
func (s *State) updateWave(g *rng.RNG) {
	s.updateGameOver()

	switch s.w[offWaveState] {
	case WaveIntro:
		s.w[offWaveTimer]--
		if s.w[offWaveTimer] <= 0 {
			s.queueWaveSpawns(g)
			s.w[offWaveState] = WaveSpawning
		}
	case WaveSpawning:
		if s.w[offSpawnCount] == 0 {
			s.w[offWaveState] = WaveActive
		}
	case WaveActive:
		if s.waveCleared() {
			for i := 0; i < MaxPlayers; i++ {
				p := s.playerRef(i)
				if p.active() && p.get(fldLives) > 0 {
					p.add(fldScore, clearBonus)
				}
			}
			s.w[offWaveState] = WaveCleared
			s.w[offWaveTimer] = waveClearedFrames
		}
	case WaveCleared:
		s.w[offWaveTimer]--
		if s.w[offWaveTimer] <= 0 {
			s.w[offWave]++
			s.w[offWaveState] = WaveIntro
			s.w[offWaveTimer] = waveIntroFrames
		}
	}
}

// queueWaveSpawns fills the spawn queue for the current wave. Later waves mix
// in hunters, then shadows.
func (s *State) queueWaveSpawns(g *rng.RNG) {
	wave := s.w[offWave]
	n := 3 + int(wave) - 1
	if n > MaxEnemies {
		n = MaxEnemies
	}
	for i := 0; i < n; i++ {
		roll := int32(g.Intn(100))
		kind := int32(KindBounder)
		if wave >= 4 && roll < 15 {
			kind = KindShadow
		} else if wave >= 2 && roll < 40 {
			kind = KindHunter
		}
		s.pushSpawn(kind)
	}
}

// waveCleared reports whether every enemy, queued spawn, and egg is gone.
func (s *State) waveCleared() bool {
	if s.w[offSpawnCount] != 0 {
		return false
	}
	for i := 0; i < MaxEnemies; i++ {
		if s.w[enemyIdx(i, fldActive)] != 0 {
			return false
		}
	}
	for i := 0; i < MaxEggs; i++ {
		if s.w[eggIdx(i, eggState)] != EggInactive {
			return false
		}
	}
	return true
}

// updateGameOver raises the game-over flag once every active player is out of
// lives and dead. The flag never clears inside a running state.
func (s *State) updateGameOver() {
	if s.w[offGameOver] != 0 {
		return
	}
	anyActive := false
	for i := 0; i < MaxPlayers; i++ {
		p := s.playerRef(i)
		if !p.active() {
			continue
		}
		anyActive = true
		if p.get(fldMove) != MoveDead || p.get(fldLives) > 0 {
			return
		}
	}
	if anyActive {
		s.w[offGameOver] = 1
	}
}
