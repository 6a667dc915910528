// Package encounter simulates a raid encounter phase by phase.
//
// Resolution is deterministic for a given seed: every random draw goes
// through a Random created from that seed, in a fixed order per phase
// (damage variance, casualty roll, casualty pick).
package encounter

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"raidboard/pkg/types"
)

// Random is the subset of *rand.Rand the resolver draws from
type Random interface {
	Float64() float64
	Intn(n int) int
}

// Config tunes the simulation
type Config struct {
	// DamageScale multiplies aggregate strength into per-phase boss damage
	DamageScale float64
	// Variance bounds the random damage factor to [1-Variance, 1+Variance]
	Variance float64
	// BaseCasualty is the per-phase chance of a member going down when the
	// party strength equals ReferenceStrength at tier 1
	BaseCasualty      float64
	ReferenceStrength float64
	MaxCasualty       float64
	// MinShare is the reward floor as a fraction of an equal split
	MinShare float64
}

// DefaultConfig returns the production tuning
func DefaultConfig() Config {
	return Config{
		DamageScale:       1.0,
		Variance:          0.2,
		BaseCasualty:      0.15,
		ReferenceStrength: 150,
		MaxCasualty:       0.75,
		MinShare:          0.05,
	}
}

// Validate ensures the tuning keeps every probability and share in range
func (c Config) Validate() error {
	if c.DamageScale <= 0 {
		return fmt.Errorf("damage scale must be positive")
	}
	if c.Variance < 0 || c.Variance >= 1 {
		return fmt.Errorf("variance must be in [0, 1)")
	}
	if c.BaseCasualty < 0 || c.MaxCasualty < 0 || c.MaxCasualty > 1 {
		return fmt.Errorf("casualty chances must be in [0, 1]")
	}
	if c.ReferenceStrength <= 0 {
		return fmt.Errorf("reference strength must be positive")
	}
	if c.MinShare <= 0 || c.MinShare > 1 {
		return fmt.Errorf("minimum share must be in (0, 1]")
	}
	return nil
}

// Resolver runs encounters
type Resolver struct {
	config  Config
	newRand func(seed int64) Random
}

// NewResolver creates a resolver seeded from math/rand sources
func NewResolver(config Config) *Resolver {
	return &Resolver{
		config: config,
		newRand: func(seed int64) Random {
			return rand.New(rand.NewSource(seed))
		},
	}
}

// SetRandomSource replaces the per-seed random factory
func (r *Resolver) SetRandomSource(factory func(seed int64) Random) {
	r.newRand = factory
}

// NewSeed generates a high-entropy seed for one encounter
func (r *Resolver) NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// DifficultyMultiplier maps a difficulty tier to its boss scaling
func DifficultyMultiplier(tier int) float64 {
	switch tier {
	case 1:
		return 1.0
	case 2:
		return 1.25
	case 3:
		return 1.5
	case 4:
		return 2.0
	default:
		return 1.0
	}
}

// Resolve simulates the encounter for an in-progress session, mutating its
// progress, member statuses and contributions, and setting its terminal status.
// players must hold a record for every member.
//
// Each phase costs Duration/Phases of simulated time, so exhausting the phases
// is the dungeon's time limit and ElapsedTime never exceeds Duration.
func (r *Resolver) Resolve(session *types.Session, dungeon *types.DungeonSpec, players map[string]*types.PlayerRecord, seed int64) *types.Outcome {
	rng := r.newRand(seed)
	multiplier := DifficultyMultiplier(session.Settings.DifficultyTier)
	phaseDuration := dungeon.Duration / time.Duration(dungeon.Boss.Phases)

	session.Progress = types.Progress{
		BossResourceRemaining: dungeon.Boss.Resource,
		PlayersAlive:          session.AliveCount(),
	}

	for phase := 1; phase <= dungeon.Boss.Phases; phase++ {
		if session.Progress.BossResourceRemaining <= 0 || session.Progress.PlayersAlive == 0 {
			break
		}
		session.Progress.CurrentPhase = phase
		session.Progress.ElapsedTime += phaseDuration

		strength := r.partyStrength(session, players)

		// Damage roll: strength * DamageScale / multiplier, jittered by Variance
		jitter := 1 + r.config.Variance*(2*rng.Float64()-1)
		damage := strength * r.config.DamageScale / multiplier * jitter
		if damage > session.Progress.BossResourceRemaining {
			damage = session.Progress.BossResourceRemaining
		}
		r.creditDamage(session, players, strength, damage)
		session.Progress.BossResourceRemaining -= damage
		if session.Progress.BossResourceRemaining <= 0 {
			session.Progress.BossResourceRemaining = 0
			break
		}

		// Casualty roll, scaled inversely with strength
		chance := r.config.BaseCasualty * multiplier * r.config.ReferenceStrength / strength
		chance = math.Min(chance, r.config.MaxCasualty)
		if rng.Float64() < chance {
			r.downMember(session, rng)
		}
		session.Progress.PlayersAlive = session.AliveCount()
	}

	outcome := &types.Outcome{
		SessionID:             session.ID,
		PhasesFought:          session.Progress.CurrentPhase,
		BossResourceRemaining: session.Progress.BossResourceRemaining,
		PlayersAlive:          session.Progress.PlayersAlive,
		Seed:                  seed,
	}

	if session.Progress.BossResourceRemaining <= 0 {
		session.Status = types.StatusCompleted
		outcome.Rewards = DistributeRewards(session.Members, dungeon.RewardFor(session.Settings.DifficultyTier), r.config.MinShare)
	} else {
		session.Status = types.StatusFailed
	}
	outcome.Status = session.Status

	log.Printf("Resolved encounter: session=%s dungeon=%s status=%s phases=%d remaining=%.1f alive=%d",
		session.ID, dungeon.ID, outcome.Status, outcome.PhasesFought, outcome.BossResourceRemaining, outcome.PlayersAlive)
	return outcome
}

func (r *Resolver) partyStrength(session *types.Session, players map[string]*types.PlayerRecord) float64 {
	total := 0.0
	for _, m := range session.Members {
		if m.Status != types.MemberAlive {
			continue
		}
		total += memberStrength(players[m.PlayerID])
	}
	return math.Max(total, 1)
}

// creditDamage splits a phase's damage across alive members by strength and
// books each portion as damage, healing or utility by the member's stat mix
func (r *Resolver) creditDamage(session *types.Session, players map[string]*types.PlayerRecord, strength, damage float64) {
	for i := range session.Members {
		m := &session.Members[i]
		if m.Status != types.MemberAlive {
			continue
		}
		p := players[m.PlayerID]
		own := memberStrength(p)
		portion := damage * own / strength
		if p == nil {
			m.Contribution.Utility += portion
			continue
		}
		m.Contribution.Damage += portion * float64(p.Attack) / own
		m.Contribution.Healing += portion * float64(p.Support) / own
		m.Contribution.Utility += portion * float64(p.Defense+p.Level) / own
	}
}

func (r *Resolver) downMember(session *types.Session, rng Random) {
	alive := make([]int, 0, len(session.Members))
	for i, m := range session.Members {
		if m.Status == types.MemberAlive {
			alive = append(alive, i)
		}
	}
	if len(alive) == 0 {
		return
	}
	session.Members[alive[rng.Intn(len(alive))]].Status = types.MemberDowned
}

func memberStrength(p *types.PlayerRecord) float64 {
	if p == nil {
		return 1
	}
	return math.Max(p.Strength(), 1)
}
