package encounter

import (
	"math"
	"sort"

	"raidboard/pkg/types"
)

// DistributeRewards splits band among alive members proportionally to their
// contribution. Every alive member receives at least minShare of an equal
// split. Gold and XP payouts always sum to exactly the band; when the band
// holds at least one unit per member, every member gets at least 1.
func DistributeRewards(members []types.Member, band types.RewardBand, minShare float64) []types.RewardShare {
	alive := make([]types.Member, 0, len(members))
	total := 0.0
	for _, m := range members {
		if m.Status != types.MemberAlive {
			continue
		}
		alive = append(alive, m)
		total += m.Contribution.Total()
	}
	if len(alive) == 0 {
		return nil
	}

	n := float64(len(alive))
	floor := minShare / n
	remainder := 1 - floor*n

	weights := make([]float64, len(alive))
	for i, m := range alive {
		weight := 1 / n
		if total > 0 {
			weight = m.Contribution.Total() / total
		}
		weights[i] = floor + remainder*weight
	}

	gold := apportion(band.Gold, weights)
	xp := apportion(band.XP, weights)

	shares := make([]types.RewardShare, 0, len(alive))
	for i, m := range alive {
		shares = append(shares, types.RewardShare{
			PlayerID: m.PlayerID,
			Share:    weights[i],
			Gold:     gold[i],
			XP:       xp[i],
		})
	}
	return shares
}

// apportion splits pool by weights with the largest remainder method, so the
// parts sum to pool. Members rounded down to zero are topped up to 1 from the
// largest part when the pool allows it.
func apportion(pool int64, weights []float64) []int64 {
	parts := make([]int64, len(weights))
	if pool <= 0 {
		return parts
	}

	type fraction struct {
		index int
		rest  float64
	}
	fractions := make([]fraction, len(weights))
	assigned := int64(0)
	for i, w := range weights {
		exact := float64(pool) * w
		parts[i] = int64(math.Floor(exact))
		assigned += parts[i]
		fractions[i] = fraction{index: i, rest: exact - float64(parts[i])}
	}

	sort.SliceStable(fractions, func(a, b int) bool {
		return fractions[a].rest > fractions[b].rest
	})
	for i := 0; assigned < pool; i = (i + 1) % len(fractions) {
		parts[fractions[i].index]++
		assigned++
	}
	// Float error can overshoot by a unit; take it back from the largest part
	for assigned > pool {
		parts[largest(parts)]--
		assigned--
	}

	if pool < int64(len(parts)) {
		return parts
	}
	for i := range parts {
		if parts[i] == 0 {
			parts[largest(parts)]--
			parts[i] = 1
		}
	}
	return parts
}

func largest(parts []int64) int {
	best := 0
	for i, p := range parts {
		if p > parts[best] {
			best = i
		}
	}
	return best
}
