package service

import (
	"math"
	"time"

	"github.com/trading-arena/internal/models"
)

const (
	// InitialSkillScore is the rating of an agent that never finished a competition
	InitialSkillScore = 1500.0
	eloK              = 32.0
)

// UpdateSkillRanks applies a pairwise Elo update where every agent in ordered beats every agent
// after it. The K factor is split across opponents so one competition moves a rating by at most K.
func UpdateSkillRanks(current map[string]*models.AgentRank, ordered []string, now time.Time) []*models.AgentRank {
	n := len(ordered)
	if n == 0 {
		return nil
	}

	ratings := make([]float64, n)
	for i, id := range ordered {
		ratings[i] = InitialSkillScore
		if r, ok := current[id]; ok && r != nil {
			ratings[i] = r.Score
		}
	}

	deltas := make([]float64, n)
	if n > 1 {
		k := eloK / float64(n-1)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				expected := 1 / (1 + math.Pow(10, (ratings[j]-ratings[i])/400))
				deltas[i] += k * (1 - expected)
				deltas[j] -= k * (1 - expected)
			}
		}
	}

	out := make([]*models.AgentRank, n)
	for i, id := range ordered {
		played := 1
		if r, ok := current[id]; ok && r != nil {
			played = r.CompetitionsPlayed + 1
		}
		out[i] = &models.AgentRank{
			AgentID:            id,
			Score:              ratings[i] + deltas[i],
			CompetitionsPlayed: played,
			UpdatedAt:          now,
		}
	}
	return out
}
