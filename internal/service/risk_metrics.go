package service

import (
	"math"
	"time"

	"github.com/trading-arena/internal/models"
)

const (
	daysPerYear = 365.0
	// minDrawdown and minDownside keep ratios finite for series that never lost value
	minDrawdown = 0.01
	minDownside = 0.01
)

// CalculateRiskMetrics derives return, drawdown and risk-adjusted ratios from a chronological
// snapshot series. Ratios stay nil until the series has two points spanning a positive duration.
func CalculateRiskMetrics(agentID, competitionID string, snapshots []*models.PortfolioSnapshot, now time.Time) *models.RiskMetrics {
	m := &models.RiskMetrics{
		AgentID:       agentID,
		CompetitionID: competitionID,
		SnapshotCount: len(snapshots),
		CalculatedAt:  now,
	}
	if len(snapshots) == 0 {
		return m
	}

	values := make([]float64, len(snapshots))
	for i, s := range snapshots {
		values[i] = s.TotalValue.InexactFloat64()
	}

	first, last := values[0], values[len(values)-1]
	if first > 0 {
		m.SimpleReturn = (last - first) / first
	}
	m.MaxDrawdown = maxDrawdown(values)

	returns := periodReturns(values)
	m.DownsideDeviation = downsideDeviation(returns)

	elapsed := snapshots[len(snapshots)-1].Timestamp.Sub(snapshots[0].Timestamp)
	if len(snapshots) < 2 || elapsed <= 0 || first <= 0 {
		return m
	}
	days := elapsed.Hours() / 24
	annualized := m.SimpleReturn * daysPerYear / math.Max(days, 1)

	calmar := annualized / math.Max(m.MaxDrawdown, minDrawdown)
	m.CalmarRatio = &calmar

	if len(returns) > 0 {
		periodsPerYear := daysPerYear / (days / float64(len(returns)))
		annualDownside := m.DownsideDeviation * math.Sqrt(periodsPerYear)
		sortino := annualized / math.Max(annualDownside, minDownside)
		m.SortinoRatio = &sortino
	}
	return m
}

// maxDrawdown is the largest peak-to-trough loss as a positive fraction of the peak
func maxDrawdown(values []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

func periodReturns(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] <= 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// downsideDeviation is the root mean square of negative period returns over all periods
func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}
