package points

import (
	"ctf_scoring/internal/domain/model"
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

type decayConfig struct {
	DecayConstant *float64 `json:"decay_constant"`
	MinPoints     *int     `json:"min_points"`
}

type decayCalculator struct {
	base       int
	decay      float64
	minPoints  int
	parseIssue *model.ConfigIssue
	valid      bool
}

func newDecay(ch *model.Challenge) Calculator {
	c := &decayCalculator{base: ch.Score}
	var cfg decayConfig
	c.parseIssue = decodeMetadata(ch.PointsMetadata, &cfg)
	if cfg.DecayConstant != nil && cfg.MinPoints != nil {
		c.decay = *cfg.DecayConstant
		c.minPoints = *cfg.MinPoints
		c.valid = c.decay > 0 && c.decay <= 1
	}
	return c
}

// ComputePoints is round(min + (base - min) * decay^max(n-1, 0)). The first and
// second solver both get the full base score.
func (c *decayCalculator) ComputePoints(priorSolves int) int {
	if !c.valid {
		return c.base
	}
	exp := priorSolves - 1
	if exp < 0 {
		exp = 0
	}
	raw := float64(c.minPoints) + float64(c.base-c.minPoints)*math.Pow(c.decay, float64(exp))
	return int(decimal.NewFromFloat(raw).RoundBank(0).IntPart())
}

// Recalculate prices every solve at what the most recent solver was charged,
// so all solvers of the challenge end up holding the same value.
func (c *decayCalculator) Recalculate(solves []model.SolveScore) []Adjustment {
	if len(solves) == 0 {
		return nil
	}
	ordered := make([]model.SolveScore, len(solves))
	copy(ordered, solves)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Solve.Timestamp.Before(ordered[j].Solve.Timestamp)
	})

	current := c.ComputePoints(len(ordered) - 1)
	var out []Adjustment
	for _, s := range ordered {
		if s.Score.Points != current {
			out = append(out, Adjustment{Solve: s, NewPoints: current})
		}
	}
	return out
}

func (c *decayCalculator) SelfCheck() []model.ConfigIssue {
	var found []model.ConfigIssue
	if c.parseIssue != nil {
		found = append(found, *c.parseIssue)
	}
	if c.decay <= 0 || c.decay > 1 {
		found = append(found, model.ConfigIssue{Field: "decay_constant", Message: "decay_constant must be in (0, 1]"})
	}
	if c.minPoints < 0 || c.minPoints > c.base {
		found = append(found, model.ConfigIssue{Field: "min_points", Message: "min_points must be between 0 and the challenge score"})
	}
	return found
}
