package points

import "ctf_scoring/internal/domain/model"

type basicCalculator struct {
	score int
}

func newBasic(ch *model.Challenge) Calculator {
	return &basicCalculator{score: ch.Score}
}

func (c *basicCalculator) ComputePoints(int) int { return c.score }

func (c *basicCalculator) SelfCheck() []model.ConfigIssue {
	if c.score < 0 {
		return []model.ConfigIssue{{Field: "score", Message: "score is negative"}}
	}
	return nil
}
