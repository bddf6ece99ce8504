// Package points holds the points calculators and the registry that maps a
// challenge's points_type to one of them.
package points

import (
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Calculator prices a correct solve. priorSolves is the number of correct solves
// already recorded for the challenge when this one is scored.
type Calculator interface {
	ComputePoints(priorSolves int) int
	SelfCheck() []model.ConfigIssue
}

// Adjustment is the corrected value for one existing solve.
type Adjustment struct {
	Solve     model.SolveScore
	NewPoints int
}

// Delta is how far the score row moves.
func (a Adjustment) Delta() int { return a.NewPoints - a.Solve.Score.Points }

// Dynamic calculators price depends on how many teams solved the challenge, so
// earlier awards have to be re-priced when that count changes.
type Dynamic interface {
	Calculator
	Recalculate(solves []model.SolveScore) []Adjustment
}

type Factory func(ch *model.Challenge) Calculator

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(model.PointsTypeBasic, newBasic)
	r.Register(model.PointsTypeDecay, newDecay)
	return r
}

func (r *Registry) Register(pointsType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[pointsType] = f
}

func (r *Registry) Has(pointsType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[pointsType]
	return ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) Calculator(ch *model.Challenge) (Calculator, error) {
	r.mu.RLock()
	f, ok := r.factories[ch.PointsType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("challenge %d has unknown points type %q: %w", ch.ID, ch.PointsType, common.ErrConfigurationInvalid)
	}
	return f(ch), nil
}

func decodeMetadata(metadata json.RawMessage, target interface{}) *model.ConfigIssue {
	if len(metadata) == 0 {
		return &model.ConfigIssue{Field: "points_metadata", Message: "metadata is missing"}
	}
	if err := json.Unmarshal(metadata, target); err != nil {
		return &model.ConfigIssue{Field: "points_metadata", Message: "metadata is malformed: " + err.Error()}
	}
	return nil
}
