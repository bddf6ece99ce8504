package points

import (
	"ctf_scoring/internal/common"
	"ctf_scoring/internal/domain/model"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decayChallenge(score int, metadata string) *model.Challenge {
	return &model.Challenge{ID: 3, Score: score, PointsType: model.PointsTypeDecay, PointsMetadata: json.RawMessage(metadata)}
}

func calculatorFor(t *testing.T, ch *model.Challenge) Calculator {
	t.Helper()
	c, err := NewRegistry().Calculator(ch)
	require.NoError(t, err)
	return c
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"basic", "decay"}, r.Types())
	assert.True(t, r.Has(model.PointsTypeBasic))

	_, err := r.Calculator(&model.Challenge{ID: 1, PointsType: "auction"})
	require.True(t, errors.Is(err, common.ErrConfigurationInvalid))
}

func TestBasic(t *testing.T) {
	c := calculatorFor(t, &model.Challenge{Score: 250, PointsType: model.PointsTypeBasic})
	for _, n := range []int{0, 1, 10, 1000} {
		assert.Equal(t, 250, c.ComputePoints(n))
	}
	assert.Empty(t, c.SelfCheck())
	_, dynamic := c.(Dynamic)
	assert.False(t, dynamic)
}

func TestDecayCurve(t *testing.T) {
	c := calculatorFor(t, decayChallenge(500, `{"decay_constant":0.8,"min_points":100}`))
	assert.Empty(t, c.SelfCheck())

	assert.Equal(t, 500, c.ComputePoints(0))
	assert.Equal(t, 500, c.ComputePoints(1))
	assert.Equal(t, 420, c.ComputePoints(2))
	assert.Equal(t, 356, c.ComputePoints(3))

	prev := c.ComputePoints(1)
	for n := 2; n < 15; n++ {
		cur := c.ComputePoints(n)
		assert.True(t, cur < prev, "price must fall at n=%d", n)
		prev = cur
	}
	for n := 0; n < 500; n++ {
		assert.True(t, c.ComputePoints(n) >= 100)
	}
	assert.Equal(t, 100, c.ComputePoints(400))
}

func TestDecayRoundsHalfToEven(t *testing.T) {
	// 0 + 5 * 0.5 = 2.5
	c := calculatorFor(t, decayChallenge(5, `{"decay_constant":0.5,"min_points":0}`))
	assert.Equal(t, 2, c.ComputePoints(2))
	// 0 + 7 * 0.5 = 3.5
	c = calculatorFor(t, decayChallenge(7, `{"decay_constant":0.5,"min_points":0}`))
	assert.Equal(t, 4, c.ComputePoints(2))
}

func TestDecayInvalidConfigFallsBackToBase(t *testing.T) {
	for _, metadata := range []string{``, `{}`, `{"decay_constant":0,"min_points":10}`, `{"decay_constant":1.5,"min_points":10}`} {
		c := calculatorFor(t, decayChallenge(300, metadata))
		assert.Equal(t, 300, c.ComputePoints(5), metadata)
		assert.NotEmpty(t, c.SelfCheck(), metadata)
	}
}

func TestDecayRecalculate(t *testing.T) {
	c := calculatorFor(t, decayChallenge(500, `{"decay_constant":0.8,"min_points":100}`))
	d, ok := c.(Dynamic)
	require.True(t, ok)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	solves := []model.SolveScore{
		{Solve: model.Solve{ID: 1, Timestamp: base}, Score: model.Score{ID: 11, Points: 500}},
		{Solve: model.Solve{ID: 2, Timestamp: base.Add(time.Minute)}, Score: model.Score{ID: 12, Points: 500}},
		{Solve: model.Solve{ID: 3, Timestamp: base.Add(2 * time.Minute)}, Score: model.Score{ID: 13, Points: 420}},
	}
	adjustments := d.Recalculate(solves)
	require.Len(t, adjustments, 2)
	for _, a := range adjustments {
		assert.Equal(t, 420, a.NewPoints)
		assert.Equal(t, -80, a.Delta())
	}

	for i := range solves {
		solves[i].Score.Points = 420
	}
	assert.Empty(t, d.Recalculate(solves))
	assert.Empty(t, d.Recalculate(nil))
}
