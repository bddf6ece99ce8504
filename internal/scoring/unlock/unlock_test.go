package unlock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		solved []int64
		want   bool
	}{
		{"empty is unlocked", "", nil, true},
		{"whitespace is unlocked", "   ", []int64{1}, true},
		{"and both solved", "3 4 AND", []int64{3, 4}, true},
		{"and one solved", "3 4 AND", []int64{3}, false},
		{"or one solved", "1 2 OR", []int64{2}, true},
		{"or none solved", "1 2 OR", nil, false},
		{"lone operator", "OR", nil, false},
		{"operator short of operands is skipped", "5 AND", []int64{5}, true},
		{"single id solved", "9", []int64{9}, true},
		{"single id unsolved", "9", []int64{1}, false},
		{"nested", "1 2 AND 3 OR", []int64{3}, true},
		{"nested unsolved", "1 2 OR 3 AND", []int64{1}, false},
		{"unknown tokens ignored", "x 1 y", []int64{1}, true},
		{"only unknown tokens", "foo bar", nil, false},
		{"top of stack wins", "1 2", []int64{1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Evaluate(tt.expr, SolvedSet(tt.solved)))
		})
	}
}

func TestEvaluateEmptyExpressionIgnoresSolvedSet(t *testing.T) {
	for _, solved := range [][]int64{nil, {}, {1, 2, 3}} {
		require.True(t, Evaluate("", SolvedSet(solved)))
	}
	require.True(t, Evaluate("", nil))
}

func TestEvaluateFor(t *testing.T) {
	team := "team-1"
	empty := ""

	require.False(t, EvaluateFor(nil, true, "", nil))
	require.False(t, EvaluateFor(&Requester{}, false, "", nil))
	require.False(t, EvaluateFor(&Requester{UserID: "u"}, true, "", nil))
	require.False(t, EvaluateFor(&Requester{UserID: "u", TeamID: &empty}, true, "", nil))
	require.True(t, EvaluateFor(&Requester{UserID: "u"}, false, "", nil))
	require.True(t, EvaluateFor(&Requester{UserID: "u", TeamID: &team}, true, "1", SolvedSet([]int64{1})))
}
