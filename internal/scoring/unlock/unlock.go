// Package unlock evaluates challenge unlock requirements.
//
// Requirements are written in postfix notation over challenge ids, e.g. "3 4 AND 7 OR".
package unlock

import (
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
)

const (
	opAnd = "AND"
	opOr  = "OR"
)

// SolvedSet builds the set of solved challenge ids the evaluator consumes.
func SolvedSet(ids []int64) mapset.Set {
	set := mapset.NewThreadUnsafeSet()
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

// Evaluate reports whether a challenge guarded by expr is reachable given the solved set.
// It never fails: malformed input degrades to locked.
func Evaluate(expr string, solved mapset.Set) bool {
	tokens := strings.Fields(expr)
	if len(tokens) == 0 {
		return true
	}

	stack := make([]bool, 0, len(tokens))
	for _, token := range tokens {
		switch token {
		case opAnd, opOr:
			if len(stack) < 2 {
				continue
			}
			a, b := stack[len(stack)-1], stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			if token == opAnd {
				stack = append(stack, a && b)
			} else {
				stack = append(stack, a || b)
			}
		default:
			id, err := strconv.ParseInt(token, 10, 64)
			if err != nil {
				continue
			}
			stack = append(stack, solved != nil && solved.Contains(id))
		}
	}

	if len(stack) == 0 {
		return false
	}
	return stack[len(stack)-1]
}

// Requester is who is asking. A nil requester, or one without a team when teams are
// required, never unlocks anything.
type Requester struct {
	UserID string
	TeamID *string
}

// EvaluateFor applies the requester rules before evaluating expr.
func EvaluateFor(r *Requester, teamsEnabled bool, expr string, solved mapset.Set) bool {
	if r == nil || r.UserID == "" {
		return false
	}
	if teamsEnabled && (r.TeamID == nil || *r.TeamID == "") {
		return false
	}
	return Evaluate(expr, solved)
}
