// Package score derives point values from the answer ledger. Scores are
// never stored; calling these functions twice with the same inputs always
// yields the same result.
package score

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/openquiz/bigbrain/internal/domain"
)

// minSpeedFactor is the floor of the speed multiplier: even an answer given
// in the last moment of the window keeps 10% of the question's points.
var minSpeedFactor = decimal.NewFromFloat(0.1)

// Correct reports whether the selection matches the question's correct set
// exactly. A multiple-choice answer missing one correct option, or carrying
// one extra incorrect option, is wrong; there is no partial credit.
func Correct(q domain.Question, selected []int) bool {
	want := q.CorrectIndices()
	if len(selected) != len(want) {
		return false
	}

	set := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		set[idx] = struct{}{}
	}
	for _, idx := range want {
		if _, ok := set[idx]; !ok {
			return false
		}
	}
	return len(set) == len(want)
}

// Score computes the points for one submitted answer:
//
//	round(points * max(0.1, (duration - elapsed) / duration))
//
// when the selection is correct, 0 otherwise. Elapsed is measured from the
// question's start timestamp and clamped to [0, duration].
func Score(q domain.Question, sub domain.SubmittedAnswer, questionStart time.Time) int {
	if !Correct(q, sub.Selected) {
		return 0
	}

	factor := SpeedFactor(q.Duration, ElapsedSeconds(questionStart, sub.SubmittedAt, q.Duration))
	return int(decimal.NewFromInt(int64(q.Points)).Mul(factor).Round(0).IntPart())
}

// ElapsedSeconds returns the seconds between a question's start and the
// submission, clamped to [0, duration].
func ElapsedSeconds(questionStart, submittedAt time.Time, duration int) float64 {
	elapsed := submittedAt.Sub(questionStart).Seconds()
	if elapsed < 0 {
		return 0
	}
	if max := float64(duration); elapsed > max {
		return max
	}
	return elapsed
}

// SpeedFactor is the multiplier in [0.1, 1.0] rewarding faster answers.
func SpeedFactor(duration int, elapsed float64) decimal.Decimal {
	d := decimal.NewFromInt(int64(duration))
	factor := d.Sub(decimal.NewFromFloat(elapsed)).Div(d)
	if factor.LessThan(minSpeedFactor) {
		return minSpeedFactor
	}
	return factor
}
