// Package logits reduces per-position vocabulary scores to token ids.
package logits

import (
	"errors"
	"fmt"
	"math"
)

var ErrEmpty = errors.New("logits: empty row")

// NaNError reports a row whose scores include NaN.
type NaNError struct {
	Row int
}

func (e *NaNError) Error() string {
	return fmt.Sprintf("logits: row %d contains NaN", e.Row)
}

// Argmax returns the index of the largest value in x. Ties resolve to the
// lowest index so that the result is deterministic.
func Argmax(x []float32) (int, error) {
	if len(x) == 0 {
		return 0, ErrEmpty
	}
	bestI := 0
	bestV := x[0]
	if isNaN(bestV) {
		return 0, &NaNError{}
	}
	for i := 1; i < len(x); i++ {
		if isNaN(x[i]) {
			return 0, &NaNError{}
		}
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI, nil
}

// Greedy splits data into rows of width scores and returns the argmax of
// each row.
func Greedy(data []float32, width int) ([]int, error) {
	if width <= 0 {
		return nil, fmt.Errorf("logits: row width %d", width)
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("logits: %d scores do not divide into rows of %d", len(data), width)
	}
	rows := len(data) / width
	ids := make([]int, rows)
	for r := range rows {
		id, err := Argmax(data[r*width : (r+1)*width])
		if err != nil {
			var ne *NaNError
			if errors.As(err, &ne) {
				ne.Row = r
			}
			return nil, err
		}
		ids[r] = id
	}
	return ids, nil
}

func isNaN(v float32) bool {
	return math.IsNaN(float64(v))
}
