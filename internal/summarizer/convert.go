package summarizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/summarizer/internal/logits"
	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tensor"
)

// TokenIDs reads every element of t as a token id. Float values are rounded
// to the nearest integer, halves away from zero. NaN, infinities and values
// that round below zero or beyond int32 are rejected with an error wrapping
// ErrInvalidToken.
func TokenIDs(t *tensor.Tensor) ([]int, error) {
	vals, err := t.AsFloat64s()
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &InvalidOutputError{Index: i, Value: v}
		}
		r := math.Round(v)
		if r < 0 || r > math.MaxInt32 {
			return nil, &InvalidOutputError{Index: i, Value: v}
		}
		ids[i] = int(r)
	}
	return ids, nil
}

// LogitIDs reads t as [..., vocab] scores and returns the highest-scoring id
// at each position.
func LogitIDs(t *tensor.Tensor, vocab int) ([]int, error) {
	shape := t.Shape()
	if shape.Rank() == 0 || shape[shape.Rank()-1] != int64(vocab) {
		return nil, &session.MismatchError{Input: t.Name(), Reason: fmt.Sprintf("scores %s, want last axis of %d", shape, vocab)}
	}
	scores, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	ids, err := logits.Greedy(scores, vocab)
	if err != nil {
		var ne *logits.NaNError
		if errors.As(err, &ne) {
			return nil, &InvalidOutputError{Index: ne.Row, Value: math.NaN()}
		}
		return nil, err
	}
	return ids, nil
}
