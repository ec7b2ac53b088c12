package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tokenizer"
)

var (
	// ErrInvalidInput rejects empty or blank text before any model work.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotReady is returned outside the Ready state.
	ErrNotReady = errors.New("summarizer not ready")
	// ErrInvalidToken marks ids outside the vocabulary, including decoder
	// outputs that do not round to a valid id.
	ErrInvalidToken = tokenizer.ErrInvalidToken
	// ErrShapeMismatch marks tensors that do not fit a session signature.
	ErrShapeMismatch = session.ErrShapeMismatch
	// ErrEncodingFailed wraps failures of tokenization or the encoder run.
	ErrEncodingFailed = errors.New("encoding failed")
	// ErrDecodingFailed wraps failures of the decoder run or detokenization.
	ErrDecodingFailed = errors.New("decoding failed")
	// ErrResourceLoadFailed wraps construction failures.
	ErrResourceLoadFailed = errors.New("resource load failed")
)

// Stage names used in errors, logs, spans and metrics.
const (
	StageLoad       = "load"
	StageTokenize   = "tokenize"
	StageEncoder    = "encoder"
	StageDecoder    = "decoder"
	StageDetokenize = "detokenize"
)

// StageError ties a failure to the pipeline stage that produced it. Both Kind
// and the underlying cause are visible to errors.Is and errors.As.
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageError(stage string, kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// InvalidOutputError reports a decoder output element that cannot be read as
// a token id.
type InvalidOutputError struct {
	Index int
	Value float64
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("invalid token: decoder output[%d] = %v is not a token id", e.Index, e.Value)
}

func (e *InvalidOutputError) Unwrap() error { return ErrInvalidToken }

// Kind classifies err into the taxonomy, most specific first. It returns nil
// for errors outside the taxonomy, such as context cancellation.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidInput,
		ErrNotReady,
		ErrResourceLoadFailed,
		ErrInvalidToken,
		ErrShapeMismatch,
		ErrEncodingFailed,
		ErrDecodingFailed,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Status is a stable, low-cardinality label for the outcome of a call.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	switch Kind(err) {
	case ErrInvalidInput:
		return "invalid_input"
	case ErrNotReady:
		return "not_ready"
	case ErrResourceLoadFailed:
		return "resource_load_failed"
	case ErrInvalidToken:
		return "invalid_token"
	case ErrShapeMismatch:
		return "shape_mismatch"
	case ErrEncodingFailed:
		return "encoding_failed"
	case ErrDecodingFailed:
		return "decoding_failed"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
