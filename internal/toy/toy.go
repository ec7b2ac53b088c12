// Package toy provides an in-memory tokenizer and identity sessions that
// stand in for real model artifacts in tests and the CLI demo mode.
package toy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/tokenizer"
)

// Vocabulary is the five-word vocabulary plus an unknown-word entry.
func Vocabulary() map[string]int {
	return map[string]int{"<unk>": 0, "the": 1, "cat": 2, "sat": 3, "mat": 4, ".": 5}
}

// Tokenizer returns a word-level tokenizer over Vocabulary.
func Tokenizer() *tokenizer.Vocab {
	v, err := tokenizer.NewVocab(Vocabulary())
	if err != nil {
		panic(err)
	}
	return v
}

// Identity is a session whose outputs hold the same values and shape as its
// single input, converted to each output's declared dtype. Failures can be
// injected for testing error paths.
type Identity struct {
	in      session.IOInfo
	outs    []session.IOInfo
	tracker *tensor.Tracker
	// scores > 0 expands float32 outputs to one-hot rows of that width.
	scores int

	mu        sync.Mutex
	fail      error
	panicWith any
	closed    bool

	runs   atomic.Int64
	closes atomic.Int64
}

var _ session.Session = (*Identity)(nil)

// NewIdentity declares one input and at least one output. Outputs are counted
// in tr.
func NewIdentity(in session.IOInfo, tr *tensor.Tracker, outs ...session.IOInfo) *Identity {
	if len(outs) == 0 {
		outs = []session.IOInfo{{Name: "output", Shape: in.Shape.Clone(), DType: in.DType}}
	}
	return &Identity{in: in, outs: outs, tracker: tr}
}

// Encoder mirrors an encoder graph: int64 input_ids in, float32 hidden states
// out.
func Encoder(tr *tensor.Tracker) *Identity {
	return NewIdentity(
		session.IOInfo{Name: "input_ids", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Int64},
		tr,
		session.IOInfo{Name: "last_hidden_state", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Float32},
	)
}

// Decoder mirrors a decoder graph fed directly with encoder hidden states.
func Decoder(tr *tensor.Tracker) *Identity {
	return NewIdentity(
		session.IOInfo{Name: "encoder_hidden_states", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Float32},
		tr,
		session.IOInfo{Name: "logits", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Float32},
	)
}

// ScoringDecoder mirrors a decoder graph that emits a score per vocabulary
// entry at each position. The input value at each position, rounded, gets
// score 1 and every other entry 0.
func ScoringDecoder(tr *tensor.Tracker, vocab int) *Identity {
	s := NewIdentity(
		session.IOInfo{Name: "encoder_hidden_states", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Float32},
		tr,
		session.IOInfo{Name: "logits", Shape: tensor.Shape{1, tensor.Dynamic, int64(vocab)}, DType: tensor.Float32},
	)
	s.scores = vocab
	return s
}

// FailWith makes subsequent runs return err. nil clears the fault.
func (s *Identity) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// PanicWith makes subsequent runs panic with v.
func (s *Identity) PanicWith(v any) {
	s.mu.Lock()
	s.panicWith = v
	s.mu.Unlock()
}

// Runs counts Run calls that reached the session.
func (s *Identity) Runs() int64 { return s.runs.Load() }

// Closes counts Close calls.
func (s *Identity) Closes() int64 { return s.closes.Load() }

func (s *Identity) Inputs() []session.IOInfo { return []session.IOInfo{s.in} }

func (s *Identity) Outputs() []session.IOInfo {
	return append([]session.IOInfo(nil), s.outs...)
}

func (s *Identity) Run(_ context.Context, inputs tensor.Map) (tensor.Map, error) {
	s.runs.Add(1)
	s.mu.Lock()
	fail, panicWith, closed := s.fail, s.panicWith, s.closed
	s.mu.Unlock()
	if closed {
		return nil, session.ErrClosed
	}
	if err := session.ValidateInputs(s.Inputs(), inputs); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}
	if panicWith != nil {
		panic(panicWith)
	}

	src := inputs[s.in.Name]
	out := make(tensor.Map, len(s.outs))
	for _, info := range s.outs {
		t, err := s.convert(src, info)
		if err != nil {
			return nil, errors.Join(err, out.Release())
		}
		out[info.Name] = t
	}
	return out, nil
}

func (s *Identity) convert(src *tensor.Tensor, info session.IOInfo) (*tensor.Tensor, error) {
	switch info.DType {
	case tensor.Float32, tensor.Invalid:
		if s.scores > 0 {
			return s.oneHot(src, info.Name)
		}
		return src.Float32View(info.Name, src.Shape(), tensor.TrackedBy(s.tracker))
	case tensor.Int64:
		vals, err := src.AsFloat64s()
		if err != nil {
			return nil, err
		}
		data := make([]int64, len(vals))
		for i, v := range vals {
			data[i] = int64(v)
		}
		return tensor.WrapInt64(info.Name, src.Shape(), data, tensor.TrackedBy(s.tracker))
	default:
		return nil, fmt.Errorf("toy: unsupported output dtype %s", info.DType)
	}
}

func (s *Identity) oneHot(src *tensor.Tensor, name string) (*tensor.Tensor, error) {
	vals, err := src.AsFloat64s()
	if err != nil {
		return nil, err
	}
	data := make([]float32, len(vals)*s.scores)
	for i, v := range vals {
		id := int(math.Round(v))
		if id < 0 || id >= s.scores {
			return nil, fmt.Errorf("toy: position %d value %v outside %d scores", i, v, s.scores)
		}
		data[i*s.scores+id] = 1
	}
	shape := append(src.Shape(), int64(s.scores))
	return tensor.WrapFloat32(name, shape, data, tensor.TrackedBy(s.tracker))
}

func (s *Identity) Close() error {
	s.closes.Add(1)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
