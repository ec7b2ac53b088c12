// Package session wraps loaded computation graphs behind a small Run
// contract: named input tensors in, named output tensors out.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/summarizer/internal/tensor"
)

var (
	ErrShapeMismatch = errors.New("shape mismatch")
	ErrClosed        = errors.New("session closed")
)

// IOInfo describes one declared graph input or output. Dynamic dimensions
// are tensor.Dynamic.
type IOInfo struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DType
}

func (i IOInfo) String() string {
	return fmt.Sprintf("%s %s %s", i.Name, i.DType, i.Shape)
}

// Session runs a fixed graph.
//
// Run must not retain inputs. Every tensor in the returned map is owned by
// the caller and must be released. When Run fails it returns a nil map and
// has already released anything it allocated.
type Session interface {
	Run(ctx context.Context, inputs tensor.Map) (tensor.Map, error)
	Inputs() []IOInfo
	Outputs() []IOInfo
	Close() error
}

// MismatchError reports an input that does not fit the graph signature.
type MismatchError struct {
	Input  string
	Reason string
}

func (e *MismatchError) Error() string {
	if e.Input == "" {
		return "shape mismatch: " + e.Reason
	}
	return fmt.Sprintf("shape mismatch: input %q: %s", e.Input, e.Reason)
}

func (e *MismatchError) Unwrap() error {
	return ErrShapeMismatch
}

// ValidateInputs checks that inputs carries exactly the declared names with
// matching dtype and shape.
func ValidateInputs(declared []IOInfo, inputs tensor.Map) error {
	if len(inputs) != len(declared) {
		return &MismatchError{Reason: fmt.Sprintf("got inputs %v, want %v", inputs.Names(), names(declared))}
	}
	for _, info := range declared {
		t, ok := inputs[info.Name]
		if !ok || t == nil {
			return &MismatchError{Input: info.Name, Reason: fmt.Sprintf("missing (got %v)", inputs.Names())}
		}
		if t.Released() {
			return &MismatchError{Input: info.Name, Reason: "tensor already released"}
		}
		if info.DType != tensor.Invalid && t.DType() != info.DType {
			return &MismatchError{Input: info.Name, Reason: fmt.Sprintf("dtype %s, want %s", t.DType(), info.DType)}
		}
		if info.Shape != nil && !t.Shape().Matches(info.Shape) {
			return &MismatchError{Input: info.Name, Reason: fmt.Sprintf("shape %s, want %s", t.Shape(), info.Shape)}
		}
	}
	return nil
}

// Lookup returns the declared info named name.
func Lookup(infos []IOInfo, name string) (IOInfo, bool) {
	i := slices.IndexFunc(infos, func(info IOInfo) bool { return info.Name == name })
	if i < 0 {
		return IOInfo{}, false
	}
	return infos[i], true
}

func names(infos []IOInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	slices.Sort(out)
	return out
}
