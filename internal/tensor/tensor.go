// Package tensor holds the named, shaped numeric buffers exchanged with model
// sessions.
//
// A Tensor is immutable once constructed. Buffers may be owned by Go memory or
// borrowed from a native runtime; in both cases the holder must call Release
// exactly when it is done with the tensor. Release is idempotent.
package tensor

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrReleased      = errors.New("tensor: released")
	ErrWrongDType    = errors.New("tensor: wrong dtype")
	ErrShapeMismatch = errors.New("tensor: data length does not match shape")
)

// DType identifies the element type of a tensor.
type DType int

const (
	Invalid DType = iota
	Int64
	Float32
)

func (d DType) String() string {
	switch d {
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	default:
		return "invalid"
	}
}

// Tensor is a named, rank-and-shape-tagged numeric buffer.
type Tensor struct {
	name  string
	shape Shape
	dtype DType
	i64   []int64
	f32   []float32

	release  func() error
	tracker  *Tracker
	released atomic.Bool
}

// Option configures tensor construction.
type Option func(*Tensor)

// WithRelease attaches a hook run once when the tensor is released. Backends
// use it to free native buffers.
func WithRelease(fn func() error) Option {
	return func(t *Tensor) {
		t.release = fn
	}
}

// TrackedBy counts the tensor as live in tr until it is released.
func TrackedBy(tr *Tracker) Option {
	return func(t *Tensor) {
		t.tracker = tr
	}
}

// NewInt64 copies data into a new int64 tensor.
func NewInt64(name string, shape Shape, data []int64, opts ...Option) (*Tensor, error) {
	return WrapInt64(name, shape, append([]int64(nil), data...), opts...)
}

// NewFloat32 copies data into a new float32 tensor.
func NewFloat32(name string, shape Shape, data []float32, opts ...Option) (*Tensor, error) {
	return WrapFloat32(name, shape, append([]float32(nil), data...), opts...)
}

// WrapInt64 builds a tensor over data without copying. The caller gives up
// the right to mutate data.
func WrapInt64(name string, shape Shape, data []int64, opts ...Option) (*Tensor, error) {
	if err := checkLen(shape, len(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	t := &Tensor{name: name, shape: shape.Clone(), dtype: Int64, i64: data}
	t.apply(opts)
	return t, nil
}

// WrapFloat32 builds a tensor over data without copying. The caller gives up
// the right to mutate data.
func WrapFloat32(name string, shape Shape, data []float32, opts ...Option) (*Tensor, error) {
	if err := checkLen(shape, len(data)); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	t := &Tensor{name: name, shape: shape.Clone(), dtype: Float32, f32: data}
	t.apply(opts)
	return t, nil
}

func (t *Tensor) apply(opts []Option) {
	for _, opt := range opts {
		opt(t)
	}
	if t.tracker != nil {
		t.tracker.add(1)
	}
}

func checkLen(shape Shape, n int) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	if want := shape.Elements(); want != int64(n) {
		return fmt.Errorf("%w: shape %s wants %d elements, got %d", ErrShapeMismatch, shape, want, n)
	}
	return nil
}

func (t *Tensor) Name() string   { return t.name }
func (t *Tensor) DType() DType   { return t.dtype }
func (t *Tensor) Shape() Shape   { return t.shape.Clone() }
func (t *Tensor) Len() int       { return int(t.shape.Elements()) }
func (t *Tensor) Released() bool { return t.released.Load() }

// Int64s returns a copy of the tensor data.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	if t.dtype != Int64 {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDType, t.name, t.dtype)
	}
	return append([]int64(nil), t.i64...), nil
}

// Float32s returns a copy of the tensor data.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	if t.dtype != Float32 {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDType, t.name, t.dtype)
	}
	return append([]float32(nil), t.f32...), nil
}

// AsFloat64s returns the elements widened to float64 regardless of dtype.
func (t *Tensor) AsFloat64s() ([]float64, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	switch t.dtype {
	case Int64:
		out := make([]float64, len(t.i64))
		for i, v := range t.i64 {
			out[i] = float64(v)
		}
		return out, nil
	case Float32:
		out := make([]float64, len(t.f32))
		for i, v := range t.f32 {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDType, t.name, t.dtype)
	}
}

// Float32View builds a new float32 tensor with the given name and shape from
// t's elements, converting int64 values when needed. The element count must
// be preserved.
func (t *Tensor) Float32View(name string, shape Shape, opts ...Option) (*Tensor, error) {
	if t.Released() {
		return nil, ErrReleased
	}
	switch t.dtype {
	case Float32:
		return NewFloat32(name, shape, t.f32, opts...)
	case Int64:
		data := make([]float32, len(t.i64))
		for i, v := range t.i64 {
			data[i] = float32(v)
		}
		return WrapFloat32(name, shape, data, opts...)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongDType, t.name, t.dtype)
	}
}

// Release frees the tensor. Only the first call runs the release hook.
func (t *Tensor) Release() error {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return nil
	}
	t.i64 = nil
	t.f32 = nil
	if t.tracker != nil {
		t.tracker.add(-1)
	}
	if t.release != nil {
		if err := t.release(); err != nil {
			return fmt.Errorf("release %s: %w", t.name, err)
		}
	}
	return nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%s<%s>", t.name, t.shape, t.dtype)
}
