package tensor

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// Tracker counts live tensors. A nil Tracker is valid and counts nothing.
type Tracker struct {
	live     atomic.Int64
	onChange func(live int64)
}

// NewTracker returns a tracker that calls onChange (if non-nil) with the new
// live count after every allocation or release.
func NewTracker(onChange func(live int64)) *Tracker {
	return &Tracker{onChange: onChange}
}

func (tr *Tracker) add(delta int64) {
	if tr == nil {
		return
	}
	n := tr.live.Add(delta)
	if tr.onChange != nil {
		tr.onChange(n)
	}
}

// Live returns the number of tensors allocated and not yet released.
func (tr *Tracker) Live() int64 {
	if tr == nil {
		return 0
	}
	return tr.live.Load()
}

// Map holds tensors by name, as passed to and returned from a session run.
type Map map[string]*Tensor

// Names returns the tensor names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release releases every tensor in the map.
func (m Map) Release() error {
	var errs []error
	for _, t := range m {
		if err := t.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scope collects tensors acquired during one operation so they can be
// released together on every exit path:
//
//	scope := tensor.NewScope()
//	defer scope.Release()
type Scope struct {
	mu      sync.Mutex
	tensors []*Tensor
	closed  bool
}

func NewScope() *Scope {
	return &Scope{}
}

// Add registers t with the scope and returns it. Adding to a released scope
// releases t immediately.
func (s *Scope) Add(t *Tensor) *Tensor {
	if t == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = t.Release()
		return t
	}
	s.tensors = append(s.tensors, t)
	return t
}

// AddMap registers every tensor in m.
func (s *Scope) AddMap(m Map) {
	for _, name := range m.Names() {
		s.Add(m[name])
	}
}

// Release releases all registered tensors in reverse acquisition order.
func (s *Scope) Release() error {
	s.mu.Lock()
	tensors := s.tensors
	s.tensors = nil
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for i := len(tensors) - 1; i >= 0; i-- {
		if err := tensors[i].Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
