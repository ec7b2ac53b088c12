//go:build cgo

package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/summarizer/internal/artifact"
	"github.com/samcharles93/summarizer/internal/tensor"
)

// ONNXSession executes an ONNX graph through onnxruntime.
type ONNXSession struct {
	path    string
	session *ort.DynamicAdvancedSession
	inputs  []IOInfo
	outputs []IOInfo
	tracker *tensor.Tracker

	mu     sync.RWMutex
	closed bool
}

var _ Session = (*ONNXSession)(nil)

// OpenONNX loads the graph at cfg.Path. Either a fully usable session is
// returned or every runtime resource acquired along the way is released.
func OpenONNX(cfg ONNXConfig) (*ONNXSession, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("onnx: model path is required")
	}
	art, err := artifact.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = art.Close() }()
	if err := artifact.CheckONNX(art.Bytes()); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Path, err)
	}

	if err := acquireEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = releaseEnvironment()
		}
	}()

	declIn, declOut, err := ort.GetInputOutputInfoWithONNXData(art.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%s: read signature: %w", cfg.Path, err)
	}
	inputs, err := selectIO(convertInfo(declIn), cfg.InputNames, "input")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Path, err)
	}
	outputs, err := selectIO(convertInfo(declOut), cfg.OutputNames, "output")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Path, err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("intra-op threads: %w", err)
		}
	}

	sess, err := ort.NewDynamicAdvancedSessionWithONNXData(art.Bytes(), ioNames(inputs), ioNames(outputs), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: create session: %w", cfg.Path, err)
	}

	ok = true
	return &ONNXSession{
		path:    cfg.Path,
		session: sess,
		inputs:  inputs,
		outputs: outputs,
		tracker: cfg.Tracker,
	}, nil
}

func (s *ONNXSession) Inputs() []IOInfo  { return slices.Clone(s.inputs) }
func (s *ONNXSession) Outputs() []IOInfo { return slices.Clone(s.outputs) }

// Run binds inputs in declared order and lets the runtime allocate outputs.
// onnxruntime sessions accept concurrent Run calls; callers that need a bound
// wrap the session with Limit.
func (s *ONNXSession) Run(_ context.Context, inputs tensor.Map) (tensor.Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if err := ValidateInputs(s.inputs, inputs); err != nil {
		return nil, err
	}

	values := make([]ort.Value, 0, len(s.inputs))
	defer func() { destroyValues(values) }()
	for _, info := range s.inputs {
		v, err := toValue(inputs[info.Name])
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", info.Name, err)
		}
		values = append(values, v)
	}

	outs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(values, outs); err != nil {
		destroyValues(outs)
		return nil, fmt.Errorf("run %s: %w", filepath.Base(s.path), err)
	}

	result := make(tensor.Map, len(outs))
	for i, v := range outs {
		name := s.outputs[i].Name
		t, err := fromValue(name, v, s.tracker)
		if err != nil {
			destroyValues(outs[i:])
			return nil, errors.Join(err, result.Release())
		}
		result[name] = t
	}
	return result, nil
}

// Close destroys the session, waiting for in-flight runs. Safe to call more
// than once.
func (s *ONNXSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.session.Destroy()
	s.session = nil
	return errors.Join(err, releaseEnvironment())
}

func toValue(t *tensor.Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape()...)
	switch t.DType() {
	case tensor.Int64:
		data, err := t.Int64s()
		if err != nil {
			return nil, err
		}
		v, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, err
		}
		return v, nil
	case tensor.Float32:
		data, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		v, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, &MismatchError{Input: t.Name(), Reason: "unsupported dtype " + t.DType().String()}
	}
}

func fromValue(name string, v ort.Value, tr *tensor.Tracker) (*tensor.Tensor, error) {
	switch v := v.(type) {
	case *ort.Tensor[float32]:
		return tensor.WrapFloat32(name, tensor.Shape(v.GetShape()), v.GetData(),
			tensor.WithRelease(v.Destroy), tensor.TrackedBy(tr))
	case *ort.Tensor[int64]:
		return tensor.WrapInt64(name, tensor.Shape(v.GetShape()), v.GetData(),
			tensor.WithRelease(v.Destroy), tensor.TrackedBy(tr))
	case nil:
		return nil, fmt.Errorf("output %s: runtime produced no value", name)
	default:
		return nil, &MismatchError{Input: name, Reason: fmt.Sprintf("unsupported output value %T", v)}
	}
}

func destroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}

func convertInfo(infos []ort.InputOutputInfo) []IOInfo {
	out := make([]IOInfo, 0, len(infos))
	for _, info := range infos {
		io := IOInfo{Name: info.Name, Shape: tensor.Shape(info.Dimensions).Clone()}
		switch info.DataType {
		case ort.TensorElementDataTypeInt64:
			io.DType = tensor.Int64
		case ort.TensorElementDataTypeFloat:
			io.DType = tensor.Float32
		}
		out = append(out, io)
	}
	return out
}

func selectIO(declared []IOInfo, want []string, kind string) ([]IOInfo, error) {
	if len(want) == 0 {
		if len(declared) == 0 {
			return nil, fmt.Errorf("graph declares no %ss", kind)
		}
		return declared, nil
	}
	out := make([]IOInfo, 0, len(want))
	for _, name := range want {
		info, ok := Lookup(declared, name)
		if !ok {
			return nil, &MismatchError{Input: name, Reason: fmt.Sprintf("graph has no %s with this name (have %v)", kind, names(declared))}
		}
		out = append(out, info)
	}
	return out, nil
}

func ioNames(infos []IOInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}

var env struct {
	mu   sync.Mutex
	refs int
}

// acquireEnvironment initializes the process-wide onnxruntime environment on
// first use. The environment lives until the last session releases it.
func acquireEnvironment(libraryPath string) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.refs == 0 && !ort.IsInitialized() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	env.refs++
	return nil
}

func releaseEnvironment() error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.refs == 0 {
		return nil
	}
	env.refs--
	if env.refs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}
