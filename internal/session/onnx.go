package session

import (
	"errors"

	"github.com/samcharles93/summarizer/internal/tensor"
)

// ErrUnsupported is returned by OpenONNX in builds without cgo.
var ErrUnsupported = errors.New("session: onnx runtime requires a cgo build")

// ONNXConfig locates an ONNX graph and the runtime used to execute it.
type ONNXConfig struct {
	// Path to the .onnx artifact.
	Path string
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string
	// InputNames and OutputNames select graph inputs/outputs to bind. Empty
	// binds every declared input and output.
	InputNames  []string
	OutputNames []string
	// IntraOpThreads caps the runtime's intra-op pool; 0 keeps its default.
	IntraOpThreads int
	// Tracker counts output tensors handed to callers.
	Tracker *tensor.Tracker
}
