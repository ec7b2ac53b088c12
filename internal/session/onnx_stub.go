//go:build !cgo

package session

import (
	"context"

	"github.com/samcharles93/summarizer/internal/tensor"
)

// ONNXSession is unavailable without cgo.
type ONNXSession struct{}

var _ Session = (*ONNXSession)(nil)

func OpenONNX(ONNXConfig) (*ONNXSession, error) {
	return nil, ErrUnsupported
}

func (*ONNXSession) Run(context.Context, tensor.Map) (tensor.Map, error) {
	return nil, ErrUnsupported
}

func (*ONNXSession) Inputs() []IOInfo  { return nil }
func (*ONNXSession) Outputs() []IOInfo { return nil }
func (*ONNXSession) Close() error      { return nil }
