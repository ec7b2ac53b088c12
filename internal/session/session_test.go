package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/summarizer/internal/tensor"
)

func ids(t *testing.T, name string, vals ...int64) *tensor.Tensor {
	t.Helper()
	tt, err := tensor.NewInt64(name, tensor.Shape{1, int64(len(vals))}, vals)
	require.NoError(t, err)
	return tt
}

var encoderSig = []IOInfo{{Name: "input_ids", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Int64}}

func TestValidateInputsAccepts(t *testing.T) {
	t.Parallel()

	in := tensor.Map{"input_ids": ids(t, "input_ids", 1, 2, 3)}
	defer in.Release()
	assert.NoError(t, ValidateInputs(encoderSig, in))
}

func TestValidateInputsWrongName(t *testing.T) {
	t.Parallel()

	in := tensor.Map{"tokens": ids(t, "tokens", 1, 2)}
	defer in.Release()

	err := ValidateInputs(encoderSig, in)
	require.ErrorIs(t, err, ErrShapeMismatch)
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "input_ids", me.Input)
}

func TestValidateInputsWrongCount(t *testing.T) {
	t.Parallel()

	in := tensor.Map{
		"input_ids":      ids(t, "input_ids", 1),
		"attention_mask": ids(t, "attention_mask", 1),
	}
	defer in.Release()
	assert.ErrorIs(t, ValidateInputs(encoderSig, in), ErrShapeMismatch)
	assert.ErrorIs(t, ValidateInputs(encoderSig, nil), ErrShapeMismatch)
}

func TestValidateInputsDTypeAndShape(t *testing.T) {
	t.Parallel()

	f, err := tensor.NewFloat32("input_ids", tensor.Shape{1, 2}, []float32{1, 2})
	require.NoError(t, err)
	defer f.Release()
	assert.ErrorIs(t, ValidateInputs(encoderSig, tensor.Map{"input_ids": f}), ErrShapeMismatch)

	flat, err := tensor.NewInt64("input_ids", tensor.Shape{3}, []int64{1, 2, 3})
	require.NoError(t, err)
	defer flat.Release()
	assert.ErrorIs(t, ValidateInputs(encoderSig, tensor.Map{"input_ids": flat}), ErrShapeMismatch)

	batch, err := tensor.NewInt64("input_ids", tensor.Shape{2, 1}, []int64{1, 2})
	require.NoError(t, err)
	defer batch.Release()
	assert.ErrorIs(t, ValidateInputs(encoderSig, tensor.Map{"input_ids": batch}), ErrShapeMismatch)
}

func TestValidateInputsReleased(t *testing.T) {
	t.Parallel()

	in := ids(t, "input_ids", 1)
	require.NoError(t, in.Release())
	assert.ErrorIs(t, ValidateInputs(encoderSig, tensor.Map{"input_ids": in}), ErrShapeMismatch)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	info, ok := Lookup(encoderSig, "input_ids")
	require.True(t, ok)
	assert.Equal(t, tensor.Int64, info.DType)
	assert.Equal(t, "input_ids int64 [1, ?]", info.String())

	_, ok = Lookup(encoderSig, "missing")
	assert.False(t, ok)
}

// blockingSession parks every Run until release is closed.
type blockingSession struct {
	release  chan struct{}
	inflight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingSession) Run(ctx context.Context, in tensor.Map) (tensor.Map, error) {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-b.release
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return tensor.Map{}, nil
}

func (b *blockingSession) Inputs() []IOInfo  { return nil }
func (b *blockingSession) Outputs() []IOInfo { return nil }
func (b *blockingSession) Close() error      { return nil }

func TestGateSerializes(t *testing.T) {
	t.Parallel()

	inner := &blockingSession{release: make(chan struct{})}
	var mu sync.Mutex
	deltas := map[string]int{}
	g := Limit(inner, "encoder", 1, func(name string, d int) {
		mu.Lock()
		deltas[name] += d
		mu.Unlock()
	})
	assert.Equal(t, "encoder", g.Name())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Run(context.Background(), nil)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.EqualValues(t, 1, inner.peak.Load())
	mu.Lock()
	assert.Equal(t, 0, deltas["encoder"])
	mu.Unlock()
}

func TestGateQueuedCallerHonoursContext(t *testing.T) {
	t.Parallel()

	inner := &blockingSession{release: make(chan struct{})}
	g := Limit(inner, "decoder", 1, nil)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := g.Run(context.Background(), nil)
		done <- err
	}()
	<-started
	require.Eventually(t, func() bool { return inner.inflight.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Run(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)

	close(inner.release)
	require.NoError(t, <-done)
}

func TestGateDoesNotCancelAdmittedRun(t *testing.T) {
	t.Parallel()

	inner := &blockingSession{release: make(chan struct{})}
	g := Limit(inner, "encoder", 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Run(ctx, nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return inner.inflight.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	close(inner.release)
	assert.NoError(t, <-done)
}
