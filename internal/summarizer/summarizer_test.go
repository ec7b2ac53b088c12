package summarizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/tokenizer"
	"github.com/samcharles93/summarizer/internal/toy"
)

type pipeline struct {
	s       *Summarizer
	tracker *tensor.Tracker
	enc     *toy.Identity
	dec     *toy.Identity
}

func newToy(t *testing.T, cfg Config, opts ...Option) pipeline {
	t.Helper()
	tr := tensor.NewTracker(nil)
	enc, dec := toy.Encoder(tr), toy.Decoder(tr)
	s, err := NewFromComponents(cfg, toy.Tokenizer(), enc, dec, append(opts, WithTracker(tr))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return pipeline{s: s, tracker: tr, enc: enc, dec: dec}
}

func TestSummarizeIdentityPipeline(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})

	require.Equal(t, Ready, p.s.State())
	assert.Equal(t, 6, p.s.Vocabulary())

	got, err := p.s.Summarize(context.Background(), "the cat sat")
	require.NoError(t, err)
	assert.Equal(t, "the cat sat", got)
	assert.Zero(t, p.tracker.Live())
	assert.EqualValues(t, 1, p.enc.Runs())
	assert.EqualValues(t, 1, p.dec.Runs())
}

func TestSummarizeDeterministic(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})

	first, err := p.s.Summarize(context.Background(), "the cat sat on the mat.")
	require.NoError(t, err)
	second, err := p.s.Summarize(context.Background(), "the cat sat on the mat.")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "the cat sat the mat.", first)
}

func TestSummarizeRejectsBlankInput(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := p.s.Summarize(context.Background(), text)
		require.ErrorIs(t, err, ErrInvalidInput, "text %q", text)
	}
	assert.Zero(t, p.enc.Runs())
	assert.Zero(t, p.dec.Runs())
	assert.Zero(t, p.tracker.Live())
}

func TestSummarizeNotReady(t *testing.T) {
	t.Parallel()

	var zero Summarizer
	_, err := zero.Summarize(context.Background(), "the cat")
	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, Uninitialized, zero.State())
	assert.Zero(t, zero.Vocabulary())
	require.NoError(t, zero.Close())

	var nilSummarizer *Summarizer
	_, err = nilSummarizer.Summarize(context.Background(), "the cat")
	require.ErrorIs(t, err, ErrNotReady)
	require.NoError(t, nilSummarizer.Close())

	p := newToy(t, Config{})
	require.NoError(t, p.s.Close())
	assert.Equal(t, Closed, p.s.State())

	_, err = p.s.Summarize(context.Background(), "the cat")
	require.ErrorIs(t, err, ErrNotReady)
	_, err = p.s.Summarize(context.Background(), "")
	require.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, p.enc.Runs())
	assert.Zero(t, p.tracker.Live())
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})

	require.NoError(t, p.s.Close())
	require.NoError(t, p.s.Close())
	assert.EqualValues(t, 1, p.enc.Closes())
	assert.EqualValues(t, 1, p.dec.Closes())
}

func TestCloseJoinsErrors(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	enc := &closeFailing{Identity: toy.Encoder(tr), err: errors.New("enc close")}
	dec := &closeFailing{Identity: toy.Decoder(tr), err: errors.New("dec close")}
	s, err := NewFromComponents(Config{}, toy.Tokenizer(), enc, dec)
	require.NoError(t, err)

	err = s.Close()
	assert.ErrorIs(t, err, enc.err)
	assert.ErrorIs(t, err, dec.err)
	assert.Equal(t, Closed, s.State())
	assert.NoError(t, s.Close())
}

type closeFailing struct {
	*toy.Identity
	err error
}

func (c *closeFailing) Close() error {
	_ = c.Identity.Close()
	return c.err
}

func TestEncoderFailureReleasesTensors(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})
	boom := errors.New("arena exhausted")
	p.enc.FailWith(boom)

	_, err := p.s.Summarize(context.Background(), "the cat sat")
	require.ErrorIs(t, err, ErrEncodingFailed)
	require.ErrorIs(t, err, boom)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageEncoder, se.Stage)
	assert.Zero(t, p.dec.Runs())
	assert.Zero(t, p.tracker.Live())
}

func TestDecoderFailureReleasesTensors(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})
	p.dec.FailWith(errors.New("bad graph"))

	_, err := p.s.Summarize(context.Background(), "the cat sat")
	require.ErrorIs(t, err, ErrDecodingFailed)
	assert.Equal(t, ErrDecodingFailed, Kind(err))
	assert.Zero(t, p.tracker.Live())
}

func TestSessionPanicBecomesStageError(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{})
	p.dec.PanicWith("segfault in kernel")

	_, err := p.s.Summarize(context.Background(), "the cat sat")
	require.ErrorIs(t, err, ErrDecodingFailed)
	assert.Contains(t, err.Error(), "segfault in kernel")
	assert.Zero(t, p.tracker.Live())
}

func TestDecoderOutputOutsideVocabulary(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	dec := &scaleSession{Identity: toy.Decoder(tr), factor: 10, tracker: tr}
	s, err := NewFromComponents(Config{}, toy.Tokenizer(), toy.Encoder(tr), dec, WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Summarize(context.Background(), "the cat")
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, ErrInvalidToken, Kind(err))
	assert.Equal(t, "invalid_token", Status(err))
	var ite *tokenizer.InvalidTokenError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, 10, ite.ID)
	assert.Zero(t, tr.Live())
}

func TestDecoderOutputNotATokenID(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	dec := &scaleSession{Identity: toy.Decoder(tr), factor: -1, tracker: tr}
	s, err := NewFromComponents(Config{}, toy.Tokenizer(), toy.Encoder(tr), dec, WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Summarize(context.Background(), "the cat")
	require.ErrorIs(t, err, ErrInvalidToken)
	var ioe *InvalidOutputError
	require.ErrorAs(t, err, &ioe)
	assert.Zero(t, tr.Live())
}

// scaleSession multiplies the identity output by factor.
type scaleSession struct {
	*toy.Identity
	factor  float32
	tracker *tensor.Tracker
}

func (s *scaleSession) Run(ctx context.Context, in tensor.Map) (tensor.Map, error) {
	out, err := s.Identity.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	defer out.Release()
	src := out["logits"]
	vals, err := src.Float32s()
	if err != nil {
		return nil, err
	}
	for i := range vals {
		vals[i] *= s.factor
	}
	t, err := tensor.WrapFloat32("logits", src.Shape(), vals, tensor.TrackedBy(s.tracker))
	if err != nil {
		return nil, err
	}
	return tensor.Map{"logits": t}, nil
}

func TestUnusedOutputsAreReleased(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	enc := toy.NewIdentity(
		session.IOInfo{Name: "input_ids", Shape: tensor.Shape{1, tensor.Dynamic}, DType: tensor.Int64},
		tr,
		session.IOInfo{Name: "last_hidden_state", DType: tensor.Float32},
		session.IOInfo{Name: "pooler_output", DType: tensor.Float32},
	)
	s, err := NewFromComponents(Config{EncoderOutput: "pooler_output"}, toy.Tokenizer(), enc, toy.Decoder(tr), WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Summarize(context.Background(), "the mat")
	require.NoError(t, err)
	assert.Equal(t, "the mat", got)
	assert.Zero(t, tr.Live())
}

func TestSignatureMismatchFailsConstruction(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)

	cases := map[string]Config{
		"encoder input":  {EncoderInput: "tokens"},
		"decoder input":  {DecoderInput: "hidden"},
		"encoder output": {EncoderOutput: "nope"},
		"decoder output": {DecoderOutput: "nope"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			enc, dec := toy.Encoder(tr), toy.Decoder(tr)
			s, err := NewFromComponents(cfg, toy.Tokenizer(), enc, dec)
			require.Nil(t, s)
			require.ErrorIs(t, err, ErrResourceLoadFailed)
			require.ErrorIs(t, err, ErrShapeMismatch)
			assert.EqualValues(t, 1, enc.Closes())
			assert.EqualValues(t, 1, dec.Closes())
		})
	}

	_, err := NewFromComponents(Config{}, nil, toy.Encoder(tr), nil)
	require.ErrorIs(t, err, ErrResourceLoadFailed)
}

func TestMaxInputTokensTruncates(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{MaxInputTokens: 2})

	got, err := p.s.Summarize(context.Background(), "the cat sat on the mat")
	require.NoError(t, err)
	assert.Equal(t, "the cat", got)
}

func TestConcurrentSummarize(t *testing.T) {
	t.Parallel()
	p := newToy(t, Config{MaxConcurrentRuns: 2})

	inputs := []string{"the cat", "the mat.", "cat sat", "the cat sat on the mat."}
	want := []string{"the cat", "the mat.", "cat sat", "the cat sat the mat."}

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.s.Summarize(context.Background(), inputs[i%len(inputs)])
			assert.NoError(t, err)
			assert.Equal(t, want[i%len(want)], got)
		}()
	}
	wg.Wait()
	assert.Zero(t, p.tracker.Live())
	assert.EqualValues(t, 32, p.enc.Runs())
}

// gatedSession blocks in Run until released.
type gatedSession struct {
	*toy.Identity
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSession) Run(ctx context.Context, in tensor.Map) (tensor.Map, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Identity.Run(ctx, in)
}

func TestCloseWaitsForInflight(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	enc := &gatedSession{Identity: toy.Encoder(tr), entered: make(chan struct{}), release: make(chan struct{})}
	s, err := NewFromComponents(Config{}, toy.Tokenizer(), enc, toy.Decoder(tr), WithTracker(tr))
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := s.Summarize(context.Background(), "the cat")
		result <- err
	}()
	<-enc.entered

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a call was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(enc.release)
	require.NoError(t, <-result)
	require.NoError(t, <-closed)
	assert.Zero(t, tr.Live())
	assert.EqualValues(t, 1, enc.Closes())
}

func TestCancelledWhileQueued(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	enc := &gatedSession{Identity: toy.Encoder(tr), entered: make(chan struct{}), release: make(chan struct{})}
	s, err := NewFromComponents(Config{MaxConcurrentRuns: 1}, toy.Tokenizer(), enc, toy.Decoder(tr), WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	first := make(chan error, 1)
	go func() {
		_, err := s.Summarize(context.Background(), "the cat")
		first <- err
	}()
	<-enc.entered

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Summarize(ctx, "the mat")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrEncodingFailed)
	assert.Equal(t, "canceled", Status(err))

	close(enc.release)
	require.NoError(t, <-first)
	assert.Zero(t, tr.Live())
}

func TestNewIsAllOrNothing(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	tok := toy.Tokenizer()
	enc := toy.Encoder(tr)
	loadErr := errors.New("decoder_model.onnx: truncated file")

	var opened []string
	loaders := Loaders{
		Tokenizer: func(string) (tokenizer.Tokenizer, error) { return tok, nil },
		Session: func(cfg session.ONNXConfig) (session.Session, error) {
			opened = append(opened, cfg.Path)
			if cfg.Path == "decoder.onnx" {
				return nil, loadErr
			}
			return enc, nil
		},
	}
	s, err := New(context.Background(), Config{
		EncoderModel: "encoder.onnx",
		DecoderModel: "decoder.onnx",
		Vocabulary:   "toy.vocab",
	}, WithLoaders(loaders), WithTracker(tr))
	require.Nil(t, s)
	require.ErrorIs(t, err, ErrResourceLoadFailed)
	require.ErrorIs(t, err, loadErr)
	assert.Equal(t, []string{"encoder.onnx", "decoder.onnx"}, opened)
	assert.EqualValues(t, 1, enc.Closes())

	_, err = tok.Encode("the")
	assert.ErrorIs(t, err, tokenizer.ErrClosed)
}

func TestNewPassesSessionConfig(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)

	var got []session.ONNXConfig
	loaders := Loaders{
		Tokenizer: func(string) (tokenizer.Tokenizer, error) { return toy.Tokenizer(), nil },
		Session: func(cfg session.ONNXConfig) (session.Session, error) {
			got = append(got, cfg)
			if len(got) == 1 {
				return toy.Encoder(tr), nil
			}
			return toy.Decoder(tr), nil
		},
	}
	s, err := New(context.Background(), Config{
		EncoderModel:   "enc.onnx",
		DecoderModel:   "dec.onnx",
		Vocabulary:     "toy.vocab",
		RuntimeLibrary: "/opt/ort/libonnxruntime.so",
		IntraOpThreads: 2,
		DecoderOutput:  "logits",
	}, WithLoaders(loaders), WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, got, 2)
	assert.Equal(t, []string{"input_ids"}, got[0].InputNames)
	assert.Nil(t, got[0].OutputNames)
	assert.Equal(t, []string{"encoder_hidden_states"}, got[1].InputNames)
	assert.Equal(t, []string{"logits"}, got[1].OutputNames)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", got[1].LibraryPath)
	assert.Equal(t, 2, got[1].IntraOpThreads)
	assert.Same(t, tr, got[0].Tracker)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	called := false
	loaders := Loaders{Tokenizer: func(string) (tokenizer.Tokenizer, error) {
		called = true
		return nil, errors.New("unreachable")
	}}
	_, err := New(context.Background(), Config{}, WithLoaders(loaders))
	require.ErrorIs(t, err, ErrResourceLoadFailed)
	assert.False(t, called)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(ctx, Config{EncoderModel: "e", DecoderModel: "d", Vocabulary: "v"}, WithLoaders(loaders))
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	stages   []string
	tokens   []int
	inflight map[string]int
}

func (r *recordingObserver) Summarized(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingObserver) StageDone(stage string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, fmt.Sprintf("%s:%v", stage, err == nil))
}

func (r *recordingObserver) InputTokens(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, n)
}

func (r *recordingObserver) SessionInflight(name string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight == nil {
		r.inflight = map[string]int{}
	}
	r.inflight[name] += delta
}

func TestObserverSeesStages(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	p := newToy(t, Config{}, WithObserver(obs))

	_, err := p.s.Summarize(context.Background(), "the cat sat")
	require.NoError(t, err)
	_, err = p.s.Summarize(context.Background(), " ")
	require.Error(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []string{"ok", "invalid_input"}, obs.statuses)
	assert.Equal(t, []string{"tokenize:true", "encoder:true", "decoder:true", "detokenize:true"}, obs.stages)
	assert.Equal(t, []int{3}, obs.tokens)
	assert.Equal(t, map[string]int{"encoder": 0, "decoder": 0}, obs.inflight)
}

func TestDecoderLogits(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	s, err := NewFromComponents(Config{DecoderLogits: true}, toy.Tokenizer(), toy.Encoder(tr), toy.ScoringDecoder(tr, 6), WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Summarize(context.Background(), "the cat sat on the mat.")
	require.NoError(t, err)
	assert.Equal(t, "the cat sat the mat.", got)
	assert.Zero(t, tr.Live())
}

func TestDecoderLogitsWrongWidth(t *testing.T) {
	t.Parallel()
	tr := tensor.NewTracker(nil)
	s, err := NewFromComponents(Config{DecoderLogits: true}, toy.Tokenizer(), toy.Encoder(tr), toy.ScoringDecoder(tr, 5), WithTracker(tr))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Summarize(context.Background(), "the cat")
	require.ErrorIs(t, err, ErrDecodingFailed)
	require.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, "shape_mismatch", Status(err))
	assert.Zero(t, tr.Live())
}
