// Package summarizer chains a tokenizer and an encoder/decoder session pair
// into a single text -> summary operation.
//
// A Summarizer moves through Uninitialized -> Ready -> Closed exactly once.
// New either returns a Ready summarizer or fails without leaving anything
// open; Close is idempotent and waits for in-flight calls.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/tokenizer"
	"github.com/samcharles93/summarizer/internal/tracing"
)

type State int32

const (
	Uninitialized State = iota
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Summarizer is safe for concurrent use. The zero value is Uninitialized.
type Summarizer struct {
	mu    sync.RWMutex
	state atomic.Int32

	cfg      Config
	tok      tokenizer.Tokenizer
	encoder  *session.Gate
	decoder  *session.Gate
	decIn    session.IOInfo
	log      logger.Logger
	tracker  *tensor.Tracker
	observer Observer
}

// New loads the vocabulary and both model sessions described by cfg. Any
// load failure closes whatever was already opened and is reported as
// ErrResourceLoadFailed. ctx only bounds loading.
func New(ctx context.Context, cfg Config, opts ...Option) (*Summarizer, error) {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	log := o.log

	var closers []func() error
	cleanup := func(err error) (*Summarizer, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, stageError(StageLoad, ErrResourceLoadFailed, err)
	}

	if err := cfg.validate(); err != nil {
		return cleanup(err)
	}

	if err := ctx.Err(); err != nil {
		return cleanup(err)
	}
	log.Info("loading vocabulary", "path", cfg.Vocabulary)
	tok, err := o.loaders.Tokenizer(cfg.Vocabulary)
	if err != nil {
		return cleanup(fmt.Errorf("vocabulary %s: %w", cfg.Vocabulary, err))
	}
	closers = append(closers, tok.Close)

	if err := ctx.Err(); err != nil {
		return cleanup(err)
	}
	log.Info("loading encoder model", "path", cfg.EncoderModel)
	enc, err := o.loaders.Session(cfg.sessionConfig(cfg.EncoderModel, cfg.EncoderInput, cfg.EncoderOutput, o.tracker))
	if err != nil {
		return cleanup(fmt.Errorf("encoder model %s: %w", cfg.EncoderModel, err))
	}
	closers = append(closers, enc.Close)

	if err := ctx.Err(); err != nil {
		return cleanup(err)
	}
	log.Info("loading decoder model", "path", cfg.DecoderModel)
	dec, err := o.loaders.Session(cfg.sessionConfig(cfg.DecoderModel, cfg.DecoderInput, cfg.DecoderOutput, o.tracker))
	if err != nil {
		return cleanup(fmt.Errorf("decoder model %s: %w", cfg.DecoderModel, err))
	}
	closers = append(closers, dec.Close)

	s, err := assemble(cfg, tok, enc, dec, o)
	if err != nil {
		return cleanup(err)
	}
	log.Info("summarizer ready", "vocabulary_size", tok.VocabSize(), "max_concurrent_runs", cfg.MaxConcurrentRuns)
	return s, nil
}

// NewFromComponents builds a Ready summarizer from already-loaded parts and
// takes ownership of them: on failure they are closed.
func NewFromComponents(cfg Config, tok tokenizer.Tokenizer, encoder, decoder session.Session, opts ...Option) (*Summarizer, error) {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	if tok == nil || encoder == nil || decoder == nil {
		err := errors.Join(closeIfSet(decoder), closeIfSet(encoder), closeIfSet(tok))
		return nil, stageError(StageLoad, ErrResourceLoadFailed, errors.Join(errors.New("tokenizer, encoder and decoder are required"), err))
	}
	s, err := assemble(cfg, tok, encoder, decoder, o)
	if err != nil {
		_ = decoder.Close()
		_ = encoder.Close()
		_ = tok.Close()
		return nil, stageError(StageLoad, ErrResourceLoadFailed, err)
	}
	return s, nil
}

func closeIfSet(c interface{ Close() error }) error {
	if c == nil {
		return nil
	}
	return c.Close()
}

func assemble(cfg Config, tok tokenizer.Tokenizer, enc, dec session.Session, o options) (*Summarizer, error) {
	if err := checkSignature(StageEncoder, enc, cfg.EncoderInput, tensor.Int64, cfg.EncoderOutput); err != nil {
		return nil, err
	}
	if err := checkSignature(StageDecoder, dec, cfg.DecoderInput, tensor.Float32, cfg.DecoderOutput); err != nil {
		return nil, err
	}
	decIn, _ := session.Lookup(dec.Inputs(), cfg.DecoderInput)

	limit := int64(cfg.MaxConcurrentRuns)
	if limit < 0 {
		limit = 0
	}
	s := &Summarizer{
		cfg:      cfg,
		tok:      tok,
		encoder:  session.Limit(enc, StageEncoder, limit, o.observer.SessionInflight),
		decoder:  session.Limit(dec, StageDecoder, limit, o.observer.SessionInflight),
		decIn:    decIn,
		log:      o.log,
		tracker:  o.tracker,
		observer: o.observer,
	}
	s.state.Store(int32(Ready))
	return s, nil
}

// checkSignature requires the session to take exactly the one input the
// pipeline feeds it and to declare the output it reads.
func checkSignature(stage string, s session.Session, input string, dtype tensor.DType, output string) error {
	ins := s.Inputs()
	if len(ins) != 1 || ins[0].Name != input {
		names := make([]string, len(ins))
		for i, in := range ins {
			names[i] = in.Name
		}
		return fmt.Errorf("%s: %w", stage, &session.MismatchError{Input: input, Reason: fmt.Sprintf("graph inputs are %v", names)})
	}
	if ins[0].DType != tensor.Invalid && ins[0].DType != dtype {
		return fmt.Errorf("%s: %w", stage, &session.MismatchError{Input: input, Reason: fmt.Sprintf("declared %s, pipeline feeds %s", ins[0].DType, dtype)})
	}
	outs := s.Outputs()
	if len(outs) == 0 {
		return fmt.Errorf("%s: %w", stage, &session.MismatchError{Reason: "graph declares no outputs"})
	}
	if output != "" {
		if _, ok := session.Lookup(outs, output); !ok {
			return fmt.Errorf("%s: %w", stage, &session.MismatchError{Input: output, Reason: "no such graph output"})
		}
	}
	return nil
}

func (s *Summarizer) State() State {
	if s == nil {
		return Uninitialized
	}
	return State(s.state.Load())
}

// Vocabulary returns the tokenizer's vocabulary size, or 0 when not Ready.
func (s *Summarizer) Vocabulary() int {
	if s.State() != Ready {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tok == nil {
		return 0
	}
	return s.tok.VocabSize()
}

// Summarize runs text through tokenizer, encoder, decoder and back. Every
// tensor it creates is released before it returns. ctx bounds the wait for a
// busy session; a started model run is not interrupted.
func (s *Summarizer) Summarize(ctx context.Context, text string) (summary string, err error) {
	if s == nil {
		return "", fmt.Errorf("%w: state is %s", ErrNotReady, Uninitialized)
	}
	start := time.Now()
	defer func() { s.obs().Summarized(Status(err), time.Since(start)) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if st := s.State(); st != Ready {
		return "", fmt.Errorf("%w: state is %s", ErrNotReady, st)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is empty", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ctx, span := tracing.Start(ctx, "summarizer.Summarize")
	defer func() { tracing.End(span, err) }()
	log := logger.FromContextOr(ctx, s.logger())
	defer func() {
		var se *StageError
		if errors.As(err, &se) {
			log.Error("summarize failed", "stage", se.Stage, "error", err)
		}
	}()

	scope := tensor.NewScope()
	defer func() {
		if rerr := scope.Release(); rerr != nil {
			log.Warn("release tensors", "error", rerr)
		}
	}()

	ids, err := s.tokenize(ctx, text)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int("summarizer.input_tokens", len(ids)))

	hidden, err := s.encode(ctx, scope, ids)
	if err != nil {
		return "", err
	}
	outIDs, err := s.decode(ctx, scope, hidden)
	if err != nil {
		return "", err
	}
	return s.detokenize(ctx, outIDs)
}

func (s *Summarizer) tokenize(ctx context.Context, text string) ([]int, error) {
	var ids []int
	err := s.stage(ctx, StageTokenize, func(context.Context) error {
		var err error
		ids, err = s.tok.Encode(text)
		return err
	})
	if err != nil {
		return nil, stageError(StageTokenize, ErrEncodingFailed, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: text produced no tokens", ErrInvalidInput)
	}
	if limit := s.cfg.MaxInputTokens; limit > 0 && len(ids) > limit {
		logger.FromContextOr(ctx, s.logger()).Debug("truncating input", "tokens", len(ids), "limit", limit)
		ids = ids[:limit]
	}
	s.obs().InputTokens(len(ids))
	return ids, nil
}

// encode runs the encoder and returns the output that feeds the decoder. The
// returned tensor is owned by scope.
func (s *Summarizer) encode(ctx context.Context, scope *tensor.Scope, ids []int) (*tensor.Tensor, error) {
	data := make([]int64, len(ids))
	for i, id := range ids {
		data[i] = int64(id)
	}
	input, err := tensor.WrapInt64(s.cfg.EncoderInput, tensor.Shape{1, int64(len(data))}, data, tensor.TrackedBy(s.tracker))
	if err != nil {
		return nil, stageError(StageEncoder, ErrEncodingFailed, err)
	}
	scope.Add(input)

	var out tensor.Map
	err = s.stage(ctx, StageEncoder, func(ctx context.Context) error {
		var err error
		out, err = s.encoder.Run(ctx, tensor.Map{s.cfg.EncoderInput: input})
		return err
	})
	scope.AddMap(out)
	if err != nil {
		return nil, wrap(ctx, StageEncoder, ErrEncodingFailed, err)
	}
	hidden, err := pick(out, s.cfg.EncoderOutput, s.encoder.Outputs())
	if err != nil {
		return nil, stageError(StageEncoder, ErrEncodingFailed, err)
	}
	return hidden, nil
}

// decode feeds hidden to the decoder and reads token ids from its output.
func (s *Summarizer) decode(ctx context.Context, scope *tensor.Scope, hidden *tensor.Tensor) ([]int, error) {
	input, err := hidden.Float32View(s.cfg.DecoderInput, fitShape(hidden, s.decIn.Shape), tensor.TrackedBy(s.tracker))
	if err != nil {
		return nil, stageError(StageDecoder, ErrDecodingFailed, err)
	}
	scope.Add(input)

	var out tensor.Map
	err = s.stage(ctx, StageDecoder, func(ctx context.Context) error {
		var err error
		out, err = s.decoder.Run(ctx, tensor.Map{s.cfg.DecoderInput: input})
		return err
	})
	scope.AddMap(out)
	if err != nil {
		return nil, wrap(ctx, StageDecoder, ErrDecodingFailed, err)
	}
	result, err := pick(out, s.cfg.DecoderOutput, s.decoder.Outputs())
	if err != nil {
		return nil, stageError(StageDecoder, ErrDecodingFailed, err)
	}
	var ids []int
	if s.cfg.DecoderLogits {
		ids, err = LogitIDs(result, s.tok.VocabSize())
	} else {
		ids, err = TokenIDs(result)
	}
	if err != nil {
		return nil, stageError(StageDetokenize, ErrDecodingFailed, err)
	}
	return ids, nil
}

func (s *Summarizer) detokenize(ctx context.Context, ids []int) (string, error) {
	var text string
	err := s.stage(ctx, StageDetokenize, func(context.Context) error {
		var err error
		text, err = s.tok.Decode(ids)
		return err
	})
	if err != nil {
		return "", stageError(StageDetokenize, ErrDecodingFailed, err)
	}
	return text, nil
}

// stage times fn, traces it and converts a panic into an error.
func (s *Summarizer) stage(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	ctx, span := tracing.Start(ctx, "summarizer."+name)
	start := time.Now()
	defer func() {
		s.obs().StageDone(name, time.Since(start), err)
		tracing.End(span, err)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", name, rec)
		}
	}()
	return fn(ctx)
}

// wrap leaves context errors from a session queue unwrapped so callers see a
// cancellation rather than a model failure.
func wrap(ctx context.Context, stage string, kind, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	return stageError(stage, kind, err)
}

func pick(out tensor.Map, name string, declared []session.IOInfo) (*tensor.Tensor, error) {
	if name == "" {
		if len(declared) == 0 {
			return nil, &session.MismatchError{Reason: "session declares no outputs"}
		}
		name = declared[0].Name
	}
	t, ok := out[name]
	if !ok || t == nil {
		return nil, &session.MismatchError{Input: name, Reason: fmt.Sprintf("missing from session outputs %v", out.Names())}
	}
	return t, nil
}

// fitShape keeps the encoder output shape when the decoder accepts it and
// otherwise flattens it to [1, n] for rank-2 decoder inputs.
func fitShape(t *tensor.Tensor, want tensor.Shape) tensor.Shape {
	shape := t.Shape()
	if want == nil || shape.Matches(want) || want.Rank() != 2 {
		return shape
	}
	return tensor.Shape{1, int64(t.Len())}
}

// Close releases the decoder, the encoder and the tokenizer, in that order,
// after in-flight calls finish. Later calls return nil.
func (s *Summarizer) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.CompareAndSwap(int32(Ready), int32(Closed)) {
		return nil
	}
	err := errors.Join(
		closeIfSet(s.decoder),
		closeIfSet(s.encoder),
		closeIfSet(s.tok),
	)
	s.decoder, s.encoder, s.tok = nil, nil, nil
	s.logger().Info("summarizer closed")
	return err
}

func (s *Summarizer) logger() logger.Logger {
	if s.log == nil {
		return logger.Discard()
	}
	return s.log
}

func (s *Summarizer) obs() Observer {
	if s.observer == nil {
		return NopObserver{}
	}
	return s.observer
}
