package summarizer

import (
	"errors"
	"strings"

	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/tokenizer"
)

const (
	DefaultEncoderInput = "input_ids"
	DefaultDecoderInput = "encoder_hidden_states"
)

// Config locates the three artifacts and names the graph endpoints the
// pipeline binds. Empty output names select each graph's first output.
type Config struct {
	EncoderModel string
	DecoderModel string
	Vocabulary   string

	// RuntimeLibrary overrides the onnxruntime shared library path.
	RuntimeLibrary string
	IntraOpThreads int
	// MaxConcurrentRuns bounds in-flight runs per session. 0 means 1;
	// negative means unbounded.
	MaxConcurrentRuns int
	// MaxInputTokens truncates longer inputs. 0 disables truncation.
	MaxInputTokens int

	EncoderInput  string
	EncoderOutput string
	DecoderInput  string
	DecoderOutput string
	// DecoderLogits marks a decoder output holding one score per vocabulary
	// entry on its last axis. Ids are then the per-position argmax instead
	// of the rounded output values.
	DecoderLogits bool
}

func (c Config) withDefaults() Config {
	if c.EncoderInput == "" {
		c.EncoderInput = DefaultEncoderInput
	}
	if c.DecoderInput == "" {
		c.DecoderInput = DefaultDecoderInput
	}
	if c.MaxConcurrentRuns == 0 {
		c.MaxConcurrentRuns = 1
	}
	return c
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.EncoderModel) == "" {
		errs = append(errs, errors.New("encoder model location is required"))
	}
	if strings.TrimSpace(c.DecoderModel) == "" {
		errs = append(errs, errors.New("decoder model location is required"))
	}
	if strings.TrimSpace(c.Vocabulary) == "" {
		errs = append(errs, errors.New("vocabulary location is required"))
	}
	if c.MaxInputTokens < 0 {
		errs = append(errs, errors.New("max input tokens must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) sessionConfig(path, input, output string, tr *tensor.Tracker) session.ONNXConfig {
	cfg := session.ONNXConfig{
		Path:           path,
		LibraryPath:    c.RuntimeLibrary,
		InputNames:     []string{input},
		IntraOpThreads: c.IntraOpThreads,
		Tracker:        tr,
	}
	if output != "" {
		cfg.OutputNames = []string{output}
	}
	return cfg
}

// Loaders open the artifacts named in Config.
type Loaders struct {
	Tokenizer func(location string) (tokenizer.Tokenizer, error)
	Session   func(cfg session.ONNXConfig) (session.Session, error)
}

// DefaultLoaders picks a tokenizer backend by location and runs graphs with
// onnxruntime.
func DefaultLoaders() Loaders {
	return Loaders{
		Tokenizer: tokenizer.Load,
		Session: func(cfg session.ONNXConfig) (session.Session, error) {
			s, err := session.OpenONNX(cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

type Option func(*options)

type options struct {
	log      logger.Logger
	tracker  *tensor.Tracker
	observer Observer
	loaders  Loaders
}

func buildOptions(opts []Option) options {
	o := options{
		log:      logger.Discard(),
		observer: NopObserver{},
		loaders:  DefaultLoaders(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracker == nil {
		o.tracker = tensor.NewTracker(nil)
	}
	return o
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTracker counts every tensor the pipeline and its sessions create.
func WithTracker(tr *tensor.Tracker) Option {
	return func(o *options) { o.tracker = tr }
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLoaders replaces how artifacts are opened. Nil fields keep the default.
func WithLoaders(l Loaders) Option {
	return func(o *options) {
		if l.Tokenizer != nil {
			o.loaders.Tokenizer = l.Tokenizer
		}
		if l.Session != nil {
			o.loaders.Session = l.Session
		}
	}
}
