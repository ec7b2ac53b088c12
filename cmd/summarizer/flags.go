package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/summarizer/internal/summarizer"
)

const envPrefix = "SUMMARIZER_"

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	modelDir          string
	encoderModel      string
	decoderModel      string
	vocabulary        string
	onnxLibrary       string
	intraOpThreads    int
	maxConcurrentRuns int
	maxInputTokens    int
	encoderInput      string
	encoderOutput     string
	decoderInput      string
	decoderOutput     string
	decoderLogits     bool
)

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml (default: user config dir)",
		Sources:     env("CONFIG"),
		Destination: &configFile,
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     env("LOG_LEVEL"),
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Sources:     env("LOG_FORMAT"),
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-dir",
			Aliases:     []string{"d"},
			Usage:       "directory holding encoder_model.onnx, decoder_model.onnx and the vocabulary",
			Sources:     env("MODEL_DIR"),
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "encoder-model",
			Usage:       "path to the encoder .onnx graph",
			Sources:     env("ENCODER_MODEL"),
			Destination: &encoderModel,
		},
		&cli.StringFlag{
			Name:        "decoder-model",
			Usage:       "path to the decoder .onnx graph",
			Sources:     env("DECODER_MODEL"),
			Destination: &decoderModel,
		},
		&cli.StringFlag{
			Name:        "vocabulary",
			Aliases:     []string{"vocab"},
			Usage:       "vocabulary: .model (SentencePiece), tokenizer.json, vocab.json, .vocab/.txt or tiktoken:<encoding>",
			Sources:     env("VOCABULARY"),
			Destination: &vocabulary,
		},
		&cli.StringFlag{
			Name:        "onnx-library",
			Usage:       "path to the onnxruntime shared library",
			Sources:     env("ONNX_LIBRARY"),
			Destination: &onnxLibrary,
		},
		&cli.IntFlag{
			Name:        "intra-op-threads",
			Usage:       "onnxruntime intra-op threads (0 = runtime default)",
			Sources:     env("INTRA_OP_THREADS"),
			Destination: &intraOpThreads,
		},
		&cli.IntFlag{
			Name:        "max-concurrent-runs",
			Usage:       "concurrent runs per model session (negative = unbounded)",
			Value:       1,
			Sources:     env("MAX_CONCURRENT_RUNS"),
			Destination: &maxConcurrentRuns,
		},
		&cli.IntFlag{
			Name:        "max-input-tokens",
			Usage:       "truncate inputs to this many tokens (0 = no limit)",
			Sources:     env("MAX_INPUT_TOKENS"),
			Destination: &maxInputTokens,
		},
		&cli.StringFlag{
			Name:        "encoder-input",
			Usage:       "encoder graph input name",
			Value:       summarizer.DefaultEncoderInput,
			Destination: &encoderInput,
		},
		&cli.StringFlag{
			Name:        "encoder-output",
			Usage:       "encoder graph output fed to the decoder (default: first output)",
			Destination: &encoderOutput,
		},
		&cli.StringFlag{
			Name:        "decoder-input",
			Usage:       "decoder graph input name",
			Value:       summarizer.DefaultDecoderInput,
			Destination: &decoderInput,
		},
		&cli.StringFlag{
			Name:        "decoder-output",
			Usage:       "decoder graph output holding token ids (default: first output)",
			Destination: &decoderOutput,
		},
		&cli.BoolFlag{
			Name:        "decoder-logits",
			Usage:       "decoder output holds per-position logits; pick tokens by argmax",
			Sources:     env("DECODER_LOGITS"),
			Destination: &decoderLogits,
		},
	}
}

// pipelineConfig collects the model flags into a summarizer config.
func pipelineConfig() summarizer.Config {
	return summarizer.Config{
		EncoderModel:      encoderModel,
		DecoderModel:      decoderModel,
		Vocabulary:        vocabulary,
		RuntimeLibrary:    onnxLibrary,
		IntraOpThreads:    intraOpThreads,
		MaxConcurrentRuns: maxConcurrentRuns,
		MaxInputTokens:    maxInputTokens,
		EncoderInput:      encoderInput,
		EncoderOutput:     encoderOutput,
		DecoderInput:      decoderInput,
		DecoderOutput:     decoderOutput,
		DecoderLogits:     decoderLogits,
	}
}
