package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/summarizer/internal/logger"
)

// Config represents the config file (~/.config/summarizer/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero.
type Config struct {
	ModelDir          string `yaml:"model_dir"`
	EncoderModel      string `yaml:"encoder_model"`
	DecoderModel      string `yaml:"decoder_model"`
	Vocabulary        string `yaml:"vocabulary"`
	ONNXLibrary       string `yaml:"onnx_library"`
	IntraOpThreads    *int   `yaml:"intra_op_threads"`
	MaxConcurrentRuns *int   `yaml:"max_concurrent_runs"`
	MaxInputTokens    *int   `yaml:"max_input_tokens"`
	EncoderInput      string `yaml:"encoder_input"`
	EncoderOutput     string `yaml:"encoder_output"`
	DecoderInput      string `yaml:"decoder_input"`
	DecoderOutput     string `yaml:"decoder_output"`
	DecoderLogits     *bool  `yaml:"decoder_logits"`

	// Server
	ServerAddress   string         `yaml:"server_address"`
	ReadTimeout     *time.Duration `yaml:"read_timeout"`
	RequestTimeout  *time.Duration `yaml:"request_timeout"`
	ShutdownTimeout *time.Duration `yaml:"shutdown_timeout"`
	RateLimit       *float64       `yaml:"rate_limit"`
	RateBurst       *int           `yaml:"rate_burst"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type configKey struct{}

func configFromContext(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "summarizer", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file at the default
// location yields a zero Config; an explicitly named file must exist.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// setup loads the config file and installs the logger before any command
// runs.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.ForFormat(logFormat, cmd.Root().ErrWriter, level)
	if err != nil {
		return ctx, err
	}
	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

// applyModelConfig applies config file values to model flags that were not
// set on the command line or through the environment.
func applyModelConfig(c *cli.Command, cfg Config) {
	setString(c, "model-dir", &modelDir, cfg.ModelDir)
	setString(c, "encoder-model", &encoderModel, cfg.EncoderModel)
	setString(c, "decoder-model", &decoderModel, cfg.DecoderModel)
	setString(c, "vocabulary", &vocabulary, cfg.Vocabulary)
	setString(c, "onnx-library", &onnxLibrary, cfg.ONNXLibrary)
	setString(c, "encoder-input", &encoderInput, cfg.EncoderInput)
	setString(c, "encoder-output", &encoderOutput, cfg.EncoderOutput)
	setString(c, "decoder-input", &decoderInput, cfg.DecoderInput)
	setString(c, "decoder-output", &decoderOutput, cfg.DecoderOutput)
	if cfg.IntraOpThreads != nil && !c.IsSet("intra-op-threads") {
		intraOpThreads = *cfg.IntraOpThreads
	}
	if cfg.MaxConcurrentRuns != nil && !c.IsSet("max-concurrent-runs") {
		maxConcurrentRuns = *cfg.MaxConcurrentRuns
	}
	if cfg.MaxInputTokens != nil && !c.IsSet("max-input-tokens") {
		maxInputTokens = *cfg.MaxInputTokens
	}
	if cfg.DecoderLogits != nil && !c.IsSet("decoder-logits") {
		decoderLogits = *cfg.DecoderLogits
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, sf *serveFlags) {
	setString(c, "addr", &sf.addr, cfg.ServerAddress)
	if cfg.ReadTimeout != nil && !c.IsSet("read-timeout") {
		sf.readTimeout = *cfg.ReadTimeout
	}
	if cfg.RequestTimeout != nil && !c.IsSet("request-timeout") {
		sf.requestTimeout = *cfg.RequestTimeout
	}
	if cfg.ShutdownTimeout != nil && !c.IsSet("shutdown-timeout") {
		sf.shutdownTimeout = *cfg.ShutdownTimeout
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		sf.rateLimit = *cfg.RateLimit
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		sf.rateBurst = *cfg.RateBurst
	}
}

func setString(c *cli.Command, flag string, dst *string, v string) {
	if v != "" && !c.IsSet(flag) {
		*dst = v
	}
}
