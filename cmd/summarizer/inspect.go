package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/summarizer/internal/session"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/tokenizer"
)

type inspectReport struct {
	Vocabulary     string         `json:"vocabulary"`
	VocabularySize int            `json:"vocabulary_size"`
	Tokens         []int          `json:"tokens,omitempty"`
	Encoder        *sessionReport `json:"encoder,omitempty"`
	Decoder        *sessionReport `json:"decoder,omitempty"`
}

type sessionReport struct {
	Path    string   `json:"path"`
	Inputs  []ioInfo `json:"inputs"`
	Outputs []ioInfo `json:"outputs"`
}

type ioInfo struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

func inspectCmd() *cli.Command {
	var (
		asJSON     bool
		sampleText string
		vocabOnly  bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the vocabulary size and model graph signatures",
		Flags: append(modelFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &asJSON,
			},
			&cli.StringFlag{
				Name:        "text",
				Usage:       "also print the token ids for this text",
				Destination: &sampleText,
			},
			&cli.BoolFlag{
				Name:        "vocab-only",
				Usage:       "skip loading the model graphs",
				Destination: &vocabOnly,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, configFromContext(ctx))
			if err := resolveArtifacts(modelDir, &encoderModel, &decoderModel, &vocabulary); err != nil {
				return err
			}
			if vocabulary == "" {
				return errors.New("--vocabulary or --model-dir is required")
			}

			report, err := inspectArtifacts(sampleText, vocabOnly)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(w, report)
		},
	}
}

func inspectArtifacts(sample string, vocabOnly bool) (*inspectReport, error) {
	tok, err := tokenizer.Load(vocabulary)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tok.Close() }()

	report := &inspectReport{Vocabulary: vocabulary, VocabularySize: tok.VocabSize()}
	if sample != "" {
		if report.Tokens, err = tok.Encode(sample); err != nil {
			return nil, err
		}
	}
	if vocabOnly {
		return report, nil
	}
	if report.Encoder, err = inspectSession(encoderModel); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if report.Decoder, err = inspectSession(decoderModel); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	return report, nil
}

func inspectSession(path string) (*sessionReport, error) {
	if path == "" {
		return nil, errors.New("model path is required")
	}
	s, err := session.OpenONNX(session.ONNXConfig{Path: path, LibraryPath: onnxLibrary, Tracker: tensor.NewTracker(nil)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	return &sessionReport{Path: path, Inputs: toIOInfo(s.Inputs()), Outputs: toIOInfo(s.Outputs())}, nil
}

func toIOInfo(infos []session.IOInfo) []ioInfo {
	out := make([]ioInfo, len(infos))
	for i, info := range infos {
		out[i] = ioInfo{Name: info.Name, DType: info.DType.String(), Shape: info.Shape}
	}
	return out
}

func printReport(w io.Writer, r *inspectReport) error {
	_, _ = fmt.Fprintf(w, "vocabulary:  %s (%d entries)\n", r.Vocabulary, r.VocabularySize)
	if r.Tokens != nil {
		_, _ = fmt.Fprintf(w, "tokens:      %v\n", r.Tokens)
	}
	for _, sr := range []struct {
		label string
		rep   *sessionReport
	}{{"encoder", r.Encoder}, {"decoder", r.Decoder}} {
		if sr.rep == nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s:     %s\n", sr.label, sr.rep.Path)
		for _, in := range sr.rep.Inputs {
			_, _ = fmt.Fprintf(w, "  input   %s %s %v\n", in.Name, in.DType, tensor.Shape(in.Shape))
		}
		for _, out := range sr.rep.Outputs {
			_, _ = fmt.Fprintf(w, "  output  %s %s %v\n", out.Name, out.DType, tensor.Shape(out.Shape))
		}
	}
	return nil
}
