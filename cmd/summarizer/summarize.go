package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/summarizer"
	"github.com/samcharles93/summarizer/internal/tensor"
)

// stdin is a seam for tests.
var stdin io.Reader = os.Stdin

func summarizeCmd() *cli.Command {
	var (
		text   string
		useToy bool
	)

	return &cli.Command{
		Name:      "summarize",
		Usage:     "Summarize text from --text or stdin",
		ArgsUsage: "[text]",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "text",
				Aliases:     []string{"t"},
				Usage:       "text to summarize (default: remaining args, then stdin)",
				Destination: &text,
			},
			&cli.BoolFlag{
				Name:        "toy",
				Usage:       "use the built-in toy pipeline instead of model artifacts",
				Destination: &useToy,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, configFromContext(ctx))

			input, err := readInput(text, cmd.Args().Slice(), stdin)
			if err != nil {
				return err
			}

			tracker := tensor.NewTracker(nil)
			s, err := buildSummarizer(ctx, useToy, log, tracker, nil)
			if err != nil {
				return err
			}
			summary, err := s.Summarize(ctx, input)
			closeErr := s.Close()
			if err != nil {
				return errors.Join(err, closeErr)
			}
			if closeErr != nil {
				log.Warn("close summarizer", "error", closeErr)
			}
			_, err = fmt.Fprintln(cmd.Root().Writer, summary)
			return err
		},
	}
}

func readInput(flagText string, args []string, r io.Reader) (string, error) {
	if flagText != "" {
		return flagText, nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%w: no text given (use --text, args or stdin)", summarizer.ErrInvalidInput)
	}
	return string(data), nil
}
