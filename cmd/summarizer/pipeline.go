package main

import (
	"context"

	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/summarizer"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/toy"
)

// buildSummarizer loads the configured artifacts, or the in-memory toy
// pipeline when useToy is set.
func buildSummarizer(ctx context.Context, useToy bool, log logger.Logger, tr *tensor.Tracker, obs summarizer.Observer) (*summarizer.Summarizer, error) {
	opts := []summarizer.Option{
		summarizer.WithLogger(log),
		summarizer.WithTracker(tr),
		summarizer.WithObserver(obs),
	}
	cfg := pipelineConfig()
	if useToy {
		log.Info("using toy pipeline", "decoder_logits", cfg.DecoderLogits)
		tok := toy.Tokenizer()
		dec := toy.Decoder(tr)
		if cfg.DecoderLogits {
			dec = toy.ScoringDecoder(tr, tok.VocabSize())
		}
		return summarizer.NewFromComponents(cfg, tok, toy.Encoder(tr), dec, opts...)
	}
	if err := resolveArtifacts(modelDir, &cfg.EncoderModel, &cfg.DecoderModel, &cfg.Vocabulary); err != nil {
		return nil, err
	}
	return summarizer.New(ctx, cfg, opts...)
}
