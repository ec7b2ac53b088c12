package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultEncoderFile = "encoder_model.onnx"
	defaultDecoderFile = "decoder_model.onnx"
)

// vocabularyCandidates are tried in order inside --model-dir.
var vocabularyCandidates = []string{"spiece.model", "sentencepiece.bpe.model", "tokenizer.json", "vocab.json", "vocab.txt"}

// resolveArtifacts fills unset artifact locations from dir using the
// conventional export layout.
func resolveArtifacts(dir string, encoder, decoder, vocab *string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("model dir is not a directory: %s", dir)
	}
	if *encoder == "" {
		*encoder = filepath.Join(dir, defaultEncoderFile)
	}
	if *decoder == "" {
		*decoder = filepath.Join(dir, defaultDecoderFile)
	}
	if *vocab == "" {
		for _, name := range vocabularyCandidates {
			cand := filepath.Join(dir, name)
			if fileExists(cand) {
				*vocab = cand
				break
			}
		}
		if *vocab == "" {
			return fmt.Errorf("no vocabulary found in %s (looked for %s)", dir, strings.Join(vocabularyCandidates, ", "))
		}
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
