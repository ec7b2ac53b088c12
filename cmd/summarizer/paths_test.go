package main

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveArtifacts(t *testing.T) {
	t.Run("conventional layout", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "spiece.model"))
		touch(t, filepath.Join(dir, "tokenizer.json"))

		var enc, dec, vocab string
		if err := resolveArtifacts(dir, &enc, &dec, &vocab); err != nil {
			t.Fatalf("resolveArtifacts returned error: %v", err)
		}
		if want := filepath.Join(dir, "encoder_model.onnx"); enc != want {
			t.Fatalf("unexpected encoder path: got %q want %q", enc, want)
		}
		if want := filepath.Join(dir, "decoder_model.onnx"); dec != want {
			t.Fatalf("unexpected decoder path: got %q want %q", dec, want)
		}
		if want := filepath.Join(dir, "spiece.model"); vocab != want {
			t.Fatalf("expected spiece.model to win over tokenizer.json: got %q", vocab)
		}
	})

	t.Run("explicit paths win", func(t *testing.T) {
		dir := t.TempDir()
		enc, dec, vocab := "/a/enc.onnx", "/a/dec.onnx", "tiktoken:cl100k_base"
		if err := resolveArtifacts(dir, &enc, &dec, &vocab); err != nil {
			t.Fatalf("resolveArtifacts returned error: %v", err)
		}
		if enc != "/a/enc.onnx" || dec != "/a/dec.onnx" || vocab != "tiktoken:cl100k_base" {
			t.Fatalf("explicit paths were rewritten: %q %q %q", enc, dec, vocab)
		}
	})

	t.Run("falls back to tokenizer.json", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, filepath.Join(dir, "tokenizer.json"))
		var enc, dec, vocab string
		if err := resolveArtifacts(dir, &enc, &dec, &vocab); err != nil {
			t.Fatalf("resolveArtifacts returned error: %v", err)
		}
		if want := filepath.Join(dir, "tokenizer.json"); vocab != want {
			t.Fatalf("unexpected vocabulary path: got %q want %q", vocab, want)
		}
	})

	t.Run("no vocabulary", func(t *testing.T) {
		var enc, dec, vocab string
		if err := resolveArtifacts(t.TempDir(), &enc, &dec, &vocab); err == nil {
			t.Fatalf("expected an error for a directory without a vocabulary")
		}
	})

	t.Run("not a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "f")
		touch(t, file)
		var enc, dec, vocab string
		if err := resolveArtifacts(file, &enc, &dec, &vocab); err == nil {
			t.Fatalf("expected an error for a regular file")
		}
	})

	t.Run("empty dir is a no-op", func(t *testing.T) {
		var enc, dec, vocab string
		if err := resolveArtifacts("", &enc, &dec, &vocab); err != nil {
			t.Fatalf("resolveArtifacts returned error: %v", err)
		}
		if enc != "" {
			t.Fatalf("expected no encoder path, got %q", enc)
		}
	})
}
