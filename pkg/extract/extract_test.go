package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeXZ installs a stand-in decompressor script for the duration of a test.
func fakeXZ(t *testing.T, script string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xz")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatalf("failed to install fake xz: %v", err)
	}
	old := xzCommand
	xzCommand = path
	t.Cleanup(func() { xzCommand = old })
}

func TestDecompress(t *testing.T) {
	// The stand-in "decompresses" by emitting the input file unchanged.
	fakeXZ(t, `cat "$4"`)

	dir := t.TempDir()
	compressed := filepath.Join(dir, "image.img.xz")
	image := filepath.Join(dir, "raspios-2024-03-15.img")
	if err := os.WriteFile(compressed, []byte("raw image bytes"), 0644); err != nil {
		t.Fatalf("failed to seed compressed file: %v", err)
	}

	if err := Decompress(context.Background(), compressed, image); err != nil {
		t.Fatalf("decompress failed: %v", err)
	}

	got, err := os.ReadFile(image)
	if err != nil {
		t.Fatalf("failed to read image: %v", err)
	}
	if string(got) != "raw image bytes" {
		t.Errorf("unexpected image content: %q", got)
	}
	if _, err := os.Stat(image + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary output should not remain after success")
	}
}

func TestDecompress_NonZeroExit(t *testing.T) {
	fakeXZ(t, `echo partial; exit 1`)

	dir := t.TempDir()
	compressed := filepath.Join(dir, "image.img.xz")
	image := filepath.Join(dir, "raspios-2024-03-15.img")
	os.WriteFile(compressed, []byte("bytes"), 0644)

	err := Decompress(context.Background(), compressed, image)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}

	if _, err := os.Stat(image); !os.IsNotExist(err) {
		t.Error("image must not exist after failed extraction")
	}
	if _, err := os.Stat(image + ".tmp"); !os.IsNotExist(err) {
		t.Error("partial temporary output must be discarded on failure")
	}
}

func TestDecompress_EmptyOutput(t *testing.T) {
	fakeXZ(t, `exit 0`)

	dir := t.TempDir()
	compressed := filepath.Join(dir, "image.img.xz")
	image := filepath.Join(dir, "raspios-2024-03-15.img")
	os.WriteFile(compressed, []byte("bytes"), 0644)

	err := Decompress(context.Background(), compressed, image)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected ErrExtraction for empty output, got %v", err)
	}
	if _, err := os.Stat(image + ".tmp"); !os.IsNotExist(err) {
		t.Error("empty temporary output must be discarded")
	}
}
