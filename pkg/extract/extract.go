// Package extract expands a verified compressed image artifact into a raw
// disk image by streaming it through the system xz decompressor.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// ErrExtraction is the fatal decompression failure kind. Partial temporary
// output is always discarded.
var ErrExtraction = fmt.Errorf("image extraction failed")

// xzCommand is overridable in tests.
var xzCommand = "xz"

// Decompress streams compressedPath through xz into a temporary file and
// atomically renames the result to imagePath. On any failure the temporary
// output is removed and imagePath is left untouched.
func Decompress(ctx context.Context, compressedPath, imagePath string) error {
	slog.Info("extract_start", "compressed", compressedPath, "image", imagePath)

	tmpPath := imagePath + ".tmp"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to create temporary image file")
	}

	cmd := exec.CommandContext(ctx, xzCommand, "--decompress", "--stdout", "--keep", compressedPath)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()
	if cerr := out.Close(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	if runErr != nil {
		os.Remove(tmpPath)
		slog.Error("extract_failed", "compressed", compressedPath, "error", runErr)
		return fmt.Errorf("%w: %v", ErrExtraction, runErr)
	}

	fi, err := os.Stat(tmpPath)
	if err != nil || fi.Size() == 0 {
		os.Remove(tmpPath)
		slog.Error("extract_empty_output", "compressed", compressedPath)
		return fmt.Errorf("%w: decompressor produced no output", ErrExtraction)
	}

	if err := os.Rename(tmpPath, imagePath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "failed to finalize decompressed image")
	}

	slog.Info("extract_complete", "image", imagePath, "size_mb", fi.Size()/1024/1024)
	return nil
}
