// Package checksum computes and compares SHA-256 content digests for
// downloaded image artifacts.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// ErrMismatch is returned when a computed digest differs from the expected one.
var ErrMismatch = fmt.Errorf("checksum mismatch")

// File computes the hex-encoded SHA-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file for hashing")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(hash, f)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash file")
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	slog.Info("checksum_computed", "path", path, "size_mb", size/1024/1024, "sha256", digest[:16]+"...")
	return digest, nil
}

// ParseSidecar extracts the expected hex digest from a sidecar file body.
// The digest is the first whitespace-delimited token; the remainder of the
// line (usually the file name) is ignored.
func ParseSidecar(body string) (string, error) {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return "", fmt.Errorf("sidecar digest file is empty")
	}
	digest := strings.ToLower(fields[0])
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("sidecar digest %q is not a SHA-256 hex digest", fields[0])
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("sidecar digest %q is not valid hex", fields[0])
	}
	return digest, nil
}

// Verify computes the digest of the file at path and requires exact equality
// with expected. The caller owns deleting the artifact on mismatch.
func Verify(path, expected string) error {
	actual, err := File(path)
	if err != nil {
		return err
	}
	if actual != strings.ToLower(expected) {
		slog.Error("checksum_mismatch", "path", path, "expected", expected, "actual", actual)
		return fmt.Errorf("%w: expected %s, got %s", ErrMismatch, expected, actual)
	}
	slog.Info("checksum_verified", "path", path)
	return nil
}
