// Package imagecache maps image versions to locally stored compressed and
// decompressed artifacts under a shared cache directory.
//
// Layout per version: {dir}/{filename} (compressed), {dir}/{filename}.sha256
// (digest sidecar), {dir}/raspios-{version}.img (decompressed). The cache is
// append-only across runs and assumes a single operator at a time.
package imagecache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/errors"
	"github.com/shirou/gopsutil/v4/disk"
)

// ErrInsufficientSpace is returned by the precheck when the cache root has
// less free space than the configured requirement.
var ErrInsufficientSpace = fmt.Errorf("insufficient disk space in cache directory")

// Cache resolves canonical artifact paths for image versions.
type Cache struct {
	dir           string
	requiredBytes uint64
}

// New creates a cache rooted at dir. requiredBytes is the free-space floor
// enforced by EnsureSpace, sized to cover a compressed artifact plus its
// decompressed image.
func New(dir string, requiredBytes uint64) *Cache {
	return &Cache{dir: dir, requiredBytes: requiredBytes}
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// CompressedPath is the canonical location of the downloaded artifact.
func (c *Cache) CompressedPath(fileName string) string {
	return filepath.Join(c.dir, fileName)
}

// SidecarPath is the canonical location of the stored digest sidecar.
func (c *Cache) SidecarPath(fileName string) string {
	return filepath.Join(c.dir, fileName+".sha256")
}

// ImagePath is the canonical location of the decompressed image for version.
func (c *Cache) ImagePath(version string) string {
	return filepath.Join(c.dir, "raspios-"+version+".img")
}

// HasImage reports whether the final decompressed image for version already
// exists. A warm hit short-circuits the whole acquisition pipeline; no
// re-verification occurs on the final artifact.
func (c *Cache) HasImage(version string) bool {
	fi, err := os.Stat(c.ImagePath(version))
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// HasCompressed reports whether both the compressed artifact and its stored
// sidecar are present. Presence alone is not trust: the digest is recomputed
// before any extraction reuse.
func (c *Cache) HasCompressed(fileName string) bool {
	if _, err := os.Stat(c.CompressedPath(fileName)); err != nil {
		return false
	}
	_, err := os.Stat(c.SidecarPath(fileName))
	return err == nil
}

// EnsureSpace fails fast, before any network transfer, when free space at
// the cache root is below the required threshold.
func (c *Cache) EnsureSpace() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}

	usage, err := disk.Usage(c.dir)
	if err != nil {
		return errors.Wrap(err, "failed to stat cache filesystem")
	}

	slog.Info("cache_space_check", "dir", c.dir,
		"free_gb", usage.Free/1024/1024/1024, "required_gb", c.requiredBytes/1024/1024/1024)

	if usage.Free < c.requiredBytes {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientSpace, usage.Free, c.requiredBytes)
	}
	return nil
}

// WriteSidecar stores the sidecar body next to the compressed artifact.
func (c *Cache) WriteSidecar(fileName, body string) error {
	return errors.Wrap(os.WriteFile(c.SidecarPath(fileName), []byte(body), 0644), "failed to write sidecar")
}

// ReadSidecar returns the stored sidecar body for fileName.
func (c *Cache) ReadSidecar(fileName string) (string, error) {
	body, err := os.ReadFile(c.SidecarPath(fileName))
	if err != nil {
		return "", errors.Wrap(err, "failed to read sidecar")
	}
	return string(body), nil
}

// RemoveCompressed deletes a poisoned compressed artifact and its sidecar so
// no corrupt cache entry persists. The next run re-downloads from scratch.
func (c *Cache) RemoveCompressed(fileName string) {
	for _, path := range []string{
		c.CompressedPath(fileName),
		c.CompressedPath(fileName) + ".tmp",
		c.SidecarPath(fileName),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Error("cache_remove_failed", "path", path, "error", err)
		}
	}
	slog.Info("cache_compressed_removed", "file", fileName)
}

// Entries lists the cache directory contents, grouped loosely by artifact
// kind, for cleanup and diagnostics.
func (c *Cache) Entries() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read cache directory")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// VersionOfImage extracts the version from a decompressed image file name,
// or "" if the name does not follow the raspios-{version}.img convention.
func VersionOfImage(name string) string {
	if !strings.HasPrefix(name, "raspios-") || !strings.HasSuffix(name, ".img") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, "raspios-"), ".img")
}
