package imagecache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	c := New("/var/cache/sdflash", 0)

	if got := c.CompressedPath("img.img.xz"); got != "/var/cache/sdflash/img.img.xz" {
		t.Errorf("compressed path: %s", got)
	}
	if got := c.SidecarPath("img.img.xz"); got != "/var/cache/sdflash/img.img.xz.sha256" {
		t.Errorf("sidecar path: %s", got)
	}
	if got := c.ImagePath("2024-03-15"); got != "/var/cache/sdflash/raspios-2024-03-15.img" {
		t.Errorf("image path: %s", got)
	}
}

func TestHasImage(t *testing.T) {
	c := New(t.TempDir(), 0)

	if c.HasImage("2024-03-15") {
		t.Error("empty cache should not report an image")
	}

	if err := os.WriteFile(c.ImagePath("2024-03-15"), []byte("image data"), 0644); err != nil {
		t.Fatalf("failed to seed image: %v", err)
	}
	if !c.HasImage("2024-03-15") {
		t.Error("cache should report the seeded image")
	}

	// A zero-byte image is a failed extraction, not a warm hit.
	if err := os.WriteFile(c.ImagePath("2024-04-01"), nil, 0644); err != nil {
		t.Fatalf("failed to seed empty image: %v", err)
	}
	if c.HasImage("2024-04-01") {
		t.Error("zero-byte image must not count as cached")
	}
}

func TestHasCompressed(t *testing.T) {
	c := New(t.TempDir(), 0)
	const name = "2024-03-12-raspios-lite.img.xz"

	if c.HasCompressed(name) {
		t.Error("empty cache should not report a compressed artifact")
	}

	os.WriteFile(c.CompressedPath(name), []byte("xz"), 0644)
	if c.HasCompressed(name) {
		t.Error("compressed artifact without sidecar must not count")
	}

	os.WriteFile(c.SidecarPath(name), []byte("abc  file\n"), 0644)
	if !c.HasCompressed(name) {
		t.Error("compressed artifact with sidecar should count")
	}
}

func TestEnsureSpace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := New(dir, 1) // 1 byte requirement always passes

	if err := c.EnsureSpace(); err != nil {
		t.Fatalf("expected space check to pass: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Error("EnsureSpace should create the cache directory")
	}

	// An absurd requirement must fail with the space error kind.
	huge := New(dir, 1<<62)
	err := huge.EnsureSpace()
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("expected ErrInsufficientSpace, got %v", err)
	}
}

func TestRemoveCompressed(t *testing.T) {
	c := New(t.TempDir(), 0)
	const name = "poisoned.img.xz"

	os.WriteFile(c.CompressedPath(name), []byte("bad bytes"), 0644)
	os.WriteFile(c.CompressedPath(name)+".tmp", []byte("partial"), 0644)
	os.WriteFile(c.SidecarPath(name), []byte("digest"), 0644)

	c.RemoveCompressed(name)

	for _, p := range []string{c.CompressedPath(name), c.CompressedPath(name) + ".tmp", c.SidecarPath(name)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be deleted", p)
		}
	}
}

func TestVersionOfImage(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"raspios-2024-03-15.img", "2024-03-15"},
		{"raspios-2024-03-15.img.xz", ""},
		{"2024-03-12-raspios-lite.img.xz", ""},
		{"notes.txt", ""},
	}
	for _, tt := range tests {
		if got := VersionOfImage(tt.name); got != tt.want {
			t.Errorf("VersionOfImage(%s): got %q, want %q", tt.name, got, tt.want)
		}
	}
}
