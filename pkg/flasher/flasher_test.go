package flasher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

// fakeInventory backs device paths with regular files.
type fakeInventory struct {
	unmounted  []string
	rawSuffix  string
	unmountErr error
}

func (f *fakeInventory) ListDisks(ctx context.Context) ([]*diskinventory.DiskDevice, error) {
	return nil, nil
}

func (f *fakeInventory) Disk(ctx context.Context, device string) (*diskinventory.DiskDevice, error) {
	return nil, diskinventory.ErrDiskNotFound
}

func (f *fakeInventory) RootDisk(ctx context.Context) (string, error) { return "", nil }

func (f *fakeInventory) UnmountAll(ctx context.Context, d *diskinventory.DiskDevice) error {
	f.unmounted = append(f.unmounted, d.Device)
	return f.unmountErr
}

func (f *fakeInventory) RawDevice(device string) string { return device + f.rawSuffix }

func (f *fakeInventory) MountBoot(ctx context.Context, p diskinventory.Partition) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func init() {
	// Avoid flushing the whole host filesystem from unit tests.
	syncCommand = "true"
}

func TestFlash_WritesWholeImage(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "raspios.img")
	device := filepath.Join(dir, "sdb")

	payload := bytes.Repeat([]byte("sector"), 4096)
	if err := os.WriteFile(image, payload, 0644); err != nil {
		t.Fatalf("failed to seed image: %v", err)
	}
	if err := os.WriteFile(device, nil, 0644); err != nil {
		t.Fatalf("failed to seed device file: %v", err)
	}

	inv := &fakeInventory{}
	f := New(inv, 1<<20)

	target := &diskinventory.DiskDevice{Device: device, WholeDisk: true}
	job, err := f.Flash(context.Background(), image, target)
	if err != nil {
		t.Fatalf("flash failed: %v", err)
	}

	if job.Written != int64(len(payload)) {
		t.Errorf("written: got %d, want %d", job.Written, len(payload))
	}
	if len(inv.unmounted) != 1 || inv.unmounted[0] != device {
		t.Errorf("target was not unmounted first: %v", inv.unmounted)
	}

	got, _ := os.ReadFile(device)
	if !bytes.Equal(got, payload) {
		t.Error("device content does not match image")
	}
}

func TestFlash_FallsBackFromRawDevice(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "raspios.img")
	device := filepath.Join(dir, "disk4")

	os.WriteFile(image, []byte("image"), 0644)
	os.WriteFile(device, nil, 0644)

	// The raw path does not exist, so the flasher must fall back to the
	// block path.
	inv := &fakeInventory{rawSuffix: ".raw-missing"}
	f := New(inv, 0)

	job, err := f.Flash(context.Background(), image, &diskinventory.DiskDevice{Device: device})
	if err != nil {
		t.Fatalf("flash failed: %v", err)
	}
	if job.RawDevice != device {
		t.Errorf("expected fallback to block path, wrote to %s", job.RawDevice)
	}
}

func TestFlash_MissingDevice(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "raspios.img")
	os.WriteFile(image, []byte("image"), 0644)

	f := New(&fakeInventory{}, 0)
	_, err := f.Flash(context.Background(), image, &diskinventory.DiskDevice{Device: filepath.Join(dir, "missing")})
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}

func TestFlash_UnmountFailureStopsWrite(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "raspios.img")
	device := filepath.Join(dir, "sdb")
	os.WriteFile(image, []byte("image"), 0644)
	os.WriteFile(device, []byte("untouched"), 0644)

	inv := &fakeInventory{unmountErr: fmt.Errorf("target busy")}
	f := New(inv, 0)

	if _, err := f.Flash(context.Background(), image, &diskinventory.DiskDevice{Device: device}); err == nil {
		t.Fatal("expected error when unmount fails")
	}

	got, _ := os.ReadFile(device)
	if string(got) != "untouched" {
		t.Error("device must not be written when unmount fails")
	}
}
