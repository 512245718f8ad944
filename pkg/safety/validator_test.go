package safety

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

type fakeInventory struct {
	disks    map[string]*diskinventory.DiskDevice
	rootDisk string
	rootErr  error
}

func (f *fakeInventory) Disk(ctx context.Context, device string) (*diskinventory.DiskDevice, error) {
	d, ok := f.disks[device]
	if !ok {
		return nil, fmt.Errorf("%w: %s", diskinventory.ErrDiskNotFound, device)
	}
	return d, nil
}

func (f *fakeInventory) RootDisk(ctx context.Context) (string, error) {
	return f.rootDisk, f.rootErr
}

func newFake() *fakeInventory {
	return &fakeInventory{
		rootDisk: "/dev/nvme0n1",
		disks: map[string]*diskinventory.DiskDevice{
			"/dev/nvme0n1": {Device: "/dev/nvme0n1", SizeBytes: 512 << 30, WholeDisk: true},
			"/dev/sdb":     {Device: "/dev/sdb", SizeBytes: 32 << 30, WholeDisk: true},
			"/dev/sdc":     {Device: "/dev/sdc", SizeBytes: 512 << 20, WholeDisk: true},
			"/dev/sdd":     {Device: "/dev/sdd", SizeBytes: 600 << 30, WholeDisk: true},
			"/dev/sdb1":    {Device: "/dev/sdb1", SizeBytes: 32 << 30, WholeDisk: false},
		},
	}
}

func TestValidate_Accepts(t *testing.T) {
	v := NewValidator(newFake(), 1<<30, 512<<30)

	d, err := v.Validate(context.Background(), "/dev/sdb")
	if err != nil {
		t.Fatalf("expected /dev/sdb to validate: %v", err)
	}
	if d.Device != "/dev/sdb" {
		t.Errorf("got device %s", d.Device)
	}
}

func TestValidate_Rejections(t *testing.T) {
	v := NewValidator(newFake(), 1<<30, 512<<30)

	tests := []struct {
		name   string
		device string
	}{
		{"missing device", "/dev/sde"},
		{"partition handle", "/dev/sdb1"},
		{"root disk", "/dev/nvme0n1"},
		{"half gigabyte", "/dev/sdc"},
		{"600 GiB", "/dev/sdd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(context.Background(), tt.device); err == nil {
				t.Errorf("expected %s to be rejected", tt.device)
			}
		})
	}
}

func TestValidate_ErrorKinds(t *testing.T) {
	v := NewValidator(newFake(), 1<<30, 512<<30)

	_, err := v.Validate(context.Background(), "/dev/sde")
	if !errors.Is(err, diskinventory.ErrDiskNotFound) {
		t.Errorf("missing device: expected ErrDiskNotFound, got %v", err)
	}

	_, err = v.Validate(context.Background(), "/dev/nvme0n1")
	var unsafe *UnsafeTargetError
	if !errors.As(err, &unsafe) {
		t.Fatalf("root disk: expected UnsafeTargetError, got %v", err)
	}
	if unsafe.Device != "/dev/nvme0n1" {
		t.Errorf("unexpected device in error: %s", unsafe.Device)
	}
}

func TestValidate_UnresolvableRootRefuses(t *testing.T) {
	f := newFake()
	f.rootErr = fmt.Errorf("mounts table unreadable")
	v := NewValidator(f, 1<<30, 512<<30)

	if _, err := v.Validate(context.Background(), "/dev/sdb"); err == nil {
		t.Error("expected rejection when the root disk cannot be resolved")
	}
}
