//go:build !linux && !darwin
// +build !linux,!darwin

package diskinventory

import (
	"context"
	"fmt"
	"runtime"
)

// stubInventory rejects every operation on unsupported platforms.
type stubInventory struct{}

// NewInventory returns a stub on platforms without block device tooling.
func NewInventory() Inventory {
	return stubInventory{}
}

func (stubInventory) ListDisks(ctx context.Context) ([]*DiskDevice, error) {
	return nil, fmt.Errorf("disk inventory not supported on %s", runtime.GOOS)
}

func (stubInventory) Disk(ctx context.Context, device string) (*DiskDevice, error) {
	return nil, fmt.Errorf("disk inventory not supported on %s", runtime.GOOS)
}

func (stubInventory) RootDisk(ctx context.Context) (string, error) {
	return "", fmt.Errorf("disk inventory not supported on %s", runtime.GOOS)
}

func (stubInventory) UnmountAll(ctx context.Context, d *DiskDevice) error {
	return fmt.Errorf("disk inventory not supported on %s", runtime.GOOS)
}

func (stubInventory) RawDevice(device string) string { return device }

func (stubInventory) MountBoot(ctx context.Context, p Partition) (string, error) {
	return "", fmt.Errorf("disk inventory not supported on %s", runtime.GOOS)
}
