// Package diskinventory enumerates block devices and their attributes on
// the host. The Inventory interface hides the platform divergence: Linux is
// backed by lsblk, macOS by diskutil. Device topology is volatile, so
// results are never cached across calls.
package diskinventory

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ErrDiskNotFound is returned when a requested device is not present.
var ErrDiskNotFound = fmt.Errorf("disk device not found")

// Removable is a tri-state removability flag: some transports cannot report it.
type Removable int

const (
	RemovableUnknown Removable = iota
	RemovableNo
	RemovableYes
)

func (r Removable) String() string {
	switch r {
	case RemovableYes:
		return "yes"
	case RemovableNo:
		return "no"
	default:
		return "unknown"
	}
}

// Partition describes a single partition of a whole disk.
type Partition struct {
	Device     string
	Label      string
	FSType     string
	MountPoint string
}

// DiskDevice describes a whole-disk block device as enumerated on this run.
type DiskDevice struct {
	Device     string
	SizeBytes  uint64
	Removable  Removable
	Transport  string
	Model      string
	Serial     string
	WholeDisk  bool
	Partitions []Partition
}

// MountPoints returns the non-empty mount points of the disk's partitions.
func (d *DiskDevice) MountPoints() []string {
	var mounts []string
	for _, p := range d.Partitions {
		if p.MountPoint != "" {
			mounts = append(mounts, p.MountPoint)
		}
	}
	return mounts
}

// Inventory is the platform capability for block device enumeration and
// mount control. Implementations are selected at startup via build tags.
type Inventory interface {
	// ListDisks enumerates all whole-disk devices, excluding the disk that
	// backs the running host's root filesystem.
	ListDisks(ctx context.Context) ([]*DiskDevice, error)

	// Disk returns a fresh view of a single device, partitions included.
	Disk(ctx context.Context, device string) (*DiskDevice, error)

	// RootDisk resolves the live root mount back to its parent whole disk.
	RootDisk(ctx context.Context) (string, error)

	// UnmountAll unmounts every currently mounted partition of the disk.
	UnmountAll(ctx context.Context, d *DiskDevice) error

	// RawDevice returns the unbuffered device path when the platform exposes
	// one, or the device itself otherwise.
	RawDevice(device string) string

	// MountBoot mounts a boot partition with operator-writable options and
	// returns the mount point. Used as the manual fallback when auto-mount
	// never happens.
	MountBoot(ctx context.Context, p Partition) (string, error)
}

// bootLabels are the volume labels a boot partition carries across OS image
// generations.
var bootLabels = map[string]bool{
	"boot":        true,
	"bootfs":      true,
	"system-boot": true,
}

// IsBootPartition reports whether a partition matches the boot-partition
// naming convention (FAT volume labelled boot/bootfs/system-boot, or mounted
// on a path ending in one of those names).
func IsBootPartition(p Partition) bool {
	if bootLabels[strings.ToLower(p.Label)] {
		return true
	}
	if p.MountPoint != "" {
		parts := strings.Split(strings.TrimRight(p.MountPoint, "/"), "/")
		if len(parts) > 0 && bootLabels[strings.ToLower(parts[len(parts)-1])] {
			return true
		}
	}
	return false
}

// runner abstracts subprocess execution so tests can inject canned output.
type runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
