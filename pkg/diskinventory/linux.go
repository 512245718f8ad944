//go:build linux
// +build linux

package diskinventory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// LinuxInventory enumerates block devices through lsblk and controls mounts
// through mount/umount.
type LinuxInventory struct {
	run      runner
	mountDir string
}

// NewInventory creates the Linux disk inventory.
func NewInventory() Inventory {
	return &LinuxInventory{run: execRunner{}, mountDir: "/run/sdflash"}
}

func (inv *LinuxInventory) ListDisks(ctx context.Context) ([]*DiskDevice, error) {
	out, err := inv.run.Output(ctx, "lsblk", "-b", "-J", "-o", lsblkColumns)
	if err != nil {
		return nil, errors.Wrap(err, "lsblk failed")
	}

	disks, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}

	rootDisk, err := inv.RootDisk(ctx)
	if err != nil {
		slog.Warn("root_disk_unresolved", "error", err)
	}

	// The root disk is excluded from enumeration entirely, never merely
	// scored low by the classifier.
	filtered := disks[:0]
	for _, d := range disks {
		if rootDisk != "" && d.Device == rootDisk {
			slog.Info("inventory_root_disk_excluded", "device", d.Device)
			continue
		}
		filtered = append(filtered, d)
	}

	slog.Info("inventory_enumerated", "disk_count", len(filtered), "root_disk", rootDisk)
	return filtered, nil
}

func (inv *LinuxInventory) Disk(ctx context.Context, device string) (*DiskDevice, error) {
	out, err := inv.run.Output(ctx, "lsblk", "-b", "-J", "-o", lsblkColumns, device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiskNotFound, device)
	}
	disks, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}
	if len(disks) == 0 {
		return nil, fmt.Errorf("%w: %s is not a whole disk", ErrDiskNotFound, device)
	}
	return disks[0], nil
}

func (inv *LinuxInventory) RootDisk(ctx context.Context) (string, error) {
	data, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return "", errors.Wrap(err, "failed to read mounts")
	}
	dev := parseRootDevice(string(data))
	if dev == "" {
		return "", fmt.Errorf("no root mount found")
	}
	return parentWholeDisk(dev), nil
}

func (inv *LinuxInventory) UnmountAll(ctx context.Context, d *DiskDevice) error {
	for _, p := range d.Partitions {
		if p.MountPoint == "" {
			continue
		}
		slog.Info("unmount_partition", "device", p.Device, "mount_point", p.MountPoint)
		if err := inv.run.Run(ctx, "umount", p.Device); err != nil {
			return errors.Wrapf(err, "failed to unmount %s", p.Device)
		}
	}
	return nil
}

// RawDevice is the block path itself on Linux; there is no separate
// character-special node.
func (inv *LinuxInventory) RawDevice(device string) string { return device }

func (inv *LinuxInventory) MountBoot(ctx context.Context, p Partition) (string, error) {
	target := inv.mountDir + "/boot"
	if err := os.MkdirAll(target, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create mount point")
	}

	args := []string{p.Device, target}
	if p.FSType == "vfat" || p.FSType == "" {
		// FAT has no ownership; map files to the invoking operator so the
		// boot partition is writable without root once mounted.
		uid, gid := os.Getuid(), os.Getgid()
		args = []string{"-t", "vfat",
			"-o", "uid=" + strconv.Itoa(uid) + ",gid=" + strconv.Itoa(gid),
			p.Device, target}
	}

	slog.Info("manual_mount", "device", p.Device, "target", target, "fstype", p.FSType)
	if err := inv.run.Run(ctx, "mount", args...); err != nil {
		return "", errors.Wrapf(err, "failed to mount %s", p.Device)
	}
	return target, nil
}
