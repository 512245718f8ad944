//go:build darwin
// +build darwin

package diskinventory

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// DarwinInventory enumerates block devices through diskutil.
type DarwinInventory struct {
	run runner
}

// NewInventory creates the macOS disk inventory.
func NewInventory() Inventory {
	return &DarwinInventory{run: execRunner{}}
}

func (inv *DarwinInventory) ListDisks(ctx context.Context) ([]*DiskDevice, error) {
	out, err := inv.run.Output(ctx, "diskutil", "list")
	if err != nil {
		return nil, errors.Wrap(err, "diskutil list failed")
	}

	rootDisk, err := inv.RootDisk(ctx)
	if err != nil {
		slog.Warn("root_disk_unresolved", "error", err)
	}

	var disks []*DiskDevice
	for ident, partIdents := range parseDiskutilList(string(out)) {
		device := "/dev/" + ident
		if rootDisk != "" && device == rootDisk {
			slog.Info("inventory_root_disk_excluded", "device", device)
			continue
		}
		d, err := inv.describeDisk(ctx, device, partIdents)
		if err != nil {
			slog.Warn("inventory_disk_skipped", "device", device, "error", err)
			continue
		}
		disks = append(disks, d)
	}

	slog.Info("inventory_enumerated", "disk_count", len(disks), "root_disk", rootDisk)
	return disks, nil
}

func (inv *DarwinInventory) Disk(ctx context.Context, device string) (*DiskDevice, error) {
	out, err := inv.run.Output(ctx, "diskutil", "list")
	if err != nil {
		return nil, errors.Wrap(err, "diskutil list failed")
	}
	ident := strings.TrimPrefix(device, "/dev/")
	partIdents, ok := parseDiskutilList(string(out))[ident]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiskNotFound, device)
	}
	return inv.describeDisk(ctx, device, partIdents)
}

func (inv *DarwinInventory) describeDisk(ctx context.Context, device string, partIdents []string) (*DiskDevice, error) {
	out, err := inv.run.Output(ctx, "diskutil", "info", device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiskNotFound, device)
	}
	d := diskFromDiskutilInfo(device, parseDiskutilInfo(string(out)))

	for _, ident := range partIdents {
		partDev := "/dev/" + ident
		pout, err := inv.run.Output(ctx, "diskutil", "info", partDev)
		if err != nil {
			slog.Warn("inventory_partition_skipped", "device", partDev, "error", err)
			continue
		}
		d.Partitions = append(d.Partitions, partitionFromDiskutilInfo(partDev, parseDiskutilInfo(string(pout))))
	}
	return d, nil
}

func (inv *DarwinInventory) RootDisk(ctx context.Context) (string, error) {
	out, err := inv.run.Output(ctx, "diskutil", "info", "/")
	if err != nil {
		return "", errors.Wrap(err, "diskutil info / failed")
	}
	info := parseDiskutilInfo(string(out))

	// The root volume is an APFS container; "Part of Whole" names the
	// backing physical disk for synthesized and plain volumes alike.
	whole := info["Part of Whole"]
	if whole == "" {
		return "", fmt.Errorf("root volume has no parent disk")
	}
	// A synthesized APFS disk still needs mapping to its physical store.
	if store := info["APFS Physical Store"]; store != "" {
		whole = strings.TrimPrefix(parentWholeDiskDarwin(store), "/dev/")
	}
	return "/dev/" + whole, nil
}

var wholeDiskIdentPattern = regexp.MustCompile(`^disk\d+`)

// parentWholeDiskDarwin maps diskNsM to diskN.
func parentWholeDiskDarwin(dev string) string {
	name := strings.TrimPrefix(dev, "/dev/")
	if m := wholeDiskIdentPattern.FindString(name); m != "" {
		name = m
	}
	return "/dev/" + name
}

func (inv *DarwinInventory) UnmountAll(ctx context.Context, d *DiskDevice) error {
	slog.Info("unmount_disk", "device", d.Device)
	if err := inv.run.Run(ctx, "diskutil", "unmountDisk", d.Device); err != nil {
		return errors.Wrapf(err, "failed to unmount %s", d.Device)
	}
	return nil
}

// RawDevice maps /dev/diskN to the unbuffered /dev/rdiskN character device,
// which writes several times faster than the buffered block path.
func (inv *DarwinInventory) RawDevice(device string) string {
	name := strings.TrimPrefix(device, "/dev/")
	if strings.HasPrefix(name, "disk") {
		return "/dev/r" + name
	}
	return device
}

func (inv *DarwinInventory) MountBoot(ctx context.Context, p Partition) (string, error) {
	slog.Info("manual_mount", "device", p.Device)
	if err := inv.run.Run(ctx, "diskutil", "mount", p.Device); err != nil {
		return "", errors.Wrapf(err, "failed to mount %s", p.Device)
	}

	out, err := inv.run.Output(ctx, "diskutil", "info", p.Device)
	if err != nil {
		return "", errors.Wrap(err, "failed to query mount point")
	}
	mount := parseDiskutilInfo(string(out))["Mount Point"]
	if mount == "" {
		return "", fmt.Errorf("%s mounted but no mount point reported", p.Device)
	}
	return mount, nil
}
