// Package safety provides the hard validation gate that runs before any
// destructive action. It re-checks the target authoritatively, independent
// of whatever the heuristic classifier concluded.
package safety

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

// UnsafeTargetError reports why a device must never be flashed.
type UnsafeTargetError struct {
	Device string
	Reason string
}

func (e *UnsafeTargetError) Error() string {
	return fmt.Sprintf("unsafe flash target %s: %s", e.Device, e.Reason)
}

// InventoryView is the slice of the disk inventory the validator needs.
type InventoryView interface {
	Disk(ctx context.Context, device string) (*diskinventory.DiskDevice, error)
	RootDisk(ctx context.Context) (string, error)
}

// Validator re-checks flash targets against the hard safety rules.
type Validator struct {
	inv     InventoryView
	minSize uint64
	maxSize uint64
}

// NewValidator creates a validator with the given size eligibility window.
func NewValidator(inv InventoryView, minSize, maxSize uint64) *Validator {
	slog.Info("safety_validator_init",
		"min_size_gb", minSize/1024/1024/1024,
		"max_size_gb", maxSize/1024/1024/1024)
	return &Validator{inv: inv, minSize: minSize, maxSize: maxSize}
}

// Validate returns a fresh view of the device after confirming it exists,
// is a whole disk, is not the root disk, and is within size bounds. A device
// that fails any check is never flashable, regardless of classification.
func (v *Validator) Validate(ctx context.Context, device string) (*diskinventory.DiskDevice, error) {
	d, err := v.inv.Disk(ctx, device)
	if err != nil {
		slog.Error("safety_device_missing", "device", device, "error", err)
		return nil, err
	}

	if !d.WholeDisk {
		slog.Error("safety_not_whole_disk", "device", device)
		return nil, &UnsafeTargetError{Device: device, Reason: "not a whole disk"}
	}

	rootDisk, err := v.inv.RootDisk(ctx)
	if err != nil {
		// An unresolvable root disk means the root check cannot be proven;
		// refuse rather than guess.
		slog.Error("safety_root_disk_unresolved", "error", err)
		return nil, &UnsafeTargetError{Device: device, Reason: "cannot resolve root disk: " + err.Error()}
	}
	if d.Device == rootDisk {
		slog.Error("safety_root_disk_selected", "device", device)
		return nil, &UnsafeTargetError{Device: device, Reason: "backs the running root filesystem"}
	}

	if d.SizeBytes < v.minSize {
		slog.Error("safety_too_small", "device", device, "size", d.SizeBytes)
		return nil, &UnsafeTargetError{
			Device: device,
			Reason: fmt.Sprintf("size %d below minimum %d", d.SizeBytes, v.minSize),
		}
	}
	if d.SizeBytes > v.maxSize {
		slog.Error("safety_too_large", "device", device, "size", d.SizeBytes)
		return nil, &UnsafeTargetError{
			Device: device,
			Reason: fmt.Sprintf("size %d above maximum %d", d.SizeBytes, v.maxSize),
		}
	}

	slog.Info("safety_validated", "device", device, "size_gb", d.SizeBytes/1024/1024/1024)
	return d, nil
}
