// Package bootwait waits for a freshly written device to re-enumerate and
// expose its boot partition, mounted and writable.
//
// The OS device-rescan event is not reliably observable cross-platform, so
// the waiter is a bounded sleep-then-recheck state machine rather than an
// event subscription.
package bootwait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

// ErrMountTimeout is the fatal outcome after the poll budget and the single
// manual mount attempt are both exhausted.
var ErrMountTimeout = fmt.Errorf("boot partition never mounted")

// State of the wait loop.
type State int

const (
	WaitingForEnumeration State = iota
	WaitingForMount
	Mounted
	Failed
)

func (s State) String() string {
	switch s {
	case WaitingForEnumeration:
		return "WAITING_FOR_ENUMERATION"
	case WaitingForMount:
		return "WAITING_FOR_MOUNT"
	case Mounted:
		return "MOUNTED"
	default:
		return "FAILED"
	}
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// PartitionSource is the slice of the disk inventory the waiter polls.
type PartitionSource interface {
	Disk(ctx context.Context, device string) (*diskinventory.DiskDevice, error)
	MountBoot(ctx context.Context, p diskinventory.Partition) (string, error)
}

// Waiter polls for the boot partition of a just-flashed disk.
type Waiter struct {
	inv      PartitionSource
	clock    Clock
	settle   time.Duration
	interval time.Duration
	maxWait  time.Duration
}

// Option configures a Waiter.
type Option func(*Waiter)

// WithClock injects a clock, used by tests.
func WithClock(c Clock) Option { return func(w *Waiter) { w.clock = c } }

// WithBudget overrides the settle delay, poll interval and maximum wait.
func WithBudget(settle, interval, maxWait time.Duration) Option {
	return func(w *Waiter) {
		w.settle = settle
		w.interval = interval
		w.maxWait = maxWait
	}
}

// New creates a waiter with the default 2s settle, 1s interval, 30s budget.
func New(inv PartitionSource, opts ...Option) *Waiter {
	w := &Waiter{
		inv:      inv,
		clock:    systemClock{},
		settle:   2 * time.Second,
		interval: time.Second,
		maxWait:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait blocks until the boot partition of device is mounted, or the budget
// runs out. It returns the mount point on success. After the poll budget is
// exhausted it makes exactly one explicit mount attempt before failing,
// covering platforms where auto-mount never happens.
func (w *Waiter) Wait(ctx context.Context, device string) (string, error) {
	state := WaitingForEnumeration
	slog.Info("bootwait_start", "device", device, "state", state,
		"interval", w.interval, "max_wait", w.maxWait)

	// Give the kernel a moment to re-scan the partition table before the
	// first query; the device node may briefly disappear after the write.
	w.clock.Sleep(w.settle)

	deadline := w.clock.Now().Add(w.maxWait)
	var lastSeen *diskinventory.Partition

	for {
		boot, err := w.bootPartition(ctx, device)
		if err != nil {
			slog.Debug("bootwait_enumeration_pending", "device", device, "error", err)
		} else if boot != nil {
			lastSeen = boot
			if state == WaitingForEnumeration {
				state = WaitingForMount
				slog.Info("bootwait_partition_seen", "partition", boot.Device, "state", state)
			}
			if boot.MountPoint != "" {
				state = Mounted
				slog.Info("bootwait_mounted", "partition", boot.Device,
					"mount_point", boot.MountPoint, "state", state)
				return boot.MountPoint, nil
			}
		}

		if !w.clock.Now().Before(deadline) {
			break
		}
		w.clock.Sleep(w.interval)
	}

	// Poll budget exhausted: one manual mount attempt, then give up.
	if lastSeen != nil {
		slog.Info("bootwait_manual_mount", "partition", lastSeen.Device)
		if mount, err := w.inv.MountBoot(ctx, *lastSeen); err == nil {
			state = Mounted
			slog.Info("bootwait_mounted", "partition", lastSeen.Device,
				"mount_point", mount, "state", state)
			return mount, nil
		} else {
			slog.Error("bootwait_manual_mount_failed", "partition", lastSeen.Device, "error", err)
		}
	}

	state = Failed
	slog.Error("bootwait_timeout", "device", device, "state", state, "waited", w.maxWait)
	return "", fmt.Errorf("%w: %s after %s", ErrMountTimeout, device, w.maxWait)
}

// bootPartition returns the partition of device matching the boot naming
// convention, falling back to the first partition when none is labelled yet.
func (w *Waiter) bootPartition(ctx context.Context, device string) (*diskinventory.Partition, error) {
	d, err := w.inv.Disk(ctx, device)
	if err != nil {
		return nil, err
	}
	for i := range d.Partitions {
		if diskinventory.IsBootPartition(d.Partitions[i]) {
			return &d.Partitions[i], nil
		}
	}
	if len(d.Partitions) > 0 {
		return &d.Partitions[0], nil
	}
	return nil, nil
}
