// Package flasher performs the raw, synchronous whole-device write of a
// verified image to the chosen disk.
package flasher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
	"github.com/raspi-ops/sdflash/pkg/errors"
)

// ErrWriteFailed is the fatal flash failure kind. There is no automatic
// retry: after a partial write the device state is indeterminate and the
// operator must re-run from device selection.
var ErrWriteFailed = fmt.Errorf("device write failed")

// DefaultBlockSize is the copy buffer size for the sequential device write.
const DefaultBlockSize = 4 << 20 // 4 MiB

// syncCommand is overridable in tests.
var syncCommand = "sync"

// Job tracks one flash operation. The target device is exclusively owned by
// the flasher for the job's duration.
type Job struct {
	ImagePath string
	Target    *diskinventory.DiskDevice
	RawDevice string
	StartedAt time.Time
	Written   int64
}

// Flasher writes raw images to block devices.
type Flasher struct {
	inv       diskinventory.Inventory
	blockSize int
}

// New creates a flasher. blockSize <= 0 selects DefaultBlockSize.
func New(inv diskinventory.Inventory, blockSize int) *Flasher {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Flasher{inv: inv, blockSize: blockSize}
}

// Flash unmounts the target's partitions and writes imagePath to the device
// in a single synchronous pass, followed by an explicit filesystem sync.
// Once the write begins there is no cancellation path.
func (f *Flasher) Flash(ctx context.Context, imagePath string, target *diskinventory.DiskDevice) (*Job, error) {
	job := &Job{
		ImagePath: imagePath,
		Target:    target,
		RawDevice: f.inv.RawDevice(target.Device),
		StartedAt: time.Now(),
	}

	slog.Info("flash_start", "image", imagePath, "device", target.Device, "raw_device", job.RawDevice)

	if err := f.inv.UnmountAll(ctx, target); err != nil {
		return nil, errors.Wrap(err, "failed to unmount target partitions")
	}

	src, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer src.Close()

	// The raw/character-special path trades buffered I/O for sequential
	// throughput where the platform exposes one; the block path is the
	// fallback.
	dst, err := os.OpenFile(job.RawDevice, os.O_WRONLY, 0)
	if err != nil && job.RawDevice != target.Device {
		slog.Warn("raw_device_unavailable", "raw_device", job.RawDevice, "error", err)
		job.RawDevice = target.Device
		dst, err = os.OpenFile(job.RawDevice, os.O_WRONLY, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open %s: %v", ErrWriteFailed, job.RawDevice, err)
	}

	buf := make([]byte, f.blockSize)
	written, copyErr := io.CopyBuffer(dst, src, buf)
	job.Written = written

	syncErr := dst.Sync()
	closeErr := dst.Close()

	if copyErr != nil {
		slog.Error("flash_write_failed", "device", job.RawDevice, "written_mb", written/1024/1024, "error", copyErr)
		return job, fmt.Errorf("%w: %v", ErrWriteFailed, copyErr)
	}
	if syncErr != nil {
		slog.Error("flash_sync_failed", "device", job.RawDevice, "error", syncErr)
		return job, fmt.Errorf("%w: sync: %v", ErrWriteFailed, syncErr)
	}
	if closeErr != nil {
		return job, fmt.Errorf("%w: close: %v", ErrWriteFailed, closeErr)
	}

	// A second, explicit sync flushes anything the page cache still holds
	// before the OS re-scans the partition table.
	if err := exec.CommandContext(ctx, syncCommand).Run(); err != nil {
		slog.Warn("flash_system_sync_failed", "error", err)
	}

	elapsed := time.Since(job.StartedAt)
	rate := float64(written) / 1024 / 1024 / elapsed.Seconds()
	slog.Info("flash_complete", "device", job.RawDevice,
		"written_mb", written/1024/1024, "elapsed", elapsed.Round(time.Second), "mb_per_sec", int(rate))

	return job, nil
}
