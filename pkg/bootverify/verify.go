// Package bootverify sanity-checks the FAT boot partition of a freshly
// flashed card by probing for the firmware files a bootable image carries.
package bootverify

import (
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultMarkers are the files expected on the boot partition of a standard
// Raspberry Pi OS image. bootcode.bin is absent on Pi 4 era images that boot
// from EEPROM, which is why a missing marker warns instead of failing.
var DefaultMarkers = []string{"config.txt", "cmdline.txt", "start.elf", "bootcode.bin"}

// Report lists the outcome of a marker scan.
type Report struct {
	MountPoint string
	Present    []string
	Missing    []string
}

// OK reports whether every marker was found.
func (r *Report) OK() bool { return len(r.Missing) == 0 }

// Scan checks mountPoint for each marker file. It never fails the pipeline:
// missing markers are logged as warnings and collected in the report so the
// operator can judge whether the card is actually bootable.
func Scan(mountPoint string, markers []string) *Report {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	report := &Report{MountPoint: mountPoint}
	for _, name := range markers {
		info, err := os.Stat(filepath.Join(mountPoint, name))
		if err != nil || info.IsDir() {
			report.Missing = append(report.Missing, name)
			slog.Warn("boot_marker_missing", "mount_point", mountPoint, "marker", name)
			continue
		}
		report.Present = append(report.Present, name)
	}
	slog.Info("boot_verify_done", "mount_point", mountPoint,
		"present", len(report.Present), "missing", len(report.Missing))
	return report
}
