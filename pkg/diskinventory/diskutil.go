package diskinventory

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// diskutil emits human-oriented text; the fields below are extracted by
// pattern matching on "Key: Value" lines, the same contract the remote
// asset index gets.

var (
	wholeDiskLinePattern = regexp.MustCompile(`^/dev/(disk\d+)\s`)
	diskSizePattern      = regexp.MustCompile(`\((\d+) Bytes`)
	partIdentPattern     = regexp.MustCompile(`\b(disk\d+s\d+)\s*$`)
)

// parseDiskutilList extracts whole-disk identifiers and their partition
// identifiers from `diskutil list` output.
func parseDiskutilList(out string) map[string][]string {
	disks := make(map[string][]string)
	var current string

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := wholeDiskLinePattern.FindStringSubmatch(line); m != nil {
			current = m[1]
			disks[current] = nil
			continue
		}
		if current == "" {
			continue
		}
		if m := partIdentPattern.FindStringSubmatch(line); m != nil && m[1] != current {
			disks[current] = append(disks[current], m[1])
		}
	}
	return disks
}

// parseDiskutilInfo splits `diskutil info` output into a key/value map.
func parseDiskutilInfo(out string) map[string]string {
	info := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" && val != "" {
			info[key] = val
		}
	}
	return info
}

// diskutilSizeBytes extracts the exact byte count from a diskutil size
// string like "31.9 GB (31914983424 Bytes) (exactly 62333952 512-Byte-Units)".
func diskutilSizeBytes(sizeField string) uint64 {
	m := diskSizePattern.FindStringSubmatch(sizeField)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// diskFromDiskutilInfo builds a DiskDevice from a parsed info map.
func diskFromDiskutilInfo(device string, info map[string]string) *DiskDevice {
	removable := RemovableUnknown
	switch info["Removable Media"] {
	case "Removable":
		removable = RemovableYes
	case "Fixed":
		removable = RemovableNo
	}
	// Built-in SD slots report as fixed media with an SD-card media type.
	if strings.Contains(strings.ToLower(info["Media Type"]), "sd") {
		removable = RemovableYes
	}

	model := info["Device / Media Name"]
	if model == "" {
		model = info["Media Name"]
	}

	return &DiskDevice{
		Device:    device,
		SizeBytes: diskutilSizeBytes(info["Disk Size"]),
		Removable: removable,
		Transport: info["Protocol"],
		Model:     model,
		Serial:    info["Disk / Partition UUID"],
		WholeDisk: info["Whole"] == "Yes",
	}
}

// partitionFromDiskutilInfo builds a Partition from a parsed info map.
func partitionFromDiskutilInfo(device string, info map[string]string) Partition {
	mount := info["Mount Point"]
	if strings.EqualFold(mount, "Not applicable (no file system)") {
		mount = ""
	}
	return Partition{
		Device:     device,
		Label:      info["Volume Name"],
		FSType:     info["File System Personality"],
		MountPoint: mount,
	}
}
