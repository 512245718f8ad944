package diskinventory

import (
	"bufio"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/errors"
)

// lsblkColumns is the column set requested from lsblk -b -J.
const lsblkColumns = "NAME,TYPE,SIZE,RM,TRAN,MODEL,SERIAL,MOUNTPOINT,LABEL,FSTYPE"

// flexUint tolerates the number/string divergence across lsblk versions.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexUint(v)
	return nil
}

// flexBool tolerates true/false, "0"/"1" and null.
type flexBool struct {
	set bool
	val bool
}

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		f.set, f.val = true, true
	case "false", "0":
		f.set, f.val = true, false
	default:
		f.set = false
	}
	return nil
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Size       flexUint      `json:"size"`
	RM         flexBool      `json:"rm"`
	Tran       string        `json:"tran"`
	Model      string        `json:"model"`
	Serial     string        `json:"serial"`
	MountPoint string        `json:"mountpoint"`
	Label      string        `json:"label"`
	FSType     string        `json:"fstype"`
	Children   []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// parseLsblk converts lsblk -b -J output into DiskDevice records. Only
// entries of type "disk" become devices; their "part" children become
// partitions.
func parseLsblk(data []byte) ([]*DiskDevice, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "failed to parse lsblk output")
	}

	var disks []*DiskDevice
	for _, dev := range out.BlockDevices {
		if dev.Type != "disk" {
			continue
		}

		removable := RemovableUnknown
		if dev.RM.set {
			removable = RemovableNo
			if dev.RM.val {
				removable = RemovableYes
			}
		}

		d := &DiskDevice{
			Device:    "/dev/" + dev.Name,
			SizeBytes: uint64(dev.Size),
			Removable: removable,
			Transport: dev.Tran,
			Model:     strings.TrimSpace(dev.Model),
			Serial:    strings.TrimSpace(dev.Serial),
			WholeDisk: true,
		}
		for _, child := range dev.Children {
			if child.Type != "part" {
				continue
			}
			d.Partitions = append(d.Partitions, Partition{
				Device:     "/dev/" + child.Name,
				Label:      child.Label,
				FSType:     child.FSType,
				MountPoint: child.MountPoint,
			})
		}
		disks = append(disks, d)
	}
	return disks, nil
}

// parseRootDevice returns the device mounted at "/" from the content of
// /proc/self/mounts.
func parseRootDevice(mounts string) string {
	scanner := bufio.NewScanner(strings.NewReader(mounts))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == "/" {
			return fields[0]
		}
	}
	return ""
}

// parentWholeDisk maps a partition device name to its parent whole disk:
// /dev/sda2 -> /dev/sda, /dev/mmcblk0p1 -> /dev/mmcblk0,
// /dev/nvme0n1p3 -> /dev/nvme0n1. A whole-disk name is returned unchanged.
func parentWholeDisk(dev string) string {
	name := strings.TrimPrefix(dev, "/dev/")

	if strings.HasPrefix(name, "mmcblk") || strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "loop") {
		// Partition suffix is pN with a digit before the p (mmcblk0p1).
		if idx := strings.LastIndex(name, "p"); idx > 0 && idx < len(name)-1 &&
			name[idx-1] >= '0' && name[idx-1] <= '9' {
			if _, err := strconv.Atoi(name[idx+1:]); err == nil {
				name = name[:idx]
			}
		}
		return "/dev/" + name
	}

	name = strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	return "/dev/" + name
}
