package diskinventory

import "testing"

const lsblkSample = `{
  "blockdevices": [
    {
      "name": "nvme0n1", "type": "disk", "size": 1000204886016, "rm": false,
      "tran": "nvme", "model": "Samsung SSD 980 PRO 1TB", "serial": "S5GXNX0T",
      "mountpoint": null, "label": null, "fstype": null,
      "children": [
        {"name": "nvme0n1p1", "type": "part", "size": 536870912, "rm": false,
         "tran": null, "model": null, "serial": null,
         "mountpoint": "/boot/efi", "label": null, "fstype": "vfat"},
        {"name": "nvme0n1p2", "type": "part", "size": 999666295808, "rm": false,
         "tran": null, "model": null, "serial": null,
         "mountpoint": "/", "label": null, "fstype": "ext4"}
      ]
    },
    {
      "name": "sdb", "type": "disk", "size": 31914983424, "rm": true,
      "tran": "usb", "model": "Mass Storage Device", "serial": "0000123",
      "mountpoint": null, "label": null, "fstype": null,
      "children": [
        {"name": "sdb1", "type": "part", "size": 268435456, "rm": true,
         "tran": null, "model": null, "serial": null,
         "mountpoint": "/media/pi/bootfs", "label": "bootfs", "fstype": "vfat"}
      ]
    },
    {
      "name": "loop0", "type": "loop", "size": 4096, "rm": false,
      "tran": null, "model": null, "serial": null,
      "mountpoint": "/snap/core", "label": null, "fstype": null
    }
  ]
}`

// Older lsblk renders numbers and booleans as strings.
const lsblkLegacySample = `{
  "blockdevices": [
    {"name": "mmcblk0", "type": "disk", "size": "31914983424", "rm": "1",
     "tran": null, "model": "SD32G", "serial": null,
     "mountpoint": null, "label": null, "fstype": null}
  ]
}`

func TestParseLsblk(t *testing.T) {
	disks, err := parseLsblk([]byte(lsblkSample))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// loop devices are type "loop", not "disk", and must not appear.
	if len(disks) != 2 {
		t.Fatalf("expected 2 disks, got %d", len(disks))
	}

	nvme := disks[0]
	if nvme.Device != "/dev/nvme0n1" {
		t.Errorf("device: %s", nvme.Device)
	}
	if nvme.SizeBytes != 1000204886016 {
		t.Errorf("size: %d", nvme.SizeBytes)
	}
	if nvme.Removable != RemovableNo {
		t.Errorf("removable: %s", nvme.Removable)
	}
	if len(nvme.Partitions) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(nvme.Partitions))
	}
	if nvme.Partitions[1].MountPoint != "/" {
		t.Errorf("partition mount: %s", nvme.Partitions[1].MountPoint)
	}

	sd := disks[1]
	if sd.Removable != RemovableYes {
		t.Errorf("sd removable: %s", sd.Removable)
	}
	if sd.Transport != "usb" {
		t.Errorf("sd transport: %s", sd.Transport)
	}
	if sd.Partitions[0].Label != "bootfs" {
		t.Errorf("sd partition label: %s", sd.Partitions[0].Label)
	}
}

func TestParseLsblk_LegacyStrings(t *testing.T) {
	disks, err := parseLsblk([]byte(lsblkLegacySample))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(disks) != 1 {
		t.Fatalf("expected 1 disk, got %d", len(disks))
	}
	if disks[0].SizeBytes != 31914983424 {
		t.Errorf("size: %d", disks[0].SizeBytes)
	}
	if disks[0].Removable != RemovableYes {
		t.Errorf("removable: %s", disks[0].Removable)
	}
}

func TestParseRootDevice(t *testing.T) {
	mounts := `proc /proc proc rw 0 0
/dev/nvme0n1p2 / ext4 rw,relatime 0 0
/dev/nvme0n1p1 /boot/efi vfat rw 0 0
`
	if got := parseRootDevice(mounts); got != "/dev/nvme0n1p2" {
		t.Errorf("root device: got %s", got)
	}
	if got := parseRootDevice("tmpfs /tmp tmpfs rw 0 0\n"); got != "" {
		t.Errorf("expected empty for no root mount, got %s", got)
	}
}

func TestParentWholeDisk(t *testing.T) {
	tests := []struct{ dev, want string }{
		{"/dev/sda1", "/dev/sda"},
		{"/dev/sda", "/dev/sda"},
		{"/dev/sdb12", "/dev/sdb"},
		{"/dev/mmcblk0p2", "/dev/mmcblk0"},
		{"/dev/mmcblk0", "/dev/mmcblk0"},
		{"/dev/nvme0n1p3", "/dev/nvme0n1"},
		{"/dev/nvme0n1", "/dev/nvme0n1"},
		{"/dev/loop0", "/dev/loop0"},
		{"/dev/loop0p1", "/dev/loop0"},
	}
	for _, tt := range tests {
		if got := parentWholeDisk(tt.dev); got != tt.want {
			t.Errorf("parentWholeDisk(%s): got %s, want %s", tt.dev, got, tt.want)
		}
	}
}

func TestIsBootPartition(t *testing.T) {
	tests := []struct {
		p    Partition
		want bool
	}{
		{Partition{Label: "bootfs"}, true},
		{Partition{Label: "BOOT"}, true},
		{Partition{Label: "system-boot"}, true},
		{Partition{Label: "rootfs"}, false},
		{Partition{MountPoint: "/media/pi/bootfs"}, true},
		{Partition{MountPoint: "/Volumes/boot"}, true},
		{Partition{MountPoint: "/media/pi/data"}, false},
		{Partition{}, false},
	}
	for _, tt := range tests {
		if got := IsBootPartition(tt.p); got != tt.want {
			t.Errorf("IsBootPartition(%+v): got %v, want %v", tt.p, got, tt.want)
		}
	}
}
