package confirm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/raspi-ops/sdflash/pkg/classifier"
	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

func sdCard() *diskinventory.DiskDevice {
	return &diskinventory.DiskDevice{
		Device:    "/dev/sdb",
		SizeBytes: 32 << 30,
		Removable: diskinventory.RemovableYes,
		Transport: "usb",
		Model:     "SD Card Reader",
		WholeDisk: true,
	}
}

func TestConfirm_ExactPhrase(t *testing.T) {
	var out bytes.Buffer
	g := New(strings.NewReader("/dev/sdb\n"), &out)

	if err := g.Confirm(sdCard()); err != nil {
		t.Fatalf("exact phrase should confirm: %v", err)
	}
	if !strings.Contains(out.String(), "WILL BE DESTROYED") {
		t.Error("prompt should warn about data destruction")
	}
}

func TestConfirm_NonExactAborts(t *testing.T) {
	inputs := []string{"yes\n", "sdb\n", "/dev/sdb1\n", "/DEV/SDB\n", "\n", ""}

	for _, input := range inputs {
		g := New(strings.NewReader(input), &bytes.Buffer{})
		err := g.Confirm(sdCard())
		if !errors.Is(err, ErrAborted) {
			t.Errorf("input %q: expected ErrAborted, got %v", input, err)
		}
	}
}

func TestConfirm_BootSignatureFlagged(t *testing.T) {
	d := sdCard()
	d.Partitions = []diskinventory.Partition{
		{Device: "/dev/sdb1", Label: "bootfs", FSType: "vfat"},
	}

	var out bytes.Buffer
	g := New(strings.NewReader("/dev/sdb\n"), &out)
	if err := g.Confirm(d); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !strings.Contains(out.String(), "previously provisioned") {
		t.Error("existing boot signature should be flagged in the prompt")
	}
}

func TestHasBootSignature(t *testing.T) {
	d := sdCard()
	if HasBootSignature(d) {
		t.Error("blank card should have no boot signature")
	}

	d.Partitions = []diskinventory.Partition{{Device: "/dev/sdb1", Label: "rootfs"}}
	if HasBootSignature(d) {
		t.Error("rootfs label is not a boot signature")
	}

	d.Partitions = append(d.Partitions, diskinventory.Partition{
		Device: "/dev/sdb2", MountPoint: "/media/pi/bootfs",
	})
	if !HasBootSignature(d) {
		t.Error("bootfs mount point should count as a boot signature")
	}
}

func TestRender(t *testing.T) {
	var out bytes.Buffer
	g := New(strings.NewReader(""), &out)

	g.Render([]Row{
		{Disk: sdCard(), Verdict: classifier.Verdict{Candidate: true, Rule: "removable media"}},
		{
			Disk: &diskinventory.DiskDevice{
				Device: "/dev/nvme0n1", SizeBytes: 1 << 40,
				Removable: diskinventory.RemovableNo, Transport: "nvme",
			},
			Verdict: classifier.Verdict{Candidate: false, Rule: "larger than 512 GiB"},
		},
	})

	rendered := out.String()
	for _, want := range []string{"/dev/sdb", "candidate (removable media)", "/dev/nvme0n1", "rejected"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered table missing %q:\n%s", want, rendered)
		}
	}
}
