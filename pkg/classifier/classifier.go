// Package classifier scores enumerated disks as SD-card candidates.
//
// The rules form a deliberate priority list: the first matching rule decides
// the verdict, so the early exclusions (virtual devices, size bounds)
// override the later permissive matches. Classification is pure and
// stateless; the same attribute set always yields the same verdict.
package classifier

import (
	"log/slog"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

// Size eligibility window for SD-card candidates.
const (
	MinCandidateSize = 1 << 30         // 1 GiB
	MaxCandidateSize = 512 * (1 << 30) // 512 GiB
)

// Verdict is the derived, non-persistent classification of a disk. The
// matched rule is retained for display at the confirmation gate.
type Verdict struct {
	Candidate bool
	Rule      string
}

// virtualTransports mark disk-image-backed or synthesized devices.
var virtualTransports = []string{"disk image", "image", "virtual", "loop"}

// sdFamilyTokens are matched as standalone tokens of the model string so
// that "Samsung SSD 980" does not register as an SD card.
var sdFamilyTokens = []string{"sdxc", "sdhc", "sd", "mmc"}

// readerKeywords are matched as substrings of the model string.
var readerKeywords = []string{"reader", "card"}

// sdDeviceNames are the canonical SD/MMC controller device name prefixes.
var sdDeviceNames = []string{"/dev/mmcblk"}

// Classify applies the ordered heuristic rules to one disk.
func Classify(d *diskinventory.DiskDevice) Verdict {
	v := classify(d)
	slog.Debug("classify", "device", d.Device, "candidate", v.Candidate, "rule", v.Rule)
	return v
}

func classify(d *diskinventory.DiskDevice) Verdict {
	transport := strings.ToLower(d.Transport)
	model := strings.ToLower(d.Model)

	// 1. Virtual or disk-image-backed devices are never candidates.
	for _, vt := range virtualTransports {
		if transport != "" && strings.Contains(transport, vt) {
			return Verdict{Candidate: false, Rule: "virtual device"}
		}
	}
	if strings.HasPrefix(d.Device, "/dev/loop") || strings.HasPrefix(d.Device, "/dev/ram") ||
		strings.HasPrefix(d.Device, "/dev/zram") || strings.HasPrefix(d.Device, "/dev/dm-") {
		return Verdict{Candidate: false, Rule: "virtual device"}
	}

	// 2. Size outside the SD window rejects regardless of other signals.
	if d.SizeBytes < MinCandidateSize {
		return Verdict{Candidate: false, Rule: "smaller than 1 GiB"}
	}
	if d.SizeBytes > MaxCandidateSize {
		return Verdict{Candidate: false, Rule: "larger than 512 GiB"}
	}

	// 3. Removable media is the strongest accept signal.
	if d.Removable == diskinventory.RemovableYes {
		return Verdict{Candidate: true, Rule: "removable media"}
	}

	// 4. Canonical SD/MMC device naming.
	for _, prefix := range sdDeviceNames {
		if strings.HasPrefix(d.Device, prefix) {
			return Verdict{Candidate: true, Rule: "SD/MMC device name"}
		}
	}

	// 5. Card-reader or SD-family keywords in the model string. Reader
	// keywords match as substrings on any transport, so an internal
	// SATA or PCIe card reader still qualifies. The sd/mmc family only
	// matches whole tokens, keeping "Samsung SSD 980" out.
	for _, kw := range readerKeywords {
		if strings.Contains(model, kw) {
			return Verdict{Candidate: true, Rule: "model mentions " + kw}
		}
	}
	for _, token := range tokens(model) {
		for _, kw := range sdFamilyTokens {
			if token == kw {
				return Verdict{Candidate: true, Rule: "model mentions " + kw}
			}
		}
	}

	// USB transport alone is deliberately not a signal; without a reader
	// or sd keyword a USB disk is most likely a plain flash drive.
	return Verdict{Candidate: false, Rule: "no SD-card signals"}
}

// tokens splits a model string into lowercase alphanumeric runs.
func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
