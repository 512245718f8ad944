// Package confirm implements the operator confirmation gate that stands
// between device classification and the destructive write.
package confirm

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/raspi-ops/sdflash/pkg/classifier"
	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

// ErrAborted is returned when the operator declines. It is a clean exit
// with no side effects, not a failure of the pipeline.
var ErrAborted = fmt.Errorf("aborted by operator")

// Gate renders the classified inventory and collects explicit consent.
// Prompt text goes to out (the diagnostic channel); the confirmation phrase
// is read from in.
type Gate struct {
	in  io.Reader
	out io.Writer
}

// New creates a gate reading from in and prompting on out.
func New(in io.Reader, out io.Writer) *Gate {
	return &Gate{in: in, out: out}
}

// Row pairs a disk with its classification for display.
type Row struct {
	Disk    *diskinventory.DiskDevice
	Verdict classifier.Verdict
}

// Render prints the full device metadata table.
func (g *Gate) Render(rows []Row) {
	fmt.Fprintf(g.out, "%-14s %-9s %-10s %-9s %-26s %s\n",
		"DEVICE", "SIZE", "REMOVABLE", "TRANSPORT", "MODEL", "VERDICT")
	fmt.Fprintln(g.out, strings.Repeat("-", 96))

	for _, row := range rows {
		verdict := "-"
		if row.Verdict.Candidate {
			verdict = "candidate (" + row.Verdict.Rule + ")"
		} else {
			verdict = "rejected (" + row.Verdict.Rule + ")"
		}
		model := row.Disk.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(g.out, "%-14s %-9s %-10s %-9s %-26s %s\n",
			row.Disk.Device,
			formatSize(row.Disk.SizeBytes),
			row.Disk.Removable,
			valueOrDash(row.Disk.Transport),
			model,
			verdict)
	}
}

// Confirm shows the target's metadata and requires the operator to type the
// device identifier verbatim. Anything else aborts with ErrAborted and no
// side effects.
func (g *Gate) Confirm(target *diskinventory.DiskDevice) error {
	fmt.Fprintf(g.out, "\nTarget device: %s (%s, %s)\n",
		target.Device, formatSize(target.SizeBytes), valueOrDash(target.Model))

	if HasBootSignature(target) {
		fmt.Fprintf(g.out, "Note: %s already carries a boot partition signature - it looks like a previously provisioned card.\n",
			target.Device)
	}
	if mounts := target.MountPoints(); len(mounts) > 0 {
		fmt.Fprintf(g.out, "Currently mounted at: %s\n", strings.Join(mounts, ", "))
	}

	fmt.Fprintf(g.out, "\nALL DATA ON %s WILL BE DESTROYED.\n", target.Device)
	fmt.Fprintf(g.out, "Type %q to continue: ", target.Device)

	line, err := bufio.NewReader(g.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if strings.TrimSpace(line) != target.Device {
		fmt.Fprintln(g.out, "Aborted.")
		return ErrAborted
	}
	return nil
}

// HasBootSignature reports whether the device already carries a partition
// matching the boot-partition convention.
func HasBootSignature(d *diskinventory.DiskDevice) bool {
	for _, p := range d.Partitions {
		if diskinventory.IsBootPartition(p) {
			return true
		}
	}
	return false
}

func formatSize(bytes uint64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(1<<20))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func valueOrDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
