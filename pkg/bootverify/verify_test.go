package bootverify

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_AllMarkersPresent(t *testing.T) {
	dir := t.TempDir()
	for _, name := range DefaultMarkers {
		touch(t, dir, name)
	}

	report := Scan(dir, nil)
	if !report.OK() {
		t.Fatalf("missing = %v, want none", report.Missing)
	}
	if len(report.Present) != len(DefaultMarkers) {
		t.Fatalf("present = %v", report.Present)
	}
}

func TestScan_ReportsMissing(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "config.txt")
	touch(t, dir, "cmdline.txt")

	report := Scan(dir, nil)
	if report.OK() {
		t.Fatal("report.OK() = true with markers missing")
	}
	want := map[string]bool{"start.elf": true, "bootcode.bin": true}
	for _, name := range report.Missing {
		if !want[name] {
			t.Errorf("unexpected missing marker %q", name)
		}
		delete(want, name)
	}
	if len(want) != 0 {
		t.Errorf("markers not reported missing: %v", want)
	}
}

func TestScan_DirectoryDoesNotCount(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	report := Scan(dir, []string{"config.txt"})
	if report.OK() {
		t.Fatal("a directory should not satisfy a marker")
	}
}
