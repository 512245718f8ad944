package bootwait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raspi-ops/sdflash/pkg/diskinventory"
)

// fakeClock advances instantly on Sleep so polling loops run without delay.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
}

// scriptedSource changes the partition picture over successive Disk calls.
type scriptedSource struct {
	disks       []*diskinventory.DiskDevice
	errs        []error
	calls       int
	mountCalls  int
	mountResult string
	mountErr    error
}

func (s *scriptedSource) Disk(ctx context.Context, device string) (*diskinventory.DiskDevice, error) {
	i := s.calls
	if i >= len(s.disks) {
		i = len(s.disks) - 1
	}
	s.calls++
	if s.errs != nil && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.disks[i], nil
}

func (s *scriptedSource) MountBoot(ctx context.Context, p diskinventory.Partition) (string, error) {
	s.mountCalls++
	return s.mountResult, s.mountErr
}

func diskWith(parts ...diskinventory.Partition) *diskinventory.DiskDevice {
	return &diskinventory.DiskDevice{Device: "/dev/sdb", WholeDisk: true, Partitions: parts}
}

func TestWait_AlreadyMounted(t *testing.T) {
	src := &scriptedSource{
		disks: []*diskinventory.DiskDevice{
			diskWith(diskinventory.Partition{Device: "/dev/sdb1", Label: "bootfs", MountPoint: "/media/bootfs"}),
		},
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	w := New(src, WithClock(clock))

	mount, err := w.Wait(context.Background(), "/dev/sdb")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if mount != "/media/bootfs" {
		t.Fatalf("mount = %q, want /media/bootfs", mount)
	}
	if src.mountCalls != 0 {
		t.Fatalf("manual mount attempted %d times, want 0", src.mountCalls)
	}
	// only the settle sleep should have happened
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want [2s]", clock.sleeps)
	}
}

func TestWait_MountAppearsLater(t *testing.T) {
	notYet := diskWith(diskinventory.Partition{Device: "/dev/sdb1", Label: "bootfs"})
	mounted := diskWith(diskinventory.Partition{Device: "/dev/sdb1", Label: "bootfs", MountPoint: "/media/bootfs"})
	src := &scriptedSource{
		disks: []*diskinventory.DiskDevice{notYet, notYet, mounted},
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	w := New(src, WithClock(clock))

	mount, err := w.Wait(context.Background(), "/dev/sdb")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if mount != "/media/bootfs" {
		t.Fatalf("mount = %q, want /media/bootfs", mount)
	}
}

func TestWait_ManualMountFallback(t *testing.T) {
	visible := diskWith(diskinventory.Partition{Device: "/dev/sdb1", Label: "bootfs"})
	src := &scriptedSource{
		disks:       []*diskinventory.DiskDevice{visible},
		mountResult: "/run/sdflash/boot",
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	w := New(src, WithClock(clock), WithBudget(0, time.Second, 5*time.Second))

	mount, err := w.Wait(context.Background(), "/dev/sdb")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if mount != "/run/sdflash/boot" {
		t.Fatalf("mount = %q, want /run/sdflash/boot", mount)
	}
	if src.mountCalls != 1 {
		t.Fatalf("manual mount attempted %d times, want exactly 1", src.mountCalls)
	}
}

func TestWait_TimesOutWhenDeviceNeverAppears(t *testing.T) {
	src := &scriptedSource{
		disks: []*diskinventory.DiskDevice{nil},
		errs:  []error{diskinventory.ErrDiskNotFound},
	}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	w := New(src, WithClock(clock))

	_, err := w.Wait(context.Background(), "/dev/sdb")
	if !errors.Is(err, ErrMountTimeout) {
		t.Fatalf("err = %v, want ErrMountTimeout", err)
	}
	if src.mountCalls != 0 {
		t.Fatalf("manual mount attempted with no visible partition")
	}
	// settle + 30 poll intervals inside the budget
	if len(clock.sleeps) < 2 {
		t.Fatalf("expected the loop to poll, sleeps = %v", clock.sleeps)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		WaitingForEnumeration: "WAITING_FOR_ENUMERATION",
		WaitingForMount:       "WAITING_FOR_MOUNT",
		Mounted:               "MOUNTED",
		Failed:                "FAILED",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
