package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/errors"
	appfsm "github.com/raspi-ops/sdflash/pkg/fsm"
	"github.com/raspi-ops/sdflash/pkg/imagecache"
)

var (
	flashImagePath string
	flashVersion   string
)

var flashCmd = &cobra.Command{
	Use:   "flash <device>",
	Short: "Flash an image onto an SD card",
	Long: `Validates the target device, asks for explicit confirmation, writes the
image onto the whole disk, then waits for the card to re-enumerate and
checks the boot partition. Prints the boot partition mount point on stdout.

The image comes from --image (a path) or --version (a cached release).`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVar(&flashImagePath, "image", "", "Path to a decompressed image file")
	flashCmd.Flags().StringVar(&flashVersion, "version", "", "Cached release date to flash")
}

func runFlash(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	device := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	imagePath := flashImagePath
	version := flashVersion
	if imagePath == "" {
		if version == "" {
			return fmt.Errorf("one of --image or --version is required")
		}
		cache := imagecache.New(cfg.CacheDir, cfg.RequiredFreeBytes)
		if !cache.HasImage(version) {
			return fmt.Errorf("release %s is not in the cache, run download first", version)
		}
		imagePath = cache.ImagePath(version)
	} else if version == "" {
		version = imagecache.VersionOfImage(filepath.Base(imagePath))
	}

	machine, repo, err := buildMachine(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	start, _, err := machine.RegisterFlash(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &appfsm.FlashRequest{
		ImagePath:    imagePath,
		ImageVersion: version,
		Device:       device,
	}
	resp := &appfsm.FlashResponse{}

	runID, err := start(ctx, "flash-"+device, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("flash_started", "version", runID, "device", device)

	if err := manager.Wait(ctx, runID); err != nil {
		// Declining the confirmation prompt is a clean exit, not an
		// error. The FSM layer flattens error values, so the outcome
		// travels on the shared response instead.
		if resp.Status == db.FlashAborted {
			slog.Info("flash_aborted", "device", device)
			return nil
		}
		return errors.Wrap(err, "flash failed")
	}

	if len(resp.MissingMarkers) > 0 {
		slog.Warn("boot_markers_missing", "markers", resp.MissingMarkers)
	}
	slog.Info("flash_completed", "device", device, "written_mb", resp.BytesWritten/1024/1024,
		"boot_mount", resp.BootMount)

	fmt.Println(resp.BootMount)
	return nil
}
