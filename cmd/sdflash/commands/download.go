package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/raspi-ops/sdflash/pkg/errors"
	appfsm "github.com/raspi-ops/sdflash/pkg/fsm"
)

var downloadVersion string

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download and verify a Raspberry Pi OS image",
	Long: `Resolves the requested release, downloads the compressed image with its
checksum sidecar, verifies it, and decompresses it into the cache.
Interrupted downloads resume where they left off. Prints the path of the
ready image on stdout.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadVersion, "version", "latest", "Release date (e.g. 2024-07-04) or latest")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
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

	start, _, err := machine.RegisterAcquire(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &appfsm.AcquireRequest{Version: downloadVersion}
	resp := &appfsm.AcquireResponse{}

	version, err := start(ctx, "acquire-"+downloadVersion, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("acquire_started", "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "image acquisition failed")
	}

	slog.Info("acquire_completed", "release", resp.Version, "status", resp.Status,
		"image_path", resp.ImagePath, "cache_hit", resp.CacheHit)

	fmt.Println(resp.ImagePath)
	return nil
}
