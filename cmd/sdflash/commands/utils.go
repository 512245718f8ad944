package commands

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/raspi-ops/sdflash/internal/config"
	"github.com/raspi-ops/sdflash/pkg/bootwait"
	"github.com/raspi-ops/sdflash/pkg/confirm"
	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/diskinventory"
	"github.com/raspi-ops/sdflash/pkg/download"
	"github.com/raspi-ops/sdflash/pkg/errors"
	"github.com/raspi-ops/sdflash/pkg/flasher"
	appfsm "github.com/raspi-ops/sdflash/pkg/fsm"
	"github.com/raspi-ops/sdflash/pkg/imagecache"
	"github.com/raspi-ops/sdflash/pkg/resolver"
	"github.com/raspi-ops/sdflash/pkg/safety"
	"github.com/raspi-ops/sdflash/pkg/storage"
)

// ensureDirectories creates the cache and database directories
func ensureDirectories(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create ledger directory")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FSMDBPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create FSM directory")
	}
	return nil
}

// loadConfig loads and validates configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	return cfg, nil
}

// buildMachine assembles the FSM dependencies from configuration. The
// returned repository must be closed by the caller.
func buildMachine(ctx context.Context, cfg *config.Config) (*appfsm.Machine, *db.Repository, error) {
	repo, err := db.NewRepository(cfg.LedgerPath)
	if err != nil {
		return nil, nil, errors.Wrap(err, "ledger init failed")
	}

	var mirror *storage.Mirror
	if cfg.MirrorBucket != "" {
		mirror, err = storage.NewMirror(ctx, cfg.MirrorBucket, cfg.MirrorRegion, cfg.MirrorPrefix)
		if err != nil {
			repo.Close()
			return nil, nil, errors.Wrap(err, "mirror client failed")
		}
	}

	inv := diskinventory.NewInventory()
	cache := imagecache.New(cfg.CacheDir, cfg.RequiredFreeBytes)
	res := resolver.New(http.DefaultClient, cfg.IndexURL)
	dl := download.New(http.DefaultClient)
	validator := safety.NewValidator(inv, cfg.MinDeviceSize, cfg.MaxDeviceSize)
	gate := confirm.New(os.Stdin, os.Stderr)
	fl := flasher.New(inv, cfg.BlockSize)
	waiter := bootwait.New(inv, bootwait.WithBudget(cfg.MountSettle, cfg.MountInterval, cfg.MountMaxWait))

	machine := appfsm.NewMachine(repo, res, dl, mirror, cache, inv,
		validator, gate, fl, waiter, cfg.BootMarkers, cfg.FSMMaxRetries)

	return machine, repo, nil
}
