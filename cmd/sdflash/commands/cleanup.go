package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raspi-ops/sdflash/internal/config"
	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/errors"
	"github.com/raspi-ops/sdflash/pkg/imagecache"
)

var (
	cleanupAll      bool
	cleanupVersion  string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached images and their ledger records",
	Long: `Clean up cached artifacts:
  --all                Remove every cached image and artifact
  --version <date>     Remove one release from the cache
  --orphaned           Remove cache files with no ledger record`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove all cached releases")
	cleanupCmd.Flags().StringVar(&cleanupVersion, "version", "", "Remove a specific release")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove cache files the ledger does not know")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.LedgerPath)
	if err != nil {
		return errors.Wrap(err, "ledger init failed")
	}
	defer repo.Close()

	cache := imagecache.New(cfg.CacheDir, cfg.RequiredFreeBytes)

	switch {
	case cleanupAll:
		return cleanupAllReleases(repo, cache, cfg)
	case cleanupVersion != "":
		return cleanupRelease(repo, cache, cfg, cleanupVersion)
	case cleanupOrphaned:
		return cleanupOrphanedFiles(repo, cache)
	default:
		return fmt.Errorf("must specify --all, --version, or --orphaned")
	}
}

func cleanupAllReleases(repo *db.Repository, cache *imagecache.Cache, cfg *config.Config) error {
	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Printf("Cleaning up %d releases...\n", len(images))
	for _, img := range images {
		if err := removeReleaseFiles(repo, cache, img); err != nil {
			fmt.Printf("failed to clean %s: %v\n", img.Version, err)
		} else {
			fmt.Printf("cleaned %s\n", img.Version)
		}
	}
	return nil
}

func cleanupRelease(repo *db.Repository, cache *imagecache.Cache, cfg *config.Config, version string) error {
	img, err := repo.GetImage(version)
	if err != nil {
		return errors.Wrap(err, "ledger query failed")
	}
	if img == nil {
		return fmt.Errorf("release %s not found in ledger", version)
	}

	if err := removeReleaseFiles(repo, cache, img); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}
	fmt.Printf("cleaned %s\n", version)
	return nil
}

func removeReleaseFiles(repo *db.Repository, cache *imagecache.Cache, img *db.Image) error {
	if img.CompressedPath != "" {
		cache.RemoveCompressed(filepath.Base(img.CompressedPath))
	}
	if img.ImagePath != "" {
		if err := os.Remove(img.ImagePath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove image")
		}
	}
	return repo.DeleteImage(img.ID)
}

// cleanupOrphanedFiles removes cache entries with no ledger record. Flash
// history is untouched, the ledger keeps it for auditing.
func cleanupOrphanedFiles(repo *db.Repository, cache *imagecache.Cache) error {
	fmt.Println("Scanning for orphaned cache files...")

	entries, err := cache.Entries()
	if err != nil {
		return errors.Wrap(err, "cache scan failed")
	}

	orphanCount := 0
	for _, name := range entries {
		version := imagecache.VersionOfImage(name)
		if version == "" {
			// Compressed artifacts and sidecars are matched through
			// their ledger row, skip anything unrecognized.
			continue
		}
		img, err := repo.GetImage(version)
		if err != nil {
			return errors.Wrap(err, "ledger query failed")
		}
		if img != nil {
			continue
		}
		orphanPath := filepath.Join(cache.Dir(), name)
		if err := os.Remove(orphanPath); err != nil {
			fmt.Printf("failed to remove orphaned file %s: %v\n", name, err)
			continue
		}
		fmt.Printf("removed orphaned image: %s\n", name)
		orphanCount++
	}

	fmt.Printf("Removed %d orphaned files\n", orphanCount)
	return nil
}
