package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raspi-ops/sdflash/pkg/db"
	"github.com/raspi-ops/sdflash/pkg/errors"
)

var historyFlashes bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show downloaded images and flash attempts",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().BoolVar(&historyFlashes, "flashes", false, "Show flash attempts instead of images")
}

func runHistory(cmd *cobra.Command, args []string) error {
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

	if historyFlashes {
		return printFlashes(repo)
	}
	return printImages(repo)
}

func printImages(repo *db.Repository) error {
	images, err := repo.ListImages()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(images) == 0 {
		fmt.Println("No images found")
		return nil
	}

	fmt.Printf("%-14s %-12s %-18s %-50s\n", "RELEASE", "STATUS", "SHA256", "IMAGE")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, img := range images {
		sha := "-"
		if len(img.SHA256) >= 16 {
			sha = img.SHA256[:16]
		}
		imagePath := img.ImagePath
		if imagePath == "" {
			imagePath = "-"
		}
		fmt.Printf("%-14s %-12s %-18s %-50s\n", img.Version, img.Status, sha, imagePath)
	}
	return nil
}

func printFlashes(repo *db.Repository) error {
	flashes, err := repo.ListFlashes()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(flashes) == 0 {
		fmt.Println("No flash attempts found")
		return nil
	}

	fmt.Printf("%-14s %-16s %-10s %-24s %-20s\n", "RELEASE", "DEVICE", "STATUS", "BOOT MOUNT", "WHEN")
	fmt.Println("------------------------------------------------------------------------------------------------")
	for _, f := range flashes {
		bootMount := f.BootMount
		if bootMount == "" {
			bootMount = "-"
		}
		fmt.Printf("%-14s %-16s %-10s %-24s %-20s\n",
			f.ImageVersion, f.Device, f.Status, bootMount, f.CreatedAt)
	}
	return nil
}
