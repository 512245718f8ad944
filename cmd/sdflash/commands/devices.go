package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/raspi-ops/sdflash/pkg/classifier"
	"github.com/raspi-ops/sdflash/pkg/confirm"
	"github.com/raspi-ops/sdflash/pkg/diskinventory"
	"github.com/raspi-ops/sdflash/pkg/errors"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List disks with SD-card classification",
	Long: `Enumerates attached disks, excluding the one hosting the root
filesystem, and shows whether each looks like an SD card and why.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	inv := diskinventory.NewInventory()
	disks, err := inv.ListDisks(ctx)
	if err != nil {
		return errors.Wrap(err, "disk enumeration failed")
	}

	rows := make([]confirm.Row, 0, len(disks))
	for _, d := range disks {
		rows = append(rows, confirm.Row{Disk: d, Verdict: classifier.Classify(d)})
	}

	gate := confirm.New(os.Stdin, os.Stdout)
	gate.Render(rows)
	return nil
}
