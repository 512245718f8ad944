package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "sdflash",
	Short: "Raspberry Pi SD card provisioning",
	Long:  `Downloads verified Raspberry Pi OS images and flashes them onto SD cards, with device safety checks and boot verification.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("cache-dir", "/var/cache/sdflash", "Image cache directory")
	rootCmd.PersistentFlags().String("ledger-path", "/var/cache/sdflash/ledger.db", "Provenance ledger path")
	rootCmd.PersistentFlags().String("fsm-db-path", "/var/cache/sdflash/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("index-url", "https://downloads.raspberrypi.com/raspios_lite_arm64/images/", "Release index URL")
	rootCmd.PersistentFlags().String("mirror-bucket", "", "Optional S3 mirror bucket")
	rootCmd.PersistentFlags().String("mirror-region", "us-east-1", "S3 mirror region")
	rootCmd.PersistentFlags().String("mirror-prefix", "", "S3 mirror key prefix")

	viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("ledger-path", rootCmd.PersistentFlags().Lookup("ledger-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("index-url", rootCmd.PersistentFlags().Lookup("index-url"))
	viper.BindPFlag("mirror-bucket", rootCmd.PersistentFlags().Lookup("mirror-bucket"))
	viper.BindPFlag("mirror-region", rootCmd.PersistentFlags().Lookup("mirror-region"))
	viper.BindPFlag("mirror-prefix", rootCmd.PersistentFlags().Lookup("mirror-prefix"))
}
