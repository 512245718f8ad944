package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raspi-ops/sdflash/pkg/bootconfig"
	"github.com/raspi-ops/sdflash/pkg/errors"
)

var (
	configureSSH          bool
	configureWifiSSID     string
	configureWifiPSK      string
	configureWifiCountry  string
	configureUser         string
	configurePasswordHash string
)

var configureCmd = &cobra.Command{
	Use:   "configure <boot-mount>",
	Short: "Write headless-setup files onto a mounted boot partition",
	Long: `Drops first-boot configuration onto the boot partition of a freshly
flashed card: the ssh enable marker, wireless credentials, and the initial
user account. Typically run against the mount point printed by flash.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigure,
}

func init() {
	rootCmd.AddCommand(configureCmd)
	configureCmd.Flags().BoolVar(&configureSSH, "ssh", false, "Enable the SSH server on first boot")
	configureCmd.Flags().StringVar(&configureWifiSSID, "wifi-ssid", "", "Wireless network name")
	configureCmd.Flags().StringVar(&configureWifiPSK, "wifi-psk", "", "Wireless network passphrase")
	configureCmd.Flags().StringVar(&configureWifiCountry, "wifi-country", "", "Wireless regulatory domain (e.g. NL)")
	configureCmd.Flags().StringVar(&configureUser, "user", "", "First-boot username")
	configureCmd.Flags().StringVar(&configurePasswordHash, "password-hash", "", "crypt(3) password hash for --user")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	mountPoint := args[0]

	info, err := os.Stat(mountPoint)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a mounted directory", mountPoint)
	}

	if !configureSSH && configureWifiSSID == "" && configureUser == "" {
		return fmt.Errorf("nothing to configure, pass --ssh, --wifi-ssid, or --user")
	}

	if configureSSH {
		if err := bootconfig.EnableSSH(mountPoint); err != nil {
			return errors.Wrap(err, "ssh setup failed")
		}
	}

	if configureWifiSSID != "" {
		cfg := bootconfig.WifiConfig{
			SSID:    configureWifiSSID,
			PSK:     configureWifiPSK,
			Country: configureWifiCountry,
		}
		if err := bootconfig.WriteWifi(mountPoint, cfg); err != nil {
			return errors.Wrap(err, "wifi setup failed")
		}
	}

	if configureUser != "" {
		if err := bootconfig.WriteUser(mountPoint, configureUser, configurePasswordHash); err != nil {
			return errors.Wrap(err, "user setup failed")
		}
	}

	return nil
}
