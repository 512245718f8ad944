// Package bootconfig drops headless-setup files onto a mounted boot
// partition: the ssh enable marker, a wpa_supplicant.conf and the
// first-boot user configuration Raspberry Pi OS picks up from userconf.txt.
package bootconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

const wifiTemplate = `country={{.Country}}
ctrl_interface=DIR=/var/run/wpa_supplicant GROUP=netdev
update_config=1

network={
	ssid="{{.SSID}}"
	psk="{{.PSK}}"
}
`

var wifiTmpl = template.Must(template.New("wpa_supplicant").Parse(wifiTemplate))

// WifiConfig is the wireless network written into wpa_supplicant.conf.
type WifiConfig struct {
	SSID    string
	PSK     string
	Country string
}

// EnableSSH creates the empty ssh marker file the first-boot service looks
// for.
func EnableSSH(mountPoint string) error {
	path := filepath.Join(mountPoint, "ssh")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return fmt.Errorf("writing ssh marker: %w", err)
	}
	slog.Info("bootconfig_ssh_enabled", "path", path)
	return nil
}

// WriteWifi renders wpa_supplicant.conf for the given network. Country
// defaults to US when unset, since the firmware refuses to bring the radio
// up without a regulatory domain.
func WriteWifi(mountPoint string, cfg WifiConfig) error {
	if cfg.SSID == "" {
		return fmt.Errorf("wifi ssid is required")
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	var b strings.Builder
	if err := wifiTmpl.Execute(&b, cfg); err != nil {
		return fmt.Errorf("rendering wpa_supplicant.conf: %w", err)
	}
	path := filepath.Join(mountPoint, "wpa_supplicant.conf")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("writing wpa_supplicant.conf: %w", err)
	}
	slog.Info("bootconfig_wifi_written", "path", path, "ssid", cfg.SSID, "country", cfg.Country)
	return nil
}

// WriteUser writes userconf.txt with the given username and password hash.
// The hash must already be in crypt(3) form, e.g. the output of
// openssl passwd -6.
func WriteUser(mountPoint, username, passwordHash string) error {
	if username == "" || passwordHash == "" {
		return fmt.Errorf("username and password hash are required")
	}
	if strings.ContainsAny(username, ":\n") {
		return fmt.Errorf("invalid username %q", username)
	}
	path := filepath.Join(mountPoint, "userconf.txt")
	line := fmt.Sprintf("%s:%s\n", username, passwordHash)
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		return fmt.Errorf("writing userconf.txt: %w", err)
	}
	slog.Info("bootconfig_user_written", "path", path, "username", username)
	return nil
}
