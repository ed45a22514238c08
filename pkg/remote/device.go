package remote

import (
	"crypto/md5"
	"encoding/hex"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Device is the fingerprint presented to the remote platform. The same
// username must always map to the same device: the platform flags accounts
// whose device identity churns between sessions.
type Device struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	OSVersion    string `json:"os_version"`
	Resolution   string `json:"resolution"`
	DPI          string `json:"dpi"`
	DeviceID     string `json:"device_id"`
}

// devicePool mirrors a handful of common handsets. Selection is by username
// hash so it survives restarts without any stored state.
var devicePool = []Device{
	{Manufacturer: "samsung", Model: "Galaxy S24 Ultra", OSVersion: "14", Resolution: "1080x2340", DPI: "440dpi"},
	{Manufacturer: "Google", Model: "Pixel 8 Pro", OSVersion: "15", Resolution: "1080x2400", DPI: "420dpi"},
	{Manufacturer: "OnePlus", Model: "OnePlus 12", OSVersion: "14", Resolution: "1312x2868", DPI: "480dpi"},
	{Manufacturer: "Xiaomi", Model: "Redmi Note 13 Pro", OSVersion: "14", Resolution: "1080x2400", DPI: "400dpi"},
}

// DeviceForUser returns the stable device fingerprint for a username.
func DeviceForUser(username string) Device {
	sum := md5.Sum([]byte(username))
	idx := new(big.Int).Mod(new(big.Int).SetBytes(sum[:]), big.NewInt(int64(len(devicePool)))).Int64()
	d := devicePool[idx]
	d.DeviceID = deviceID(username)
	return d
}

// deviceID derives a 16-hex-char id from the machine identity and username.
func deviceID(username string) string {
	sum := md5.Sum([]byte(machineID() + "_" + username + "_device"))
	return hex.EncodeToString(sum[:])[:16]
}

func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if b, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return id
			}
		}
	}
	// No system id available: persist a generated one so device identity
	// still stays stable across runs.
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gramscope-fallback"
	}
	idFile := filepath.Join(dir, "gramscope", ".machine_uuid")
	if b, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(idFile), 0o700); err == nil {
		_ = os.WriteFile(idFile, []byte(id), 0o600)
	}
	return id
}
