// Package config holds openidcsd runtime configuration: data directories,
// the catalog database path, and tunables that are the same across every
// adapter instance (tick period, rate limits, ring buffer bounds).
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds openidcsd runtime configuration.
type Config struct {
	// DataDir is the base directory for openidcsd runtime data.
	DataDir string

	// SavingRoot is the directory the catalog and VNC gateway persist
	// their flat-file side state into (websockify.cfg, backups).
	SavingRoot string

	// DBPath is the path to the SQLite catalog database.
	DBPath string

	// SocketAddr is the HTTP API listen address.
	SocketAddr string

	// TickPeriod is how often Host Manager.Tick() runs.
	TickPeriod time.Duration

	// StatusRingBound is the max number of HWStatus samples kept per
	// ring (hs_status and each vm_status entry).
	StatusRingBound int

	// BackendRateLimitPerSec is a per-backend outbound call rate. The
	// engine registry does not read it; the VMware adapter's limiter uses
	// the registry's own fixed rate (10 calls/s).
	BackendRateLimitPerSec float64

	// BackendRateLimitBurst is the burst size paired with the above. The
	// engine registry does not read it either (its fixed burst is 5).
	BackendRateLimitBurst int

	// VNCGatewayAddr is the listen address for the VNC WebSocket gateway.
	VNCGatewayAddr string

	// VNCStaticDir roots the browser-side VNC client asset tree served
	// by the gateway. Empty disables static asset serving.
	VNCStaticDir string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	base := filepath.Join(homeDir, ".openidcs")

	return &Config{
		DataDir:                filepath.Join(base, "data"),
		SavingRoot:             filepath.Join(base, "data"),
		DBPath:                 filepath.Join(base, "data", "openidcs.db"),
		SocketAddr:             "127.0.0.1:8765",
		TickPeriod:             60 * time.Second,
		StatusRingBound:        1440,
		BackendRateLimitPerSec: 2,
		BackendRateLimitBurst:  5,
		VNCGatewayAddr:         "127.0.0.1:6080",
		VNCStaticDir:           "",
	}
}

// EnsureDirs creates all required directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.DataDir, c.SavingRoot}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
