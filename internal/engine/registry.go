// Package engine holds the static table mapping a host's server_type to
// the adapter that drives it. New backends are added purely by extending
// this table; the Host Manager has no knowledge of any specific backend.
package engine

import (
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/adapter"
)

// Entry describes one registered backend kind.
type Entry struct {
	// Factory constructs a fresh adapter instance for this kind.
	Factory adapter.Factory

	// Description is a short human-readable summary shown to operators.
	Description string

	// Enabled gates AddHost: hosts of a disabled kind are rejected before
	// any adapter method is ever called.
	Enabled bool

	// Platforms lists the host OS families this backend's control plane
	// can run on. Empty means platform-independent.
	Platforms []string

	// Arches lists supported CPU architectures. Empty means
	// architecture-independent.
	Arches []string

	// Options documents the HostConfig.ExtendData keys this backend
	// understands, name to one-line description.
	Options map[string]string

	// SystemMaps documents the logical-OS names this backend accepts in
	// GuestConfig.OSName, mapped to the backend-specific image/template
	// name it resolves to.
	SystemMaps map[string]string
}

// Registry is the immutable server_type to Entry table, built once at
// package init and never mutated afterward.
var Registry = map[string]Entry{
	"vmware": {
		Factory:     func() adapter.Adapter { return adapter.NewVMware(defaultRateLimit, defaultBurst) },
		Description: "VMware Workstation/Fusion, driven over the vmrest REST daemon",
		Enabled:     true,
		Platforms:   []string{"windows"},
		Arches:      []string{"amd64", "arm64"},
		Options: map[string]string{
			"launch_path": "directory containing vmrest.exe",
			"extern_path": "directory for vmrest's log file and other externalized state",
		},
		SystemMaps: map[string]string{
			"ubuntu-64":  "ubuntu-64.vmdk",
			"windows-64": "windows-64.vmdk",
		},
	},
	"hyperv": {
		Factory:     func() adapter.Adapter { return adapter.NewHyperV() },
		Description: "Microsoft Hyper-V (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"windows"},
	},
	"proxmox": {
		Factory:     func() adapter.Adapter { return adapter.NewProxmox() },
		Description: "Proxmox VE (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"linux"},
	},
	"virtualbox": {
		Factory:     func() adapter.Adapter { return adapter.NewVirtualBox() },
		Description: "Oracle VirtualBox (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"windows", "linux", "darwin"},
	},
	"esxi": {
		Factory:     func() adapter.Adapter { return adapter.NewESXi() },
		Description: "VMware ESXi (planned, not yet implemented)",
		Enabled:     false,
	},
	"lxc": {
		Factory:     func() adapter.Adapter { return adapter.NewLXC() },
		Description: "Linux containers via LXC (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"linux"},
	},
	"docker": {
		Factory:     func() adapter.Adapter { return adapter.NewDocker() },
		Description: "Docker containers (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"linux"},
	},
	"podman": {
		Factory:     func() adapter.Adapter { return adapter.NewPodman() },
		Description: "Podman containers (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"linux"},
	},
	"android-emulator": {
		Factory:     func() adapter.Adapter { return adapter.NewAndroidEmu() },
		Description: "Android Emulator guests (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"windows", "linux", "darwin"},
	},
	"macos-fusion": {
		Factory:     func() adapter.Adapter { return adapter.NewMacOSFusion() },
		Description: "VMware Fusion on macOS hosts (planned, not yet implemented)",
		Enabled:     false,
		Platforms:   []string{"darwin"},
	},
}

const (
	defaultRateLimit = 10.0
	defaultBurst     = 5
)

// Lookup returns the Entry registered for serverType and whether it was
// found at all (a found-but-disabled entry still returns ok=true; callers
// must check Enabled separately).
func Lookup(serverType string) (Entry, bool) {
	e, ok := Registry[serverType]
	return e, ok
}
