// Package adapter defines the capability-set interface every
// virtualization backend implements. The Host Manager never knows which
// concrete backend is behind a host — it only calls Adapter, the same
// way the teacher's vmm.VMM interface lets core logic stay backend-blind.
package adapter

import (
	"context"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

// Caps reports what a backend adapter supports. The Engine Registry
// exposes one Caps per registered kind so callers can reject unsupported
// operations before dispatch instead of after a backend error.
type Caps struct {
	// Name is the backend identifier ("vmware", "hyperv", "proxmox", ...).
	Name string

	// Enabled means this adapter is wired to a real backend. Disabled
	// adapters are registered for discoverability but every operation
	// returns apierr.ErrUnsupported.
	Enabled bool

	// SupportsConsole means GuestConsole can hand back a VNC/console
	// endpoint for the gateway to relay.
	SupportsConsole bool

	// SupportsPause means GuestPower accepts A_PAUSE/A_WAKED in addition
	// to the hard/soft start-stop-reset set.
	SupportsPause bool

	// Platforms lists the host OS families this adapter can run on
	// ("windows", "linux", "darwin"); empty means platform-independent.
	Platforms []string
}

// Adapter is the capability set a virtualization backend implements.
type Adapter interface {
	// Caps reports this adapter's capabilities.
	Caps() Caps

	// HostCreate provisions whatever local state a new host needs
	// (directories, registration files) before first use.
	HostCreate(ctx context.Context, hc catalog.HostConfig) error

	// HostDelete tears down local state created by HostCreate. It does
	// not touch guests — the Host Manager deletes those separately.
	HostDelete(ctx context.Context, hc catalog.HostConfig) error

	// HostConfig applies a configuration change to a live host (e.g. a
	// path or credential update) without restarting its daemon.
	HostConfig(ctx context.Context, hc catalog.HostConfig) error

	// HostLoader starts the backend's control-plane process (if any).
	HostLoader(ctx context.Context, hc catalog.HostConfig) error

	// HostUnload stops the backend's control-plane process cleanly.
	HostUnload(ctx context.Context, hc catalog.HostConfig) error

	// HostAction runs a host-level action not covered by the other
	// methods (e.g. a backup trigger), identified by name.
	HostAction(ctx context.Context, hc catalog.HostConfig, action string, args map[string]any) (catalog.ActionResult, error)

	// HostStatus samples the host's current hardware/utilization state.
	HostStatus(ctx context.Context, hc catalog.HostConfig) (catalog.HWStatus, error)

	// ScanGuests lists every guest the backend currently knows about,
	// including ones the catalog never created (adopted guests get a
	// catalog.ZeroGuestConfig placeholder).
	ScanGuests(ctx context.Context, hc catalog.HostConfig) ([]catalog.GuestConfig, error)

	// GuestCreate provisions a new guest from gc. index is the guest's
	// 0-based ordinal among its host's guests (sorted by vm_uuid); an
	// adapter that exposes a console derives that endpoint's port from
	// hc.RemotePort+index so every guest on a host gets a distinct one.
	GuestCreate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig, index int) (catalog.ActionResult, error)

	// GuestUpdate applies a configuration change to an existing guest.
	GuestUpdate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error)

	// GuestDelete destroys a guest and releases its resources.
	GuestDelete(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.ActionResult, error)

	// GuestPower requests a power state transition.
	GuestPower(ctx context.Context, hc catalog.HostConfig, vmUUID string, state catalog.PowerState, vmPassword string) (catalog.ActionResult, error)

	// GuestStatus samples a guest's current power and hardware state.
	GuestStatus(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.HWStatus, error)

	// GuestConsole returns a dial target (host:port) for the guest's
	// console/VNC endpoint, for the VNC gateway to relay. index is the
	// same ordinal GuestCreate received, so the returned port matches
	// whatever was baked in at creation time.
	GuestConsole(ctx context.Context, hc catalog.HostConfig, vmUUID string, index int) (string, error)

	// GuestInstall runs guest-side OS install/provisioning steps that
	// happen after GuestCreate but before first boot (e.g. seeding an
	// installer ISO reference). Adapters without an install step return
	// a successful no-op ActionResult.
	GuestInstall(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error)
}

// Factory constructs an Adapter. The Engine Registry holds one Factory
// per backend kind.
type Factory func() Adapter
