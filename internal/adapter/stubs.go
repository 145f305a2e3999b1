package adapter

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

// disabledStub backs every Engine Registry entry whose backend this tree
// does not talk to yet. Every operation fails with apierr.ErrUnsupported
// so the Host Manager rejects hosts of that kind before ever dialing
// anything. caps.Enabled is always false.
type disabledStub struct {
	caps Caps
}

func newDisabledStub(kind string, platforms ...string) *disabledStub {
	return &disabledStub{caps: Caps{Name: kind, Enabled: false, Platforms: platforms}}
}

func (s *disabledStub) Caps() Caps { return s.caps }

func (s *disabledStub) unsupported(op string) error {
	return fmt.Errorf("%w: %s adapter is disabled (%s)", apierr.ErrUnsupported, s.caps.Name, op)
}

func (s *disabledStub) HostCreate(ctx context.Context, hc catalog.HostConfig) error {
	return s.unsupported("HostCreate")
}

func (s *disabledStub) HostDelete(ctx context.Context, hc catalog.HostConfig) error {
	return s.unsupported("HostDelete")
}

func (s *disabledStub) HostConfig(ctx context.Context, hc catalog.HostConfig) error {
	return s.unsupported("HostConfig")
}

func (s *disabledStub) HostLoader(ctx context.Context, hc catalog.HostConfig) error {
	return s.unsupported("HostLoader")
}

func (s *disabledStub) HostUnload(ctx context.Context, hc catalog.HostConfig) error {
	return s.unsupported("HostUnload")
}

func (s *disabledStub) HostAction(ctx context.Context, hc catalog.HostConfig, action string, args map[string]any) (catalog.ActionResult, error) {
	return catalog.ActionResult{}, s.unsupported("HostAction:" + action)
}

func (s *disabledStub) HostStatus(ctx context.Context, hc catalog.HostConfig) (catalog.HWStatus, error) {
	return catalog.HWStatus{}, s.unsupported("HostStatus")
}

func (s *disabledStub) ScanGuests(ctx context.Context, hc catalog.HostConfig) ([]catalog.GuestConfig, error) {
	return nil, s.unsupported("ScanGuests")
}

func (s *disabledStub) GuestCreate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig, index int) (catalog.ActionResult, error) {
	return catalog.ActionResult{}, s.unsupported("GuestCreate")
}

func (s *disabledStub) GuestUpdate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	return catalog.ActionResult{}, s.unsupported("GuestUpdate")
}

func (s *disabledStub) GuestDelete(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.ActionResult, error) {
	return catalog.ActionResult{}, s.unsupported("GuestDelete")
}

func (s *disabledStub) GuestPower(ctx context.Context, hc catalog.HostConfig, vmUUID string, state catalog.PowerState, vmPassword string) (catalog.ActionResult, error) {
	return catalog.ActionResult{}, s.unsupported("GuestPower")
}

func (s *disabledStub) GuestStatus(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.HWStatus, error) {
	return catalog.HWStatus{}, s.unsupported("GuestStatus")
}

func (s *disabledStub) GuestConsole(ctx context.Context, hc catalog.HostConfig, vmUUID string, index int) (string, error) {
	return "", s.unsupported("GuestConsole")
}

func (s *disabledStub) GuestInstall(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	return catalog.ActionResult{}, s.unsupported("GuestInstall")
}

// NewHyperV, NewProxmox, ... construct the disabled stubs the Engine
// Registry lists for discoverability. None of them dial anything.
func NewHyperV() Adapter      { return newDisabledStub("hyperv", "windows") }
func NewProxmox() Adapter     { return newDisabledStub("proxmox", "linux") }
func NewVirtualBox() Adapter  { return newDisabledStub("virtualbox", "windows", "linux", "darwin") }
func NewESXi() Adapter        { return newDisabledStub("esxi") }
func NewLXC() Adapter         { return newDisabledStub("lxc", "linux") }
func NewAndroidEmu() Adapter  { return newDisabledStub("android-emulator", "windows", "linux", "darwin") }
func NewMacOSFusion() Adapter { return newDisabledStub("macos-fusion", "darwin") }

// containerStub is the disabledStub shared by Docker and Podman, plus one
// concrete call site for go-containerregistry's reference parser on its
// unreachable GuestCreate path — the image name a container-backed guest
// would be created from is validated the same way any OCI puller would,
// even though the stub never gets far enough to pull it.
type containerStub struct {
	*disabledStub
}

func newContainerStub(kind string) *containerStub {
	return &containerStub{disabledStub: newDisabledStub(kind, "linux")}
}

func (s *containerStub) GuestCreate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig, index int) (catalog.ActionResult, error) {
	if _, err := name.ParseReference(gc.OSName); err != nil {
		return catalog.ActionResult{}, fmt.Errorf("%w: invalid image reference %q: %v", apierr.ErrUnsupported, gc.OSName, err)
	}
	return catalog.ActionResult{}, s.unsupported("GuestCreate")
}

// NewDocker and NewPodman construct the disabled container-backend
// stubs. Both adapters are container-kind rather than hypervisor-kind —
// they are registered for completeness but nothing in this tree
// schedules guests onto them.
func NewDocker() Adapter { return newContainerStub("docker") }
func NewPodman() Adapter { return newContainerStub("podman") }
