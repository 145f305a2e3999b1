package adapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/probe"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/vmwarerest"
)

const (
	vmrestBinaryName = "vmrest.exe"
	vmwareHWVersion  = 21 // matches VRestAPI's default ver_agent

	// defaultConsolePort is the base VNC port used when a host's
	// HostConfig.RemotePort is unset.
	defaultConsolePort = 5901
)

// consolePort derives the guest's reserved VNC port: the host's
// remote_port (or defaultConsolePort if unset) plus the guest's ordinal
// position among its siblings, per invariant 1 on HostConfig.RemotePort.
func consolePort(hc catalog.HostConfig, index int) int {
	base := hc.RemotePort
	if base == 0 {
		base = defaultConsolePort
	}
	return base + index
}

// VMware is the adapter for VMware Workstation/Fusion's vmrest daemon.
// It is the only Engine Registry entry enabled by default; the other
// nine backend kinds register disabled stubs.
type VMware struct {
	procs     *vmrestManager
	rateLimit float64
	burst     int
	sampler   *probe.Sampler
}

// NewVMware constructs the VMware adapter. rateLimit/burst bound outbound
// calls to any one host's vmrest daemon.
func NewVMware(rateLimit float64, burst int) *VMware {
	return &VMware{procs: newVmrestManager(), rateLimit: rateLimit, burst: burst, sampler: probe.NewSampler()}
}

func (a *VMware) client(hc catalog.HostConfig) *vmwarerest.Client {
	var limiter *rate.Limiter
	if a.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(a.rateLimit), a.burst)
	}
	return vmwarerest.NewClient(hc.ServerAddr, hc.ServerUser, hc.ServerPass, vmwareHWVersion, limiter)
}

func (a *VMware) Caps() Caps {
	return Caps{
		Name:            "vmware",
		Enabled:         true,
		SupportsConsole: true,
		SupportsPause:   true,
		Platforms:       []string{"windows"},
	}
}

// HostCreate ensures the host's working directories exist.
func (a *VMware) HostCreate(ctx context.Context, hc catalog.HostConfig) error {
	dirs := []string{hc.ImagesPath, hc.SystemPath, hc.BackupPath, hc.ExternPath}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("%w: create %s: %v", apierr.ErrFS, d, err)
		}
	}
	return nil
}

// HostDelete is a no-op: guest teardown is the Host Manager's job, and
// the working directories HostCreate made may hold other hosts' state
// under a shared root.
func (a *VMware) HostDelete(ctx context.Context, hc catalog.HostConfig) error {
	return nil
}

// HostConfig is a no-op: every call already receives a fresh HostConfig,
// so there is no cached connection state to refresh.
func (a *VMware) HostConfig(ctx context.Context, hc catalog.HostConfig) error {
	return nil
}

// HostLoader starts the host's vmrest.exe daemon if it is not already
// running. It returns once the process is spawned and does not wait for
// it to accept connections.
func (a *VMware) HostLoader(ctx context.Context, hc catalog.HostConfig) error {
	if hc.LaunchPath == "" {
		return fmt.Errorf("%w: launch_path not configured", apierr.ErrConfig)
	}
	logPath := filepath.Join(hc.ExternPath, "vmrest.log")
	if hc.ExternPath == "" {
		logPath = filepath.Join(hc.LaunchPath, "vmrest.log")
	}
	return a.procs.Start(hostKey(hc), hc.LaunchPath, logPath)
}

// HostUnload stops the host's vmrest.exe daemon.
func (a *VMware) HostUnload(ctx context.Context, hc catalog.HostConfig) error {
	a.procs.Stop(hostKey(hc))
	return nil
}

// HostAction supports "list_nets" (vmrest's virtual network inventory);
// any other action name is unsupported.
func (a *VMware) HostAction(ctx context.Context, hc catalog.HostConfig, action string, args map[string]any) (catalog.ActionResult, error) {
	switch action {
	case "list_nets":
		nets, err := a.client(hc).ListNets(ctx)
		if err != nil {
			return catalog.ActionResult{Success: false, Actions: action, Message: err.Error(), Execute: err}, err
		}
		return catalog.ActionResult{Success: true, Actions: action, Results: nets}, nil
	default:
		return catalog.ActionResult{}, fmt.Errorf("%w: host action %q", apierr.ErrUnsupported, action)
	}
}

// HostStatus samples the controller machine's own hardware: vmrest
// exposes no host-level hardware counters of its own, and in every
// deployment this adapter targets, vmrest.exe runs on the same machine as
// this controller process (HostLoader spawns it locally), so local
// sampling is the host's sampling.
func (a *VMware) HostStatus(ctx context.Context, hc catalog.HostConfig) (catalog.HWStatus, error) {
	return a.sampler.Sample(hc.SystemPath), nil
}

// ScanGuests lists every VM vmrest knows about whose name matches the
// host's filter prefix, returning a zero-resource placeholder for each —
// the full GuestConfig for an adopted guest isn't reconstructible from
// vmrest's inventory alone.
func (a *VMware) ScanGuests(ctx context.Context, hc catalog.HostConfig) ([]catalog.GuestConfig, error) {
	vms, err := a.client(hc).ListVMs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrBackend, err)
	}

	var out []catalog.GuestConfig
	for _, vm := range vms {
		name := vmwarerest.VMXStem(vm.Path)
		if hc.FilterName != "" && !strings.HasPrefix(name, hc.FilterName) {
			continue
		}
		out = append(out, catalog.ZeroGuestConfig(name))
	}
	return out, nil
}

// GuestCreate renders the guest's .vmx, copies its base image, and
// registers it with vmrest. index is this guest's ordinal among the
// host's guests, and fixes the VNC port baked into the .vmx.
func (a *VMware) GuestCreate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig, index int) (catalog.ActionResult, error) {
	vmDir := filepath.Join(hc.SystemPath, gc.VMUUID)
	if err := os.MkdirAll(vmDir, 0755); err != nil {
		return failResult("GuestCreate", err), err
	}

	vmxPath := filepath.Join(vmDir, gc.VMUUID+".vmx")
	content := vmwarerest.BuildVMX(gc, vmwareHWVersion, consolePort(hc, index))
	if err := os.WriteFile(vmxPath, []byte(content), 0644); err != nil {
		return failResult("GuestCreate", err), err
	}

	imageSrc := filepath.Join(hc.ImagesPath, gc.OSName+".vmdk")
	imageDst := filepath.Join(vmDir, gc.VMUUID+".vmdk")
	if err := copyFile(imageSrc, imageDst); err != nil {
		return failResult("GuestCreate", err), err
	}

	if _, err := a.client(hc).Register(ctx, vmxPath, gc.VMUUID); err != nil {
		return failResult("GuestCreate", err), err
	}

	return catalog.ActionResult{Success: true, Actions: "GuestCreate", Message: "VM created"}, nil
}

// GuestUpdate pushes CPU/memory changes to vmrest. NIC and disk topology
// changes are not re-applied to the running VM — the catalog's view of
// GuestConfig is authoritative for future recreates, but the .vmx is not
// regenerated against a live VM.
func (a *VMware) GuestUpdate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	client := a.client(hc)
	id, err := client.ResolveID(ctx, gc.VMUUID)
	if err != nil {
		return failResult("GuestUpdate", err), err
	}
	if id == "" {
		err := fmt.Errorf("%w: guest %s", apierr.ErrNotFound, gc.VMUUID)
		return failResult("GuestUpdate", err), err
	}

	params := map[string]any{
		"processors": gc.CPUNum,
		"memory":     gc.MemNum,
	}
	if err := client.SetConfig(ctx, id, params); err != nil {
		return failResult("GuestUpdate", err), err
	}
	return catalog.ActionResult{Success: true, Actions: "GuestUpdate", Message: "VM updated"}, nil
}

// GuestDelete unregisters the guest from vmrest and removes its on-disk
// directory.
func (a *VMware) GuestDelete(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.ActionResult, error) {
	client := a.client(hc)
	id, err := client.ResolveID(ctx, vmUUID)
	if err != nil {
		return failResult("GuestDelete", err), err
	}
	if id != "" {
		if err := client.Unregister(ctx, id); err != nil {
			return failResult("GuestDelete", err), err
		}
	}

	vmDir := filepath.Join(hc.SystemPath, vmUUID)
	if err := os.RemoveAll(vmDir); err != nil {
		return failResult("GuestDelete", err), err
	}
	return catalog.ActionResult{Success: true, Actions: "GuestDelete", Message: "VM deleted"}, nil
}

// GuestPower requests a power transition via vmrest.
func (a *VMware) GuestPower(ctx context.Context, hc catalog.HostConfig, vmUUID string, state catalog.PowerState, vmPassword string) (catalog.ActionResult, error) {
	client := a.client(hc)
	id, err := client.ResolveID(ctx, vmUUID)
	if err != nil {
		return failResult("GuestPower", err), err
	}
	if id == "" {
		err := fmt.Errorf("%w: guest %s", apierr.ErrNotFound, vmUUID)
		return failResult("GuestPower", err), err
	}

	if err := client.SetPower(ctx, id, state, vmPassword); err != nil {
		return failResult("GuestPower", err), err
	}
	return catalog.ActionResult{
		Success: true,
		Actions: "GuestPower",
		Message: fmt.Sprintf("VM %s power set to %s", vmUUID, state),
	}, nil
}

// GuestStatus reports the guest's current observed power state.
func (a *VMware) GuestStatus(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.HWStatus, error) {
	client := a.client(hc)
	id, err := client.ResolveID(ctx, vmUUID)
	if err != nil {
		return catalog.HWStatus{ACStatus: catalog.Unknown}, fmt.Errorf("%w: %v", apierr.ErrBackend, err)
	}
	if id == "" {
		return catalog.HWStatus{ACStatus: catalog.Unknown}, nil
	}

	state, err := client.GetPower(ctx, id)
	if err != nil {
		return catalog.HWStatus{ACStatus: catalog.Unknown}, fmt.Errorf("%w: %v", apierr.ErrBackend, err)
	}
	return catalog.HWStatus{ACStatus: state}, nil
}

// GuestConsole returns the VNC endpoint baked into this guest's .vmx at
// creation time (RemoteDisplay.vnc.port), re-derived from hc.RemotePort
// and the guest's ordinal rather than read back off disk.
func (a *VMware) GuestConsole(ctx context.Context, hc catalog.HostConfig, vmUUID string, index int) (string, error) {
	host, _, err := net.SplitHostPort(hc.ServerAddr)
	if err != nil {
		host = hc.ServerAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(consolePort(hc, index))), nil
}

// GuestInstall is a no-op: this adapter's GuestCreate already seeds the
// guest from a prebuilt base image, so there is no separate install
// phase.
func (a *VMware) GuestInstall(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true, Actions: "GuestInstall", Message: "no install step required"}, nil
}

func hostKey(hc catalog.HostConfig) string {
	return hc.ServerAddr
}

func failResult(action string, err error) catalog.ActionResult {
	return catalog.ActionResult{Success: false, Actions: action, Message: err.Error(), Execute: err}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create dest image: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy image: %w", err)
	}
	return out.Close()
}
