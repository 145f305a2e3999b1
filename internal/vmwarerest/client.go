// Package vmwarerest is a typed Go client for VMware Workstation/Fusion's
// vmrest daemon, grounded in the original agent's VRestAPI: HTTP Basic
// auth, the vendor "application/vnd.vmware.vmw.rest-v1+json" content
// type, name-to-ID resolution by scanning /vms, and the power-state word
// mapping vmrest expects on its power endpoint.
package vmwarerest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

const vendorContentType = "application/vnd.vmware.vmw.rest-v1+json"

// Client talks to one vmrest daemon instance.
type Client struct {
	addr    string
	user    string
	pass    string
	hwVer   int
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient constructs a Client for the vmrest daemon at addr
// ("host:port", no scheme). hwVersion is the virtualHW.version stamped
// into generated .vmx files.
func NewClient(addr, user, pass string, hwVersion int, limiter *rate.Limiter) *Client {
	return &Client{
		addr:    addr,
		user:    user,
		pass:    pass,
		hwVer:   hwVersion,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: limiter,
	}
}

// VM is one entry of vmrest's GET /vms listing.
type VM struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	switch b := body.(type) {
	case nil:
		reader = nil
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := fmt.Sprintf("http://%s/api%s", c.addr, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("Content-Type", vendorContentType)
	req.Header.Set("Accept", vendorContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return resp, nil
}

func decodeJSON[T any](resp *http.Response) (T, error) {
	var out T
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// ListVMs returns every VM registered with the daemon.
func (c *Client) ListVMs(ctx context.Context) ([]VM, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vms", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[[]VM](resp)
}

// VMXStem returns the filename stem (no directory, no .vmx extension) of
// a guest path reported by vmrest. The daemon always reports Windows-style
// backslash paths regardless of the controller's own OS, so this splits on
// both "/" and "\" rather than delegating to path/filepath, whose
// separator handling follows the controller's GOOS.
func VMXStem(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".vmx")
}

// ResolveID finds the vmrest ID of the VM named vmName, matching either a
// substring of the registered path or an exact .vmx stem, same as the
// original agent's select_vid. Returns "" when not found.
func (c *Client) ResolveID(ctx context.Context, vmName string) (string, error) {
	vms, err := c.ListVMs(ctx)
	if err != nil {
		return "", err
	}
	for _, vm := range vms {
		if strings.Contains(vm.Path, vmName) {
			return vm.ID, nil
		}
		stem := VMXStem(vm.Path)
		if stem == vmName {
			return vm.ID, nil
		}
	}
	return "", nil
}

// Register adds a .vmx already on disk to the daemon's inventory,
// returning the assigned vmrest ID.
func (c *Client) Register(ctx context.Context, vmxPath, vmName string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/vms/registration", map[string]string{
		"name": vmName,
		"path": vmxPath,
	})
	if err != nil {
		return "", err
	}
	vm, err := decodeJSON[VM](resp)
	if err != nil {
		return "", err
	}
	return vm.ID, nil
}

// Unregister removes a VM from the daemon's inventory by vmrest ID.
func (c *Client) Unregister(ctx context.Context, vmID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/vms/"+vmID, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetConfig returns the raw vmrest params document for a VM.
func (c *Client) GetConfig(ctx context.Context, vmID string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vms/"+vmID, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[map[string]any](resp)
}

// SetConfig applies a partial vmrest params update to a VM.
func (c *Client) SetConfig(ctx context.Context, vmID string, params map[string]any) error {
	resp, err := c.do(ctx, http.MethodPut, "/vms/"+vmID, params)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// powerWord maps a catalog.PowerState requested action to the literal
// string vmrest's power endpoint expects.
var powerWord = map[catalog.PowerState]string{
	catalog.SStart: "on",
	catalog.SClose: "shutdown",
	catalog.SReset: "reset",
	catalog.HClose: "off",
	catalog.HReset: "reset",
	catalog.APause: "pause",
	catalog.AWaked: "unpause",
}

// powerState maps vmrest's observed power_state string back to a
// catalog.PowerState.
var powerState = map[string]catalog.PowerState{
	"poweredOn":  catalog.Started,
	"poweredOff": catalog.Stopped,
	"suspended":  catalog.Suspend,
	"paused":     catalog.Suspend,
}

// GetPower returns the VM's current observed power state.
func (c *Client) GetPower(ctx context.Context, vmID string) (catalog.PowerState, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vms/"+vmID+"/power", nil)
	if err != nil {
		return catalog.Unknown, err
	}
	result, err := decodeJSON[struct {
		PowerState string `json:"power_state"`
	}](resp)
	if err != nil {
		return catalog.Unknown, err
	}
	if s, ok := powerState[result.PowerState]; ok {
		return s, nil
	}
	return catalog.Unknown, nil
}

// SetPower requests a power transition, optionally supplying the
// password for an encrypted VM as a vmrest query parameter.
func (c *Client) SetPower(ctx context.Context, vmID string, state catalog.PowerState, vmPassword string) error {
	word, ok := powerWord[state]
	if !ok {
		word = "on"
	}

	path := "/vms/" + vmID + "/power"
	if vmPassword != "" {
		path += "?vmPassword=" + vmPassword
	}

	resp, err := c.do(ctx, http.MethodPut, path, word)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// BuildAndRegister renders gc to .vmx, writes it to vmxPath, and
// registers it with the daemon, returning the assigned vmrest ID.
func (c *Client) BuildAndRegister(ctx context.Context, gc catalog.GuestConfig, vncPort int, vmxPath string, writeFile func(path, content string) error) (string, error) {
	content := BuildVMX(gc, c.hwVer, vncPort)
	if err := writeFile(vmxPath, content); err != nil {
		return "", fmt.Errorf("write vmx: %w", err)
	}
	return c.Register(ctx, vmxPath, gc.VMUUID)
}

// ListNets returns the host's virtual networks.
func (c *Client) ListNets(ctx context.Context) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/vmnet", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[map[string]any](resp)
}
