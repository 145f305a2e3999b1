// Package manager implements the Host Manager: the process-local registry
// of live host adapters, fronted by the HTTP API and backed by the
// catalog store. It owns bearer-token auth, host lifecycle, guest
// dispatch, and the periodic status tick.
package manager

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/adapter"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/engine"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/ikuai"
)

const (
	// routerRateLimitPerSec and routerRateLimitBurst bound outbound calls
	// to any one host's iKuai router, independent of the backend daemon's
	// own rate limit.
	routerRateLimitPerSec = 2.0
	routerRateLimitBurst  = 5
)

// hostRuntime is one live host: its adapter instance plus the mutex that
// serializes operations against it, matching the teacher's
// lifecycle.Instance per-instance-mutex pattern.
type hostRuntime struct {
	mu      sync.Mutex
	hsName  string
	cfg     catalog.HostConfig
	adapter adapter.Adapter

	// router is this host's iKuai client, constructed lazily on first use
	// and cached for the runtime's lifetime. nil when the host has no
	// router credentials configured.
	router *ikuai.Client
}

// routerClient returns rt's cached iKuai client, constructing one on
// first call if rt.cfg.IKuaiAddr is set. Returns nil for a host with no
// router configured. Callers must hold rt.mu.
func (rt *hostRuntime) routerClient() *ikuai.Client {
	if rt.cfg.IKuaiAddr == "" {
		return nil
	}
	if rt.router == nil {
		limiter := rate.NewLimiter(rate.Limit(routerRateLimitPerSec), routerRateLimitBurst)
		rt.router = ikuai.New(rt.cfg.IKuaiAddr, rt.cfg.IKuaiUser, rt.cfg.IKuaiPass, limiter)
	}
	return rt.router
}

// Manager owns every live host adapter, the bearer token, and the
// catalog store they persist through.
type Manager struct {
	mu    sync.RWMutex
	hosts map[string]*hostRuntime

	store    *catalog.DB
	registry map[string]engine.Entry

	bearerMu sync.RWMutex
	bearer   string

	savingRoot  string
	statusBound int
}

// New constructs an empty Manager against the production Engine Registry.
// Call LoadAll to populate it from the catalog store.
func New(store *catalog.DB, savingRoot string, statusBound int) *Manager {
	return NewWithRegistry(store, savingRoot, statusBound, engine.Registry)
}

// NewWithRegistry is New with an injected registry, so tests can exercise
// the Host Manager against fake adapters instead of real backends —
// mirrors the teacher's lifecycle.NewManager accepting a vmm.VMM
// directly rather than constructing one internally.
func NewWithRegistry(store *catalog.DB, savingRoot string, statusBound int, registry map[string]engine.Entry) *Manager {
	return &Manager{
		hosts:       make(map[string]*hostRuntime),
		store:       store,
		registry:    registry,
		savingRoot:  savingRoot,
		statusBound: statusBound,
	}
}

// SetBearer sets the operator bearer token. An empty s generates a fresh
// 16-lowercase-hex-character token. The token is persisted to the
// catalog's global row and returned so the caller can print it once.
func (m *Manager) SetBearer(s string) (string, error) {
	if s == "" {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("%w: generate bearer: %v", apierr.ErrInternal, err)
		}
		s = hex.EncodeToString(buf)
	}

	m.bearerMu.Lock()
	m.bearer = s
	m.bearerMu.Unlock()

	g, err := m.store.LoadGlobal()
	if err != nil {
		return "", fmt.Errorf("%w: load global: %v", apierr.ErrStore, err)
	}
	g.Bearer = s
	g.SavingRoot = m.savingRoot
	if err := m.store.SaveGlobal(g); err != nil {
		return "", fmt.Errorf("%w: save global: %v", apierr.ErrStore, err)
	}
	return s, nil
}

// VerifyBearer reports whether s matches the current bearer token, using
// a constant-time comparison. Always rejects an empty token.
func (m *Manager) VerifyBearer(s string) bool {
	if s == "" {
		return false
	}
	m.bearerMu.RLock()
	want := m.bearer
	m.bearerMu.RUnlock()
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(want)) == 1
}

// AddHost instantiates a new host adapter of the given server type,
// brings it up, and persists its configuration. Rejects a duplicate name
// or a disabled/unknown server type.
func (m *Manager) AddHost(ctx context.Context, hsName string, cfg catalog.HostConfig) error {
	m.mu.Lock()
	if _, exists := m.hosts[hsName]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: host %s", apierr.ErrAlreadyExists, hsName)
	}
	m.mu.Unlock()

	entry, ok := m.registry[cfg.ServerType]
	if !ok || !entry.Enabled {
		return fmt.Errorf("%w: server type %q", apierr.ErrUnsupported, cfg.ServerType)
	}

	a := entry.Factory()
	if err := a.HostCreate(ctx, cfg); err != nil {
		return fmt.Errorf("%w: HostCreate: %v", apierr.ErrBackend, err)
	}
	if err := a.HostLoader(ctx, cfg); err != nil {
		return fmt.Errorf("%w: HostLoader: %v", apierr.ErrBackend, err)
	}

	if err := m.store.SaveHost(hsName, cfg, true); err != nil {
		return fmt.Errorf("%w: save host: %v", apierr.ErrStore, err)
	}

	m.mu.Lock()
	m.hosts[hsName] = &hostRuntime{hsName: hsName, cfg: cfg, adapter: a}
	m.mu.Unlock()

	m.logAction(hsName, "", "info", "host added")
	return nil
}

// DeleteHost stops and removes a host. Dependent guest/status/task/log
// rows are deleted from the catalog along with the host row; any adapter
// state left dangling past that point is ignored, matching the teacher's
// restart-rebuilds-from-store convention.
func (m *Manager) DeleteHost(ctx context.Context, hsName string) error {
	m.mu.Lock()
	rt, ok := m.hosts[hsName]
	delete(m.hosts, hsName)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: host %s", apierr.ErrNotFound, hsName)
	}

	rt.mu.Lock()
	if err := rt.adapter.HostUnload(ctx, rt.cfg); err != nil {
		log.Printf("manager: host %s: HostUnload on delete failed: %v", hsName, err)
	}
	rt.mu.Unlock()

	if err := m.store.DeleteHost(hsName); err != nil {
		return fmt.Errorf("%w: delete host: %v", apierr.ErrStore, err)
	}
	m.logAction(hsName, "", "info", "host deleted")
	return nil
}

// UpdateHost replaces a host's configuration (and, if server_type
// changed, its adapter) as a single atomic swap: no caller ever observes
// half the old adapter's state and half the new one's. Guests, status
// rings, tasks, and logs stay untouched since they are keyed by hsName in
// the catalog, not held in adapter memory.
func (m *Manager) UpdateHost(ctx context.Context, hsName string, cfg catalog.HostConfig) error {
	m.mu.RLock()
	rt, ok := m.hosts[hsName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: host %s", apierr.ErrNotFound, hsName)
	}

	entry, ok := m.registry[cfg.ServerType]
	if !ok || !entry.Enabled {
		return fmt.Errorf("%w: server type %q", apierr.ErrUnsupported, cfg.ServerType)
	}
	newAdapter := entry.Factory()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if err := rt.adapter.HostUnload(ctx, rt.cfg); err != nil {
		log.Printf("manager: host %s: HostUnload during update failed: %v", hsName, err)
	}
	if err := newAdapter.HostLoader(ctx, cfg); err != nil {
		return fmt.Errorf("%w: HostLoader: %v", apierr.ErrBackend, err)
	}

	if err := m.store.SaveHost(hsName, cfg, true); err != nil {
		return fmt.Errorf("%w: save host: %v", apierr.ErrStore, err)
	}

	rt.cfg = cfg
	rt.adapter = newAdapter
	m.logAction(hsName, "", "info", "host updated")
	return nil
}

// PowerHost starts (enable=true) or stops (enable=false) a host's
// control-plane process.
func (m *Manager) PowerHost(ctx context.Context, hsName string, enable bool) error {
	rt, err := m.runtime(hsName)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if enable {
		if err := rt.adapter.HostLoader(ctx, rt.cfg); err != nil {
			return fmt.Errorf("%w: HostLoader: %v", apierr.ErrBackend, err)
		}
	} else {
		if err := rt.adapter.HostUnload(ctx, rt.cfg); err != nil {
			return fmt.Errorf("%w: HostUnload: %v", apierr.ErrBackend, err)
		}
	}
	return nil
}

// LoadAll rebuilds the in-memory host map from the catalog store. A host
// whose server type has gone missing or disabled, or whose adapter fails
// to load, is logged and skipped and never makes LoadAll fail. The bearer
// token is read from the store's global row, generating and persisting a
// fresh one if none was ever set. LoadAll returns an error only when the
// global row or the host list cannot be read or the new token cannot be
// saved.
func (m *Manager) LoadAll(ctx context.Context) error {
	g, err := m.store.LoadGlobal()
	if err != nil {
		return fmt.Errorf("%w: load global: %v", apierr.ErrStore, err)
	}

	m.bearerMu.Lock()
	m.bearer = g.Bearer
	m.bearerMu.Unlock()

	if g.Bearer == "" {
		token, err := m.SetBearer("")
		if err != nil {
			return err
		}
		log.Printf("manager: bootstrap bearer token: %s", token)
	}

	rows, err := m.store.ListHosts()
	if err != nil {
		return fmt.Errorf("%w: list hosts: %v", apierr.ErrStore, err)
	}

	hosts := make(map[string]*hostRuntime, len(rows))
	for _, row := range rows {
		if !row.Enabled {
			continue
		}
		entry, ok := m.registry[row.Config.ServerType]
		if !ok || !entry.Enabled {
			log.Printf("manager: host %s: server type %q unknown or disabled, skipping", row.HSName, row.Config.ServerType)
			continue
		}

		a := entry.Factory()
		if err := a.HostLoader(ctx, row.Config); err != nil {
			log.Printf("manager: host %s: HostLoader failed, skipping: %v", row.HSName, err)
			continue
		}

		hosts[row.HSName] = &hostRuntime{hsName: row.HSName, cfg: row.Config, adapter: a}
	}

	m.mu.Lock()
	m.hosts = hosts
	m.mu.Unlock()
	return nil
}

// SaveAll persists every live host's configuration and the global row.
// Individual host save failures are logged and do not stop the sweep; the
// first error encountered (if any) is returned after all hosts are tried.
func (m *Manager) SaveAll() error {
	m.mu.RLock()
	snapshot := make([]*hostRuntime, 0, len(m.hosts))
	for _, rt := range m.hosts {
		snapshot = append(snapshot, rt)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, rt := range snapshot {
		rt.mu.Lock()
		cfg := rt.cfg
		name := rt.hsName
		rt.mu.Unlock()

		if err := m.store.SaveHost(name, cfg, true); err != nil {
			log.Printf("manager: host %s: save failed: %v", name, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	m.bearerMu.RLock()
	bearer := m.bearer
	m.bearerMu.RUnlock()

	g, err := m.store.LoadGlobal()
	if err != nil {
		return fmt.Errorf("%w: load global: %v", apierr.ErrStore, err)
	}
	g.Bearer = bearer
	g.SavingRoot = m.savingRoot
	if err := m.store.SaveGlobal(g); err != nil {
		return fmt.Errorf("%w: save global: %v", apierr.ErrStore, err)
	}

	if firstErr != nil {
		return fmt.Errorf("%w: %v", apierr.ErrStore, firstErr)
	}
	return nil
}

// ScanHost asks the host's adapter which guests it currently knows about
// and records any not already in the catalog as adopted placeholders.
// Returns the number scanned and the number newly added.
func (m *Manager) ScanHost(ctx context.Context, hsName, prefix string) (scanned, added int, err error) {
	rt, err := m.runtime(hsName)
	if err != nil {
		return 0, 0, err
	}

	rt.mu.Lock()
	cfg := rt.cfg
	a := rt.adapter
	rt.mu.Unlock()

	if prefix != "" {
		cfg.FilterName = prefix
	}

	guests, err := a.ScanGuests(ctx, cfg)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: ScanGuests: %v", apierr.ErrBackend, err)
	}
	scanned = len(guests)

	for _, gc := range guests {
		if _, err := m.store.GetGuest(hsName, gc.VMUUID); err == nil {
			continue
		}
		if err := m.store.SaveGuest(hsName, gc); err != nil {
			return scanned, added, fmt.Errorf("%w: save scanned guest %s: %v", apierr.ErrStore, gc.VMUUID, err)
		}
		added++
	}
	return scanned, added, nil
}

// Tick refreshes every host's (and every one of its guests') status
// sample in parallel, bounded to avoid one slow adapter starving the
// others, then persists everything via SaveAll.
func (m *Manager) Tick(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make([]*hostRuntime, 0, len(m.hosts))
	for _, rt := range m.hosts {
		snapshot = append(snapshot, rt)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, rt := range snapshot {
		rt := rt
		g.Go(func() error {
			m.tickHost(ctx, rt)
			return nil
		})
	}
	// Errors are swallowed per-host inside tickHost so one bad adapter
	// never aborts the others; g.Wait() only surfaces context
	// cancellation.
	_ = g.Wait()

	return m.SaveAll()
}

func (m *Manager) tickHost(ctx context.Context, rt *hostRuntime) {
	rt.mu.Lock()
	cfg := rt.cfg
	a := rt.adapter
	name := rt.hsName
	rt.mu.Unlock()

	status, err := a.HostStatus(ctx, cfg)
	if err != nil {
		log.Printf("manager: tick: host %s: HostStatus failed: %v", name, err)
	} else if err := m.store.PushHostStatus(name, status, m.statusBound); err != nil {
		log.Printf("manager: tick: host %s: PushHostStatus failed: %v", name, err)
	}

	guests, err := m.store.ListGuests(name)
	if err != nil {
		log.Printf("manager: tick: host %s: ListGuests failed: %v", name, err)
		return
	}
	for _, guestRow := range guests {
		hw, err := a.GuestStatus(ctx, cfg, guestRow.VMUUID)
		if err != nil {
			log.Printf("manager: tick: host %s guest %s: GuestStatus failed: %v", name, guestRow.VMUUID, err)
			continue
		}
		if err := m.store.PushGuestStatus(name, guestRow.VMUUID, hw, m.statusBound); err != nil {
			log.Printf("manager: tick: host %s guest %s: PushGuestStatus failed: %v", name, guestRow.VMUUID, err)
		}
	}
}

// GuestCreate dispatches to the host's adapter and persists gc on success.
// The guest's ordinal among its host's siblings (by UUID sort order) is
// computed before the new row exists, so the adapter can derive the
// guest's VNC port deterministically; the router (if configured) gets a
// matching static-DHCP reservation and DNAT forward.
func (m *Manager) GuestCreate(ctx context.Context, hsName string, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	rt, err := m.runtime(hsName)
	if err != nil {
		return catalog.ActionResult{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	index, err := m.guestIndex(hsName, gc.VMUUID)
	if err != nil {
		return catalog.ActionResult{}, err
	}

	res, err := rt.adapter.GuestCreate(ctx, rt.cfg, gc, index)
	if err != nil {
		return res, err
	}
	if err := m.store.SaveGuest(hsName, gc); err != nil {
		return res, fmt.Errorf("%w: save guest: %v", apierr.ErrStore, err)
	}
	m.guestNetworking(ctx, rt, gc, index, true)
	m.recordTask(hsName, gc.VMUUID, res)
	m.logAction(hsName, gc.VMUUID, "info", res.Message)
	return res, nil
}

// GuestUpdate dispatches to the host's adapter and persists gc on success.
func (m *Manager) GuestUpdate(ctx context.Context, hsName string, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	rt, err := m.runtime(hsName)
	if err != nil {
		return catalog.ActionResult{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	res, err := rt.adapter.GuestUpdate(ctx, rt.cfg, gc)
	if err != nil {
		return res, err
	}
	if err := m.store.SaveGuest(hsName, gc); err != nil {
		return res, fmt.Errorf("%w: save guest: %v", apierr.ErrStore, err)
	}
	m.recordTask(hsName, gc.VMUUID, res)
	return res, nil
}

// GuestDelete dispatches to the host's adapter and removes the guest's
// catalog rows on success, tearing down any router-side static-DHCP
// reservation and DNAT forward along with them.
func (m *Manager) GuestDelete(ctx context.Context, hsName, vmUUID string) (catalog.ActionResult, error) {
	rt, err := m.runtime(hsName)
	if err != nil {
		return catalog.ActionResult{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	// Captured before deletion: DeleteGuest removes the row these derive
	// from, and guestNetworking needs the guest's NIC config to know
	// which router rules to tear down.
	index, indexErr := m.guestIndex(hsName, vmUUID)
	row, rowErr := m.store.GetGuest(hsName, vmUUID)

	res, err := rt.adapter.GuestDelete(ctx, rt.cfg, vmUUID)
	if err != nil {
		return res, err
	}
	if err := m.store.DeleteGuest(hsName, vmUUID); err != nil {
		return res, fmt.Errorf("%w: delete guest: %v", apierr.ErrStore, err)
	}
	if indexErr == nil && rowErr == nil {
		m.guestNetworking(ctx, rt, row.Config, index, false)
	}
	m.recordTask(hsName, vmUUID, res)
	m.logAction(hsName, vmUUID, "info", res.Message)
	return res, nil
}

// GuestPower dispatches a power transition to the host's adapter.
func (m *Manager) GuestPower(ctx context.Context, hsName, vmUUID string, state catalog.PowerState, vmPassword string) (catalog.ActionResult, error) {
	rt, err := m.runtime(hsName)
	if err != nil {
		return catalog.ActionResult{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	res, err := rt.adapter.GuestPower(ctx, rt.cfg, vmUUID, state, vmPassword)
	if err == nil {
		m.recordTask(hsName, vmUUID, res)
		m.logAction(hsName, vmUUID, "info", res.Message)
	}
	return res, err
}

// GuestStatus samples a guest's current state, preferring the most recent
// cached ring entry unless refresh is set.
func (m *Manager) GuestStatus(ctx context.Context, hsName, vmUUID string, refresh bool) (catalog.HWStatus, error) {
	if !refresh {
		cached, err := m.store.LatestGuestStatus(hsName, vmUUID)
		if err == nil && cached.SampledAt != 0 {
			return cached, nil
		}
	}

	rt, err := m.runtime(hsName)
	if err != nil {
		return catalog.HWStatus{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	hw, err := rt.adapter.GuestStatus(ctx, rt.cfg, vmUUID)
	if err != nil {
		return hw, err
	}
	if err := m.store.PushGuestStatus(hsName, vmUUID, hw, m.statusBound); err != nil {
		log.Printf("manager: host %s guest %s: PushGuestStatus failed: %v", hsName, vmUUID, err)
	}
	return hw, nil
}

// HostStatus samples a host's current state, preferring the most recent
// cached ring entry unless refresh is set.
func (m *Manager) HostStatus(ctx context.Context, hsName string, refresh bool) (catalog.HWStatus, error) {
	if !refresh {
		cached, err := m.store.LatestHostStatus(hsName)
		if err == nil && cached.SampledAt != 0 {
			return cached, nil
		}
	}

	rt, err := m.runtime(hsName)
	if err != nil {
		return catalog.HWStatus{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	hw, err := rt.adapter.HostStatus(ctx, rt.cfg)
	if err != nil {
		return hw, err
	}
	if err := m.store.PushHostStatus(hsName, hw, m.statusBound); err != nil {
		log.Printf("manager: host %s: PushHostStatus failed: %v", hsName, err)
	}
	return hw, nil
}

// GuestConsole returns the dial target for a guest's console endpoint,
// re-deriving the same ordinal index the adapter used at guest creation
// time so the returned port matches what was actually baked in.
func (m *Manager) GuestConsole(ctx context.Context, hsName, vmUUID string) (string, error) {
	rt, err := m.runtime(hsName)
	if err != nil {
		return "", err
	}

	index, err := m.guestIndex(hsName, vmUUID)
	if err != nil {
		return "", err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.adapter.GuestConsole(ctx, rt.cfg, vmUUID, index)
}

// HostSummary is the read-only view of one live host returned by listing
// operations.
type HostSummary struct {
	HSName string
	Config catalog.HostConfig
	Caps   adapter.Caps
}

// ListHosts returns a summary of every live host, ordered by name as
// stored by the catalog.
func (m *Manager) ListHosts() ([]HostSummary, error) {
	rows, err := m.store.ListHosts()
	if err != nil {
		return nil, fmt.Errorf("%w: list hosts: %v", apierr.ErrStore, err)
	}

	summaries := make([]HostSummary, 0, len(rows))
	for _, row := range rows {
		m.mu.RLock()
		rt, ok := m.hosts[row.HSName]
		m.mu.RUnlock()

		var caps adapter.Caps
		if ok {
			caps = rt.adapter.Caps()
		}
		summaries = append(summaries, HostSummary{HSName: row.HSName, Config: row.Config, Caps: caps})
	}
	return summaries, nil
}

// ListGuests returns every guest row the catalog holds for a host.
func (m *Manager) ListGuests(hsName string) ([]*catalog.GuestRow, error) {
	rows, err := m.store.ListGuests(hsName)
	if err != nil {
		return nil, fmt.Errorf("%w: list guests for %s: %v", apierr.ErrStore, hsName, err)
	}
	return rows, nil
}

// Logs tails the catalog's log table for a host (and optionally one
// guest within it).
func (m *Manager) Logs(hsName, vmUUID string, limit int) ([]catalog.LogEntry, error) {
	entries, err := m.store.TailLogs(hsName, vmUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: tail logs for %s: %v", apierr.ErrStore, hsName, err)
	}
	return entries, nil
}

// ListTasks returns every recorded task for a host, newest first.
func (m *Manager) ListTasks(hsName string) ([]*catalog.TaskRow, error) {
	rows, err := m.store.ListTasks(hsName)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks for %s: %v", apierr.ErrStore, hsName, err)
	}
	return rows, nil
}

// guestIndex returns the 0-based position vmUUID holds (or would hold)
// among hsName's guests sorted by UUID — the same order catalog.ListGuests
// returns. GuestCreate calls this before the new row exists, so the index
// it gets back is the insertion point; every other caller gets the row's
// actual position. Adapters derive the guest's VNC port from this value,
// per invariant 1 on HostConfig.RemotePort: remote_port+i for the i-th
// guest, stable across restarts as long as the guest set is unchanged.
func (m *Manager) guestIndex(hsName, vmUUID string) (int, error) {
	rows, err := m.store.ListGuests(hsName)
	if err != nil {
		return 0, fmt.Errorf("%w: list guests for %s: %v", apierr.ErrStore, hsName, err)
	}
	return sort.Search(len(rows), func(i int) bool { return rows[i].VMUUID >= vmUUID }), nil
}

// guestNetworking programs (add=true) or removes (add=false) the router's
// static-DHCP reservation and DNAT forward for a guest's primary NIC
// (the first by label, the one with an IPv4 address). The DNAT's WAN
// port is hc.PortsStart+index, bounds-checked against ports_close; its
// LAN port is the same remote_port+index the guest's VNC endpoint uses.
// A no-op when the host has no router configured, no ports_start set, or
// the guest has no NIC with an IPv4 address.
func (m *Manager) guestNetworking(ctx context.Context, rt *hostRuntime, gc catalog.GuestConfig, index int, add bool) {
	client := rt.routerClient()
	if client == nil {
		return
	}
	if ok, err := client.Login(ctx); err != nil || !ok {
		log.Printf("manager: host %s: router login failed (ok=%v): %v", rt.hsName, ok, err)
		return
	}

	var primary catalog.NICConfig
	found := false
	for _, name := range sortedNICNames(gc.NICAll) {
		if nic := gc.NICAll[name]; nic.IP4Addr != "" {
			primary = nic
			found = true
			break
		}
	}
	if !found {
		return
	}

	if add {
		if _, err := client.AddStaticDHCP(ctx, primary.IP4Addr, primary.MACAddr, gc.VMUUID, "", "", "", "", "guest "+gc.VMUUID); err != nil {
			log.Printf("manager: host %s guest %s: AddStaticDHCP failed: %v", rt.hsName, gc.VMUUID, err)
		}
	} else if _, err := client.DeleteStaticDHCP(ctx, "", primary.IP4Addr, primary.MACAddr); err != nil {
		log.Printf("manager: host %s guest %s: DeleteStaticDHCP failed: %v", rt.hsName, gc.VMUUID, err)
	}

	if rt.cfg.PortsStart <= 0 {
		return
	}
	wanPort := rt.cfg.PortsStart + index
	if rt.cfg.PortsClose > 0 && wanPort > rt.cfg.PortsClose {
		log.Printf("manager: host %s guest %s: wan port %d exceeds ports_close %d, skipping DNAT", rt.hsName, gc.VMUUID, wanPort, rt.cfg.PortsClose)
		return
	}

	lanHost, _, err := net.SplitHostPort(rt.cfg.ServerAddr)
	if err != nil {
		lanHost = rt.cfg.ServerAddr
	}
	lanPort := rt.cfg.RemotePort
	if lanPort == 0 {
		lanPort = 5901
	}
	lanPort += index

	wanPortStr := strconv.Itoa(wanPort)
	if add {
		if _, err := client.AddDNAT(ctx, wanPortStr, lanHost, strconv.Itoa(lanPort), "", "", "", "vnc "+gc.VMUUID); err != nil {
			log.Printf("manager: host %s guest %s: AddDNAT failed: %v", rt.hsName, gc.VMUUID, err)
		}
	} else if _, err := client.DeleteDNAT(ctx, "", wanPortStr, lanHost); err != nil {
		log.Printf("manager: host %s guest %s: DeleteDNAT failed: %v", rt.hsName, gc.VMUUID, err)
	}
}

// sortedNICNames returns nics' keys in sorted order, so "the primary NIC"
// means the same thing on every call regardless of map iteration order.
func sortedNICNames(nics map[string]catalog.NICConfig) []string {
	names := make([]string, 0, len(nics))
	for k := range nics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// recordTask upserts a one-shot record of a completed guest operation,
// keyed by (host, guest, action) so repeated operations of the same kind
// overwrite rather than accumulate.
func (m *Manager) recordTask(hsName, vmUUID string, res catalog.ActionResult) {
	task := catalog.Task{ActionResult: res, Success: res.Success}
	taskID := hsName + ":" + vmUUID + ":" + res.Actions
	if err := m.store.SaveTask(taskID, hsName, vmUUID, task); err != nil {
		log.Printf("manager: host %s guest %s: save task failed: %v", hsName, vmUUID, err)
	}
}

func (m *Manager) runtime(hsName string) (*hostRuntime, error) {
	m.mu.RLock()
	rt, ok := m.hosts[hsName]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: host %s", apierr.ErrNotFound, hsName)
	}
	return rt, nil
}

func (m *Manager) logAction(hsName, vmUUID, level, message string) {
	if message == "" {
		return
	}
	if err := m.store.AppendLog(hsName, vmUUID, level, message); err != nil {
		log.Printf("manager: append log failed: %v", err)
	}
}

// ErrShuttingDown reports a manager that is shutting down. Shutdown does
// not block later operations, and no Manager method returns this error.
var ErrShuttingDown = errors.New("manager is shutting down")

// Shutdown unloads every live host's control-plane process. Call during
// controller exit so no vmrest.exe (or equivalent) process is left
// behind.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]*hostRuntime, 0, len(m.hosts))
	for _, rt := range m.hosts {
		snapshot = append(snapshot, rt)
	}
	m.mu.RUnlock()

	for _, rt := range snapshot {
		rt.mu.Lock()
		if err := rt.adapter.HostUnload(ctx, rt.cfg); err != nil {
			log.Printf("manager: shutdown: host %s: HostUnload failed: %v", rt.hsName, err)
		}
		rt.mu.Unlock()
	}
}
