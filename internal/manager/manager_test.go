package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/adapter"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/engine"
)

// fakeAdapter is an in-memory Adapter double so Manager tests never touch
// a real backend daemon.
type fakeAdapter struct {
	caps       adapter.Caps
	loaded     bool
	unloaded   int
	guests     []catalog.GuestConfig
	lastGCSeen catalog.GuestConfig
	lastIndex  int
	failLoader bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{caps: adapter.Caps{Name: "fake", Enabled: true}}
}

func (f *fakeAdapter) Caps() adapter.Caps { return f.caps }
func (f *fakeAdapter) HostCreate(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (f *fakeAdapter) HostDelete(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (f *fakeAdapter) HostConfig(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (f *fakeAdapter) HostLoader(ctx context.Context, hc catalog.HostConfig) error {
	if f.failLoader {
		return errFakeLoad
	}
	f.loaded = true
	return nil
}
func (f *fakeAdapter) HostUnload(ctx context.Context, hc catalog.HostConfig) error {
	f.unloaded++
	f.loaded = false
	return nil
}
func (f *fakeAdapter) HostAction(ctx context.Context, hc catalog.HostConfig, action string, args map[string]any) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}
func (f *fakeAdapter) HostStatus(ctx context.Context, hc catalog.HostConfig) (catalog.HWStatus, error) {
	return catalog.HWStatus{SampledAt: 1, CPUCores: 4}, nil
}
func (f *fakeAdapter) ScanGuests(ctx context.Context, hc catalog.HostConfig) ([]catalog.GuestConfig, error) {
	return f.guests, nil
}
func (f *fakeAdapter) GuestCreate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig, index int) (catalog.ActionResult, error) {
	f.lastGCSeen = gc
	f.lastIndex = index
	return catalog.ActionResult{Success: true, Actions: "GuestCreate", Message: "created"}, nil
}
func (f *fakeAdapter) GuestUpdate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	f.lastGCSeen = gc
	return catalog.ActionResult{Success: true, Actions: "GuestUpdate"}, nil
}
func (f *fakeAdapter) GuestDelete(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true, Actions: "GuestDelete", Message: "deleted"}, nil
}
func (f *fakeAdapter) GuestPower(ctx context.Context, hc catalog.HostConfig, vmUUID string, state catalog.PowerState, vmPassword string) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true, Actions: "GuestPower", Message: string(state)}, nil
}
func (f *fakeAdapter) GuestStatus(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.HWStatus, error) {
	return catalog.HWStatus{SampledAt: 2, ACStatus: catalog.Started}, nil
}
func (f *fakeAdapter) GuestConsole(ctx context.Context, hc catalog.HostConfig, vmUUID string, index int) (string, error) {
	return fmt.Sprintf("127.0.0.1:%d", 5901+index), nil
}
func (f *fakeAdapter) GuestInstall(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}

var errFakeLoad = fakeErr("fake HostLoader failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func testRegistry(a *fakeAdapter) map[string]engine.Entry {
	return map[string]engine.Entry{
		"fake": {
			Factory:     func() adapter.Adapter { return a },
			Description: "in-memory test adapter",
			Enabled:     true,
		},
		"disabled-fake": {
			Factory:     func() adapter.Adapter { return newFakeAdapter() },
			Description: "disabled test adapter",
			Enabled:     false,
		},
	}
}

func openTestManager(t *testing.T, a *fakeAdapter) *Manager {
	t.Helper()
	dir := t.TempDir()
	db, err := catalog.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithRegistry(db, dir, 10, testRegistry(a))
}

func TestAddHostRejectsDisabledType(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	err := m.AddHost(context.Background(), "host1", catalog.HostConfig{ServerType: "disabled-fake"})
	if err == nil {
		t.Fatal("AddHost with disabled type: want error, got nil")
	}
}

func TestAddHostRejectsDuplicateName(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	cfg := catalog.HostConfig{ServerType: "fake"}

	if err := m.AddHost(ctx, "host1", cfg); err != nil {
		t.Fatalf("first AddHost: %v", err)
	}
	if err := m.AddHost(ctx, "host1", cfg); err == nil {
		t.Fatal("second AddHost with same name: want error, got nil")
	}
}

func TestBearerBootstrapGeneratesTokenOnLoadAll(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	if err := m.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if !m.VerifyBearer(m.bearer) {
		t.Fatal("VerifyBearer(bootstrap token) = false, want true")
	}
	if len(m.bearer) != 16 {
		t.Errorf("bootstrap bearer length = %d, want 16", len(m.bearer))
	}
}

func TestVerifyBearerRejectsEmptyAndWrong(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	if _, err := m.SetBearer("abc123"); err != nil {
		t.Fatalf("SetBearer: %v", err)
	}
	if m.VerifyBearer("") {
		t.Error("VerifyBearer(\"\") = true, want false")
	}
	if m.VerifyBearer("wrong") {
		t.Error("VerifyBearer(wrong) = true, want false")
	}
	if !m.VerifyBearer("abc123") {
		t.Error("VerifyBearer(correct) = false, want true")
	}
}

func TestUpdateHostPreservesGuestRows(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	cfg := catalog.HostConfig{ServerType: "fake", FilterName: "old"}
	if err := m.AddHost(ctx, "host1", cfg); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	gc := catalog.GuestConfig{VMUUID: "vm1", NICAll: map[string]catalog.NICConfig{}, HDDAll: map[string]catalog.DiskConfig{}}
	if _, err := m.GuestCreate(ctx, "host1", gc); err != nil {
		t.Fatalf("GuestCreate: %v", err)
	}

	newCfg := cfg
	newCfg.FilterName = "new"
	if err := m.UpdateHost(ctx, "host1", newCfg); err != nil {
		t.Fatalf("UpdateHost: %v", err)
	}

	row, err := m.store.GetGuest("host1", "vm1")
	if err != nil {
		t.Fatalf("GetGuest after UpdateHost: %v", err)
	}
	if row.VMUUID != "vm1" {
		t.Errorf("guest row VMUUID = %q, want vm1", row.VMUUID)
	}

	m.mu.RLock()
	rt := m.hosts["host1"]
	m.mu.RUnlock()
	if rt.cfg.FilterName != "new" {
		t.Errorf("host FilterName after update = %q, want new", rt.cfg.FilterName)
	}
}

func TestGuestCreateAssignsOrdinalIndexByUUIDOrder(t *testing.T) {
	a := newFakeAdapter()
	m := openTestManager(t, a)
	ctx := context.Background()
	if err := m.AddHost(ctx, "host1", catalog.HostConfig{ServerType: "fake"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	mk := func(uuid string) catalog.GuestConfig {
		return catalog.GuestConfig{VMUUID: uuid, NICAll: map[string]catalog.NICConfig{}, HDDAll: map[string]catalog.DiskConfig{}}
	}

	if _, err := m.GuestCreate(ctx, "host1", mk("vm-b")); err != nil {
		t.Fatalf("GuestCreate vm-b: %v", err)
	}
	if a.lastIndex != 0 {
		t.Errorf("index for first guest (vm-b) = %d, want 0", a.lastIndex)
	}

	if _, err := m.GuestCreate(ctx, "host1", mk("vm-a")); err != nil {
		t.Fatalf("GuestCreate vm-a: %v", err)
	}
	if a.lastIndex != 0 {
		t.Errorf("index for vm-a (sorts before vm-b) = %d, want 0", a.lastIndex)
	}

	if _, err := m.GuestCreate(ctx, "host1", mk("vm-c")); err != nil {
		t.Fatalf("GuestCreate vm-c: %v", err)
	}
	if a.lastIndex != 2 {
		t.Errorf("index for vm-c (sorts after vm-a, vm-b) = %d, want 2", a.lastIndex)
	}

	addr, err := m.GuestConsole(ctx, "host1", "vm-b")
	if err != nil {
		t.Fatalf("GuestConsole vm-b: %v", err)
	}
	if addr != "127.0.0.1:5902" {
		t.Errorf("GuestConsole(vm-b) = %q, want 127.0.0.1:5902 (ordinal 1)", addr)
	}
}

func TestTickIsIdempotentAndPersistsStatus(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	if err := m.AddHost(ctx, "host1", catalog.HostConfig{ServerType: "fake"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	if err := m.Tick(ctx); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}

	status, err := m.HostStatus(ctx, "host1", false)
	if err != nil {
		t.Fatalf("HostStatus: %v", err)
	}
	if status.CPUCores != 4 {
		t.Errorf("HostStatus.CPUCores = %d, want 4", status.CPUCores)
	}
}

func TestGuestPowerDispatchesToAdapter(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	if err := m.AddHost(ctx, "host1", catalog.HostConfig{ServerType: "fake"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	res, err := m.GuestPower(ctx, "host1", "vm1", catalog.SStart, "")
	if err != nil {
		t.Fatalf("GuestPower: %v", err)
	}
	if !res.Success || res.Message != string(catalog.SStart) {
		t.Errorf("GuestPower result = %+v, want success with message %q", res, catalog.SStart)
	}
}

func TestGuestCreateRecordsTask(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	if err := m.AddHost(ctx, "host1", catalog.HostConfig{ServerType: "fake"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	gc := catalog.GuestConfig{VMUUID: "vm1", NICAll: map[string]catalog.NICConfig{}, HDDAll: map[string]catalog.DiskConfig{}}
	if _, err := m.GuestCreate(ctx, "host1", gc); err != nil {
		t.Fatalf("GuestCreate: %v", err)
	}

	tasks, err := m.ListTasks("host1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("ListTasks() = %d tasks, want 1", len(tasks))
	}
	if tasks[0].VMUUID != "vm1" || tasks[0].Task.Actions != "GuestCreate" {
		t.Errorf("task = %+v, want vm1/GuestCreate", tasks[0])
	}
}

// fakeRouter is a minimal iKuai stand-in recording every dhcp_static/dnat
// call it receives, so tests can assert the Host Manager actually wires
// guest lifecycle events to router calls.
func fakeRouter(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var calls []string

	mux := http.NewServeMux()
	mux.HandleFunc("/Action/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "sess_key=test; path=/")
		json.NewEncoder(w).Encode(map[string]any{"Result": 10000})
	})
	mux.HandleFunc("/Action/call", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		funcName, _ := body["func_name"].(string)
		action, _ := body["action"].(string)

		mu.Lock()
		calls = append(calls, funcName+":"+action)
		mu.Unlock()

		json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGuestCreateAndDeleteProgramRouter(t *testing.T) {
	srv, calls := fakeRouter(t)

	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	cfg := catalog.HostConfig{
		ServerType: "fake",
		ServerAddr: "192.168.1.50:8697",
		IKuaiAddr:  srv.URL,
		IKuaiUser:  "admin",
		IKuaiPass:  "secret",
		RemotePort: 5901,
		PortsStart: 16000,
		PortsClose: 16999,
	}
	if err := m.AddHost(ctx, "host1", cfg); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	gc := catalog.GuestConfig{
		VMUUID: "vm1",
		NICAll: map[string]catalog.NICConfig{
			"ethernet0": catalog.NewNICConfig("aa:bb:cc:dd:ee:ff", "nat", "10.1.9.101", ""),
		},
		HDDAll: map[string]catalog.DiskConfig{},
	}
	if _, err := m.GuestCreate(ctx, "host1", gc); err != nil {
		t.Fatalf("GuestCreate: %v", err)
	}
	if _, err := m.GuestDelete(ctx, "host1", "vm1"); err != nil {
		t.Fatalf("GuestDelete: %v", err)
	}

	want := []string{"dhcp_static:add", "dnat:add", "dhcp_static:del", "dnat:del"}
	if len(*calls) != len(want) {
		t.Fatalf("router calls = %v, want %v", *calls, want)
	}
	for i, w := range want {
		if (*calls)[i] != w {
			t.Errorf("call[%d] = %q, want %q", i, (*calls)[i], w)
		}
	}
}

func TestDeleteHostRemovesFromRuntimeAndStore(t *testing.T) {
	m := openTestManager(t, newFakeAdapter())
	ctx := context.Background()
	if err := m.AddHost(ctx, "host1", catalog.HostConfig{ServerType: "fake"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}
	if err := m.DeleteHost(ctx, "host1"); err != nil {
		t.Fatalf("DeleteHost: %v", err)
	}
	if _, err := m.runtime("host1"); err == nil {
		t.Error("runtime lookup after DeleteHost: want error, got nil")
	}
	if _, err := m.store.GetHost("host1"); err == nil {
		t.Error("GetHost after DeleteHost: want error, got nil")
	}
}
