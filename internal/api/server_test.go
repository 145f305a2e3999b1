package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/adapter"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/engine"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/manager"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/vncgw"
)

type stubAdapter struct{}

func (stubAdapter) Caps() adapter.Caps { return adapter.Caps{Name: "stub", Enabled: true} }
func (stubAdapter) HostCreate(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (stubAdapter) HostDelete(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (stubAdapter) HostConfig(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (stubAdapter) HostLoader(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (stubAdapter) HostUnload(ctx context.Context, hc catalog.HostConfig) error { return nil }
func (stubAdapter) HostAction(ctx context.Context, hc catalog.HostConfig, action string, args map[string]any) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}
func (stubAdapter) HostStatus(ctx context.Context, hc catalog.HostConfig) (catalog.HWStatus, error) {
	return catalog.HWStatus{SampledAt: 1}, nil
}
func (stubAdapter) ScanGuests(ctx context.Context, hc catalog.HostConfig) ([]catalog.GuestConfig, error) {
	return nil, nil
}
func (stubAdapter) GuestCreate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig, index int) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}
func (stubAdapter) GuestUpdate(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}
func (stubAdapter) GuestDelete(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}
func (stubAdapter) GuestPower(ctx context.Context, hc catalog.HostConfig, vmUUID string, state catalog.PowerState, vmPassword string) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}
func (stubAdapter) GuestStatus(ctx context.Context, hc catalog.HostConfig, vmUUID string) (catalog.HWStatus, error) {
	return catalog.HWStatus{SampledAt: 1, ACStatus: catalog.Started}, nil
}
func (stubAdapter) GuestConsole(ctx context.Context, hc catalog.HostConfig, vmUUID string, index int) (string, error) {
	return "127.0.0.1:5901", nil
}
func (stubAdapter) GuestInstall(ctx context.Context, hc catalog.HostConfig, gc catalog.GuestConfig) (catalog.ActionResult, error) {
	return catalog.ActionResult{Success: true}, nil
}

func testRegistry() map[string]engine.Entry {
	return map[string]engine.Entry{
		"stub": {Factory: func() adapter.Adapter { return stubAdapter{} }, Enabled: true},
	}
}

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	dir := t.TempDir()
	db, err := catalog.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr := manager.NewWithRegistry(db, dir, 10, testRegistry())
	if err := mgr.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if _, err := mgr.SetBearer("test-token"); err != nil {
		t.Fatalf("SetBearer: %v", err)
	}

	gw := vncgw.New(filepath.Join(dir, "websockify.cfg"), "127.0.0.1:0", "")
	return NewServer("127.0.0.1:0", mgr, gw), mgr
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestHandleAddHostAndListHosts(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{
		"hs_name": "host1",
		"config":  catalog.HostConfig{ServerType: "stub"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/hosts", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("AddHost status = %d, body = %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("ListHosts status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandlersRejectMissingBearer(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("ListHosts without bearer status = %d, want 401", w.Code)
	}
}

func TestHandleGetHostNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/hosts/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("GetHost(missing) status = %d, want 404", w.Code)
	}
}

func TestHandleGuestConsoleReturnsWebsockifyPath(t *testing.T) {
	s, mgr := newTestServer(t)
	if err := mgr.AddHost(context.Background(), "host1", catalog.HostConfig{ServerType: "stub"}); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/hosts/host1/vms/vm1/vconsole", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GuestConsole status = %d, body = %s", w.Code, w.Body.String())
	}
	env := decodeEnvelope(t, w.Result())
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data type = %T, want map", env.Data)
	}
	if path, _ := data["path"].(string); path == "" {
		t.Error("expected non-empty websockify path")
	}
}

func TestHandleTokenReset(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/token/reset", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("token reset status = %d, body = %s", w.Code, w.Body.String())
	}
}
