package vmwarerest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return NewClient(u.Host, "admin", "secret", 21, nil)
}

func TestListVMsAndResolveID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != vendorContentType {
			t.Errorf("Content-Type = %q, want vendor type", r.Header.Get("Content-Type"))
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			t.Errorf("unexpected basic auth: %q/%q ok=%v", user, pass, ok)
		}
		json.NewEncoder(w).Encode([]VM{
			{ID: "vm-1", Path: "C:\\vms\\Tests-All\\Tests-All.vmx"},
		})
	})

	id, err := c.ResolveID(context.Background(), "Tests-All")
	if err != nil {
		t.Fatal(err)
	}
	if id != "vm-1" {
		t.Errorf("ResolveID() = %q, want vm-1", id)
	}

	missing, err := c.ResolveID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if missing != "" {
		t.Errorf("ResolveID(nonexistent) = %q, want empty", missing)
	}
}

func TestSetPowerSendsPlainTextBody(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q, want PUT", r.Method)
		}
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte("{}"))
	})

	if err := c.SetPower(context.Background(), "vm-1", catalog.SStart, ""); err != nil {
		t.Fatal(err)
	}
	if gotBody != "on" {
		t.Errorf("power body = %q, want %q", gotBody, "on")
	}
}

func TestSetPowerAppendsPasswordQueryParam(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		w.Write([]byte("{}"))
	})

	if err := c.SetPower(context.Background(), "vm-1", catalog.HClose, "s3cr3t"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotPath, "vmPassword=s3cr3t") {
		t.Errorf("path = %q, want vmPassword query param", gotPath)
	}
}

func TestGetPowerMapsVmrestStrings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"power_state": "poweredOn"})
	})

	state, err := c.GetPower(context.Background(), "vm-1")
	if err != nil {
		t.Fatal(err)
	}
	if state != catalog.Started {
		t.Errorf("GetPower() = %q, want %q", state, catalog.Started)
	}
}

func TestDoReturnsErrorOnHTTPFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := c.ListVMs(context.Background())
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}
