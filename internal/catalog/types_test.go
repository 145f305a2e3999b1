package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeriveMAC(t *testing.T) {
	cases := []struct {
		ip4  string
		want string
	}{
		{"192.168.1.10", "00:1C:c0:a8:01:0a"},
		{"172.16.0.1", "CC:D9:ac:10:00:01"},
		{"10.0.0.1", "10:F6:0a:00:00:01"},
		{"100.64.0.5", "00:1E:64:40:00:05"},
		{"8.8.8.8", "00:00:08:08:08:08"},
		{"not-an-ip", "00:00:00:00:00:00"},
	}

	for _, c := range cases {
		got := DeriveMAC(c.ip4)
		if got != c.want {
			t.Errorf("DeriveMAC(%q) = %q, want %q", c.ip4, got, c.want)
		}
	}
}

func TestNewNICConfigDerivesMACOnlyWhenEmpty(t *testing.T) {
	nic := NewNICConfig("", "e1000", "192.168.1.10", "")
	if nic.MACAddr != "00:1C:c0:a8:01:0a" {
		t.Errorf("MACAddr = %q, want derived value", nic.MACAddr)
	}

	explicit := NewNICConfig("aa:bb:cc:dd:ee:ff", "e1000", "192.168.1.10", "")
	if explicit.MACAddr != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("MACAddr = %q, want explicit value preserved", explicit.MACAddr)
	}
}

func TestActionResultRoundTrip(t *testing.T) {
	want := ActionResult{
		Success: false,
		Actions: "GuestPower",
		Message: "power on failed",
		Results: map[string]any{"vm_uuid": "abc"},
		Execute: errors.New("backend timeout"),
	}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}

	var got ActionResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	if got.Success != want.Success || got.Actions != want.Actions || got.Message != want.Message {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.Execute == nil || got.Execute.Error() != want.Execute.Error() {
		t.Errorf("Execute = %v, want %v", got.Execute, want.Execute)
	}
}

func TestActionResultRoundTripNilExecute(t *testing.T) {
	want := ActionResult{Success: true, Actions: "GuestStatus"}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	var got ActionResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Execute != nil {
		t.Errorf("Execute = %v, want nil", got.Execute)
	}
}

func TestGuestConfigRoundTrip(t *testing.T) {
	want := GuestConfig{
		VMUUID: "vm-1",
		OSName: "ubuntu-64",
		CPUNum: 4,
		CPUPer: 100,
		MemNum: 8192,
		HDDNum: 1,
		NICAll: map[string]NICConfig{
			"ethernet0": NewNICConfig("", "e1000e", "192.168.1.10", ""),
		},
		HDDAll: map[string]DiskConfig{
			"nvme0:1": {HDDName: "data.vmdk", HDDSize: 100},
		},
	}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	var got GuestConfig
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroGuestConfig(t *testing.T) {
	gc := ZeroGuestConfig("adopted-1")
	if gc.VMUUID != "adopted-1" {
		t.Errorf("VMUUID = %q, want %q", gc.VMUUID, "adopted-1")
	}
	if gc.CPUNum != 0 || gc.MemNum != 0 {
		t.Errorf("expected zeroed resources, got %+v", gc)
	}
	if gc.NICAll == nil || gc.HDDAll == nil {
		t.Errorf("expected non-nil empty maps, got %+v", gc)
	}
}
