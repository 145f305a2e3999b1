package vmwarerest

import (
	"strings"
	"testing"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

func TestBuildVMXIncludesCoreFields(t *testing.T) {
	gc := catalog.GuestConfig{
		VMUUID: "Tests-All",
		OSName: "ubuntu-64",
		CPUNum: 4,
		MemNum: 2048,
		GPUMem: 8,
		SpeedU: 100,
		SpeedD: 100,
		NICAll: map[string]catalog.NICConfig{
			"ethernet0": catalog.NewNICConfig("", "nat", "192.168.1.10", ""),
		},
		HDDAll: map[string]catalog.DiskConfig{
			"data": {HDDName: "data.vmdk", HDDSize: 100},
		},
	}

	out := BuildVMX(gc, 21, 5903)

	wantLines := []string{
		`displayName = "Tests-All"`,
		`guestOS = "ubuntu-64"`,
		`numvcpus = "4"`,
		`memsize = "2048"`,
		`nvme0:0.fileName = "Tests-All.vmdk"`,
		`nvme0:1.fileName = "Tests-All-1.vmdk"`,
		`ethernet0.address = "00:1C:c0:a8:01:0a"`,
		`ethernet0.connectionType = "nat"`,
		`RemoteDisplay.vnc.enabled = "TRUE"`,
		`RemoteDisplay.vnc.port = "5903"`,
	}
	for _, want := range wantLines {
		if !strings.Contains(out, want) {
			t.Errorf("BuildVMX() missing line %q in:\n%s", want, out)
		}
	}
}

func TestBuildVMXIsDeterministic(t *testing.T) {
	gc := catalog.GuestConfig{
		VMUUID: "det-test",
		NICAll: map[string]catalog.NICConfig{
			"ethernet0": catalog.NewNICConfig("", "nat", "10.0.0.5", ""),
			"ethernet1": catalog.NewNICConfig("", "bridged", "10.0.0.6", ""),
		},
		HDDAll: map[string]catalog.DiskConfig{},
	}

	a := BuildVMX(gc, 21, 5901)
	b := BuildVMX(gc, 21, 5901)
	if a != b {
		t.Error("BuildVMX() is not deterministic across repeated calls")
	}
}

func TestBuildVMXDefaultGuestOS(t *testing.T) {
	gc := catalog.GuestConfig{VMUUID: "no-os", NICAll: map[string]catalog.NICConfig{}, HDDAll: map[string]catalog.DiskConfig{}}
	out := BuildVMX(gc, 21, 5901)
	if !strings.Contains(out, `guestOS = "windows9-64"`) {
		t.Errorf("expected default guestOS fallback, got:\n%s", out)
	}
}
