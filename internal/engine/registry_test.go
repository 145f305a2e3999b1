package engine

import "testing"

func TestRegistryHasAllTenBackends(t *testing.T) {
	want := []string{
		"vmware", "hyperv", "proxmox", "virtualbox", "esxi",
		"lxc", "docker", "podman", "android-emulator", "macos-fusion",
	}
	for _, name := range want {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Registry missing entry %q", name)
		}
	}
}

func TestOnlyVMwareEnabled(t *testing.T) {
	for name, e := range Registry {
		if name == "vmware" {
			if !e.Enabled {
				t.Errorf("vmware entry should be enabled")
			}
			continue
		}
		if e.Enabled {
			t.Errorf("entry %q should be disabled", name)
		}
	}
}

func TestUnknownServerTypeNotFound(t *testing.T) {
	if _, ok := Lookup("does-not-exist"); ok {
		t.Errorf("Lookup(unknown) ok = true, want false")
	}
}

func TestFactoriesConstructNonNilAdapters(t *testing.T) {
	for name, e := range Registry {
		a := e.Factory()
		if a == nil {
			t.Errorf("entry %q Factory() returned nil adapter", name)
			continue
		}
		caps := a.Caps()
		if caps.Name == "" {
			t.Errorf("entry %q adapter Caps().Name is empty", name)
		}
		if caps.Enabled != e.Enabled {
			t.Errorf("entry %q: Entry.Enabled=%v but adapter Caps().Enabled=%v", name, e.Enabled, caps.Enabled)
		}
	}
}
