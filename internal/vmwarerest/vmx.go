package vmwarerest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
)

// vmxDict is one block of a .vmx document; each value is either a nested
// block (another vmxDict) or a scalar that renders as a quoted string or a bare
// token depending on its Go type.
type vmxDict map[string]any

// flattenVMX recursively turns a nested vmxDict into .vmx's flat
// "key.subkey = value" line format. Map iteration order is made
// deterministic by sorting keys, so the same GuestConfig always produces
// byte-identical output.
func flattenVMX(in vmxDict, prefix string) string {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		value := in[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(vmxDict); ok {
			b.WriteString(flattenVMX(nested, fullKey))
			continue
		}

		switch v := value.(type) {
		case string:
			fmt.Fprintf(&b, "%s = %q\n", fullKey, v)
		default:
			fmt.Fprintf(&b, "%s = %v\n", fullKey, v)
		}
	}
	return b.String()
}

// BuildVMX renders a GuestConfig into VMware's .vmx text format. vncPort
// is the guest's reserved console port (the host's remote_port plus the
// guest's ordinal position among its siblings).
// Extra data disks are declared present but their backing .vmdk files are
// not created here — provisioning them is left to a separate storage
// step, matching how the original agent only ever stubbed this.
func BuildVMX(gc catalog.GuestConfig, hwVersion int, vncPort int) string {
	doc := vmxDict{
		".encoding":         "GBK",
		"config.version":    "8",
		"virtualHW.version": strconv.Itoa(hwVersion),

		"displayName": gc.VMUUID,
		"firmware":    "efi",
		"guestOS":     resolveGuestOS(gc.OSName),

		"numvcpus":              strconv.Itoa(gc.CPUNum),
		"cpuid.coresPerSocket":  strconv.Itoa(gc.CPUNum),
		"memsize":               strconv.Itoa(gc.MemNum),
		"mem.hotadd":            "TRUE",
		"mks.enable3d":          "TRUE",
		"svga.graphicsMemoryKB": strconv.Itoa(gc.GPUMem * 1024),

		"vmci0.present":    "TRUE",
		"hpet0.present":    "TRUE",
		"usb.present":      "TRUE",
		"ehci.present":     "TRUE",
		"usb_xhci.present": "TRUE",
		"tools.syncTime":   "TRUE",

		"nvram":                          gc.VMUUID + ".nvram",
		"virtualHW.productCompatibility": "hosted",
		"extendedConfigFile":             gc.VMUUID + ".vmxf",

		"pciBridge0": vmxDict{"present": "TRUE"},
		"pciBridge4": vmxDict{
			"present":    "TRUE",
			"virtualDev": "pcieRootPort",
			"functions":  "8",
		},

		"nvme0.present": "TRUE",
		"nvme0:0": vmxDict{
			"fileName": gc.VMUUID + ".vmdk",
			"present":  "TRUE",
		},

		"RemoteDisplay": vmxDict{
			"vnc": vmxDict{
				"enabled": "TRUE",
				"port":    strconv.Itoa(vncPort),
			},
		},
	}

	nicNames := sortedKeys(gc.NICAll)
	for i, name := range nicNames {
		nic := gc.NICAll[name]
		doc[fmt.Sprintf("ethernet%d", i)] = vmxDict{
			"connectionType": connectionType(nic.NICType),
			"addressType":    addressType(nic.MACAddr == ""),
			"address":        nic.MACAddr,
			"virtualDev":     "e1000e",
			"present":        "TRUE",
			"txbw.limit":     strconv.Itoa(gc.SpeedU * 1024),
			"rxbw.limit":     strconv.Itoa(gc.SpeedD * 1024),
		}
	}

	hddNames := sortedKeys(gc.HDDAll)
	for i, name := range hddNames {
		_ = name
		slot := i + 1
		doc[fmt.Sprintf("nvme0:%d", slot)] = vmxDict{
			"fileName": fmt.Sprintf("%s-%d.vmdk", gc.VMUUID, slot),
			"present":  "TRUE",
		}
	}

	return flattenVMX(doc, "")
}

func connectionType(nicType string) string {
	return nicType
}

func addressType(useAuto bool) string {
	if useAuto {
		return "generated"
	}
	return "static"
}

func resolveGuestOS(osName string) string {
	if osName == "" {
		return "windows9-64"
	}
	return osName
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
