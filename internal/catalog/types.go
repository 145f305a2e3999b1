// Package catalog defines the value types shared across the Host Manager
// (HostConfig, GuestConfig, NICConfig, DiskConfig, PowerState, HWStatus,
// ActionResult, Task) and the relational store that persists them.
//
// Types here are plain data: no behavior beyond construction helpers and
// the serialization glue needed to round-trip through the catalog's JSON
// columns. Field names match the spec's dictionary shape exactly so the
// stored JSON and the HTTP API responses share one vocabulary.
package catalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PowerState is a closed set of requested actions and observed states.
type PowerState string

const (
	// Requested actions.
	SStart PowerState = "S_START"
	SClose PowerState = "S_CLOSE"
	SReset PowerState = "S_RESET"
	HClose PowerState = "H_CLOSE"
	HReset PowerState = "H_RESET"
	APause PowerState = "A_PAUSE"
	AWaked PowerState = "A_WAKED"

	// Observed states.
	Started PowerState = "STARTED"
	Stopped PowerState = "STOPPED"
	Suspend PowerState = "SUSPEND"
	Unknown PowerState = "UNKNOWN"
)

// HostConfig is the static configuration of one backend instance.
type HostConfig struct {
	ServerType  string `json:"server_type"`
	ServerAddr  string `json:"server_addr"`
	ServerUser  string `json:"server_user"`
	ServerPass  string `json:"server_pass"`
	FilterName  string `json:"filter_name"`

	ImagesPath string `json:"images_path"`
	SystemPath string `json:"system_path"`
	BackupPath string `json:"backup_path"`
	ExternPath string `json:"extern_path"`
	LaunchPath string `json:"launch_path"`

	NetworkNAT string `json:"network_nat"`
	NetworkPub string `json:"network_pub"`

	IKuaiAddr string `json:"i_kuai_addr,omitempty"`
	IKuaiUser string `json:"i_kuai_user,omitempty"`
	IKuaiPass string `json:"i_kuai_pass,omitempty"`

	PortsStart int `json:"ports_start"`
	PortsClose int `json:"ports_close"`
	RemotePort int `json:"remote_port"`

	SystemMaps map[string]string `json:"system_maps"`
	PublicAddr []string          `json:"public_addr"`

	ExtendData map[string]any `json:"extend_data"`
}

// recognizedHostFields enumerates the HostConfig keys that
// UnknownHostFields treats as known. The API and the manager do not call
// UnknownHostFields; unknown keys in API bodies and catalog rows are
// dropped silently by JSON decoding, not rejected or logged.
var recognizedHostFields = map[string]bool{
	"server_type": true, "server_addr": true, "server_user": true, "server_pass": true,
	"filter_name": true, "images_path": true, "system_path": true, "backup_path": true,
	"extern_path": true, "launch_path": true, "network_nat": true, "network_pub": true,
	"i_kuai_addr": true, "i_kuai_user": true, "i_kuai_pass": true,
	"ports_start": true, "ports_close": true, "remote_port": true,
	"system_maps": true, "public_addr": true, "extend_data": true,
}

// UnknownHostFields returns the keys of raw that are not recognized
// HostConfig fields.
func UnknownHostFields(raw map[string]any) []string {
	var unknown []string
	for k := range raw {
		if !recognizedHostFields[k] {
			unknown = append(unknown, k)
		}
	}
	return unknown
}

// GuestConfig is the desired state of one guest.
type GuestConfig struct {
	VMUUID string `json:"vm_uuid"`
	OSName string `json:"os_name"`

	CPUNum int `json:"cpu_num"`
	CPUPer int `json:"cpu_per"`
	GPUNum int `json:"gpu_num"`
	GPUMem int `json:"gpu_mem"`
	MemNum int `json:"mem_num"`
	HDDNum int `json:"hdd_num"`

	SpeedU  int `json:"speed_u"`
	SpeedD  int `json:"speed_d"`
	FluNum  int `json:"flu_num"`
	NATNum  int `json:"nat_num"`
	WebNum  int `json:"web_num"`

	NICAll map[string]NICConfig  `json:"nic_all"`
	HDDAll map[string]DiskConfig `json:"hdd_all"`
}

// ZeroGuestConfig returns a placeholder GuestConfig for an adopted guest:
// identity set, every numeric resource zeroed, no NICs or disks. Used
// when a host is scanned and reports a guest the catalog didn't create.
func ZeroGuestConfig(uuid string) GuestConfig {
	return GuestConfig{
		VMUUID: uuid,
		NICAll: map[string]NICConfig{},
		HDDAll: map[string]DiskConfig{},
	}
}

// NICConfig describes one virtual network interface.
type NICConfig struct {
	MACAddr string `json:"mac_addr"`
	NICType string `json:"nic_type"`
	IP4Addr string `json:"ip4_addr"`
	IP6Addr string `json:"ip6_addr"`
}

// macPrefixTable maps an IPv4 first octet prefix to the MAC's leading two
// octets.
var macPrefixTable = []struct {
	octet  string
	prefix string
}{
	{"192", "00:1C"},
	{"172", "CC:D9"},
	{"10", "10:F6"},
	{"100", "00:1E"},
}

// DeriveMAC derives a MAC address from an IPv4 address deterministically:
// the four IPv4 octets become the last four MAC octets (two lowercase hex
// digits each); the first two octets come from macPrefixTable keyed on the
// IPv4's first octet, defaulting to "00:00".
func DeriveMAC(ip4 string) string {
	octets := strings.Split(ip4, ".")
	if len(octets) != 4 {
		return "00:00:00:00:00:00"
	}

	prefix := "00:00"
	for _, row := range macPrefixTable {
		if octets[0] == row.octet {
			prefix = row.prefix
			break
		}
	}

	hexOctets := make([]string, 4)
	for i, o := range octets {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 || n > 255 {
			return "00:00:00:00:00:00"
		}
		hexOctets[i] = fmt.Sprintf("%02x", n)
	}

	return prefix + ":" + strings.Join(hexOctets, ":")
}

// NewNICConfig constructs a NICConfig, deriving MACAddr from IP4Addr when
// MACAddr is empty. Derivation happens here, at construction, never
// during serialization.
func NewNICConfig(macAddr, nicType, ip4Addr, ip6Addr string) NICConfig {
	if macAddr == "" && ip4Addr != "" {
		macAddr = DeriveMAC(ip4Addr)
	}
	return NICConfig{
		MACAddr: macAddr,
		NICType: nicType,
		IP4Addr: ip4Addr,
		IP6Addr: ip6Addr,
	}
}

// DiskConfig describes one extra data disk.
type DiskConfig struct {
	HDDName string `json:"hdd_name"`
	HDDSize int    `json:"hdd_size"`
}

// DiskUsage is a [total, used] pair in MiB for one extra mount.
type DiskUsage [2]int64

// HWStatus is a point-in-time hardware/status snapshot.
type HWStatus struct {
	ACStatus PowerState `json:"ac_status"`

	CPUModel string  `json:"cpu_model"`
	CPUCores int     `json:"cpu_cores"`
	CPUUsage float64 `json:"cpu_usage"`
	CPUTemp  float64 `json:"cpu_temp"`
	CPUPower float64 `json:"cpu_power"`

	MemTotalMB int64 `json:"mem_total_mb"`
	MemUsageMB int64 `json:"mem_usage_mb"`

	DiskTotalMB int64                `json:"disk_total_mb"`
	DiskUsageMB int64                `json:"disk_usage_mb"`
	DiskExtra   map[string]DiskUsage `json:"disk_extra"`

	GPUCount int            `json:"gpu_count"`
	GPUUsage map[string]int `json:"gpu_usage"`

	NetSentMB int64 `json:"net_sent_mb"`
	NetRecvMB int64 `json:"net_recv_mb"`

	SampledAt int64 `json:"sampled_at"` // unix seconds
}

// ActionResult is the uniform outcome of every adapter operation.
type ActionResult struct {
	Success bool   `json:"success"`
	Actions string `json:"actions"`
	Message string `json:"message"`
	Results any    `json:"results"`
	Execute error  `json:"-"`
}

// actionResultWire is the JSON wire shape of ActionResult; Execute
// serializes as its textual form, null when nil.
type actionResultWire struct {
	Success bool    `json:"success"`
	Actions string  `json:"actions"`
	Message string  `json:"message"`
	Results any     `json:"results"`
	Execute *string `json:"execute"`
}

func (r ActionResult) MarshalJSON() ([]byte, error) {
	w := actionResultWire{Success: r.Success, Actions: r.Actions, Message: r.Message, Results: r.Results}
	if r.Execute != nil {
		s := r.Execute.Error()
		w.Execute = &s
	}
	return json.Marshal(w)
}

func (r *ActionResult) UnmarshalJSON(data []byte) error {
	var w actionResultWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Success, r.Actions, r.Message, r.Results = w.Success, w.Actions, w.Message, w.Results
	if w.Execute != nil {
		r.Execute = fmt.Errorf("%s", *w.Execute)
	} else {
		r.Execute = nil
	}
	return nil
}

// Task is a long-running operation descriptor.
type Task struct {
	ActionResult
	Process map[string]any `json:"process"`
	Success bool           `json:"task_success"`
	Results int            `json:"task_results"`
}
