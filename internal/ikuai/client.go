// Package ikuai is a stateful HTTP client for the iKuai router's web
// console, grounded directly in the NetsManage Python reference: the same
// login handshake, the same /Action/call envelope, and the same static
// DHCP/DNAT wrappers over it.
package ikuai

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Client is a session-holding client for one iKuai router.
type Client struct {
	baseURL  string
	username string
	password string

	http    *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	sessKey string
}

// New constructs a Client. limiter may be nil to disable outbound
// throttling.
func New(baseURL, username, password string, limiter *rate.Limiter) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  limiter,
	}
}

// loginResult is the subset of the /Action/login response this client
// inspects.
type loginResult struct {
	Result int    `json:"Result"`
	ErrMsg string `json:"ErrMsg"`
}

// Login authenticates and retains the session cookie. Returns false (with
// no error) on a rejected login so callers can distinguish "bad
// credentials" from "transport failure".
func (c *Client) Login(ctx context.Context) (bool, error) {
	passwdMD5 := md5Hex(c.password)
	body := map[string]string{
		"username":          c.username,
		"passwd":            passwdMD5,
		"pass":              "salt_11" + c.password,
		"remember_password": "",
	}

	resp, err := c.post(ctx, "/Action/login", body, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read login response: %w", err)
	}

	var lr loginResult
	if err := json.Unmarshal(data, &lr); err != nil {
		return false, fmt.Errorf("decode login response: %w", err)
	}
	if lr.Result != 10000 {
		return false, nil
	}

	sessKey := sessKeyFromSetCookie(resp.Header.Values("Set-Cookie"))
	if sessKey == "" {
		return false, nil
	}

	c.mu.Lock()
	c.sessKey = sessKey
	c.mu.Unlock()
	return true, nil
}

// sessKeyFromSetCookie extracts sess_key=... from a list of Set-Cookie
// header values.
func sessKeyFromSetCookie(cookies []string) string {
	for _, line := range cookies {
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			if v, ok := strings.CutPrefix(part, "sess_key="); ok {
				return v
			}
		}
	}
	return ""
}

// Call invokes the generic /Action/call wrapper and returns the decoded
// JSON response, or nil if the call was made before Login.
func (c *Client) Call(ctx context.Context, funcName, action string, param map[string]any) (map[string]any, error) {
	c.mu.Lock()
	sessKey := c.sessKey
	c.mu.Unlock()
	if sessKey == "" {
		return nil, nil
	}

	body := map[string]any{
		"func_name": funcName,
		"action":    action,
		"param":     param,
	}

	resp, err := c.post(ctx, "/Action/call", body, sessKey)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read call response: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode call response: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, sessKey string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessKey != "" {
		req.Header.Set("Cookie", fmt.Sprintf("sess_key=%s; username=%s; login=1", sessKey, c.username))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return resp, nil
}

// success reports whether a Call response indicates success.
func success(result map[string]any) bool {
	if result == nil {
		return false
	}
	v, ok := result["success"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// AddStaticDHCP records a static IP-to-MAC lease. gateway and
// iface default to "auto" when empty.
func (c *Client) AddStaticDHCP(ctx context.Context, ip, mac, hostname, gateway, iface, dns1, dns2, comment string) (bool, error) {
	if gateway == "" {
		gateway = "auto"
	}
	if iface == "" {
		iface = "auto"
	}
	if dns1 == "" {
		dns1 = "114.114.114.114"
	}
	if dns2 == "" {
		dns2 = "223.5.5.5"
	}

	param := map[string]any{
		"newRow":   true,
		"hostname": hostname,
		"ip_addr":  ip,
		"mac":      mac,
		"gateway":  gateway,
		"interface": iface,
		"dns1":     dns1,
		"dns2":     dns2,
		"comment":  comment,
		"enabled":  "yes",
	}
	result, err := c.Call(ctx, "dhcp_static", "add", param)
	if err != nil {
		return false, err
	}
	return success(result), nil
}

// DeleteStaticDHCP removes a static lease, keyed by whichever identifier
// is supplied, in priority id > ip > mac.
func (c *Client) DeleteStaticDHCP(ctx context.Context, id, ip, mac string) (bool, error) {
	param, err := idOrKeyParam(id, map[string]string{"ip_addr": ip, "mac": mac}, []string{"ip_addr", "mac"})
	if err != nil {
		return false, err
	}
	result, err := c.Call(ctx, "dhcp_static", "del", param)
	if err != nil {
		return false, err
	}
	return success(result), nil
}

// AddDNAT records a WAN-port forward to a LAN address/port. iface and
// protocol default to "wan1"/"tcp+udp" when empty.
func (c *Client) AddDNAT(ctx context.Context, wanPort, lanAddr, lanPort, iface, protocol, srcAddr, comment string) (bool, error) {
	if iface == "" {
		iface = "wan1"
	}
	if protocol == "" {
		protocol = "tcp+udp"
	}

	param := map[string]any{
		"enabled":   "yes",
		"comment":   comment,
		"interface": iface,
		"lan_addr":  lanAddr,
		"protocol":  protocol,
		"wan_port":  wanPort,
		"lan_port":  lanPort,
		"src_addr":  srcAddr,
	}
	result, err := c.Call(ctx, "dnat", "add", param)
	if err != nil {
		return false, err
	}
	return success(result), nil
}

// DeleteDNAT removes a port forward, keyed by id, or by the
// wan_port+lan_addr pair when id is empty.
func (c *Client) DeleteDNAT(ctx context.Context, id, wanPort, lanAddr string) (bool, error) {
	var param map[string]any
	if id != "" {
		n, err := strconv.Atoi(id)
		if err != nil {
			return false, fmt.Errorf("invalid entry id %q: %w", id, err)
		}
		param = map[string]any{"id": n}
	} else if wanPort != "" && lanAddr != "" {
		param = map[string]any{"wan_port": wanPort, "lan_addr": lanAddr}
	} else {
		return false, fmt.Errorf("must supply id or wan_port+lan_addr")
	}

	result, err := c.Call(ctx, "dnat", "del", param)
	if err != nil {
		return false, err
	}
	return success(result), nil
}

func idOrKeyParam(id string, keys map[string]string, order []string) (map[string]any, error) {
	if id != "" {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid entry id %q: %w", id, err)
		}
		return map[string]any{"id": n}, nil
	}
	for _, k := range order {
		if v := keys[k]; v != "" {
			return map[string]any{k: v}, nil
		}
	}
	return nil, fmt.Errorf("must supply id, ip_addr, or mac")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
