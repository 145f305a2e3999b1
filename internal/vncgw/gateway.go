// Package vncgw is the operator-facing VNC console gateway: a single
// WebSocket endpoint in front of a token-keyed table of guest VNC
// endpoints, plus the static asset server for the browser-side client.
package vncgw

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Gateway holds the token → target map and the HTTP/WebSocket server
// fronting it. A Gateway is a child process of the controller in spirit:
// Stop must be reachable from every controller exit path.
type Gateway struct {
	mu      sync.Mutex
	targets map[string]string // token -> "ip:port"

	configPath string
	webAddr    string
	staticDir  string

	server *http.Server
}

// New constructs a Gateway. configPath is the flat token file
// (saving_root/websockify.cfg); webAddr is the listen address
// ("host:web_port"); staticDir roots the browser asset tree.
func New(configPath, webAddr, staticDir string) *Gateway {
	return &Gateway{
		targets:    make(map[string]string),
		configPath: configPath,
		webAddr:    webAddr,
		staticDir:  staticDir,
	}
}

// Load reads the persisted token map from configPath, if it exists.
func (g *Gateway) Load() error {
	f, err := os.Open(g.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", g.configPath, err)
	}
	defer f.Close()

	g.mu.Lock()
	defer g.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		token, target, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		g.targets[token] = target
	}
	return scanner.Err()
}

// AddMapping records token -> ip:port and persists the table. If an
// existing entry already maps the same ip:port, its token is returned
// instead of creating a duplicate.
func (g *Gateway) AddMapping(ip string, port int, token string) (string, error) {
	target := net.JoinHostPort(ip, strconv.Itoa(port))

	g.mu.Lock()
	defer g.mu.Unlock()

	for existingToken, existingTarget := range g.targets {
		if existingTarget == target {
			return existingToken, nil
		}
	}

	if token == "" {
		token = uuid.NewString()
	}
	g.targets[token] = target
	if err := g.persistLocked(); err != nil {
		return "", err
	}
	return token, nil
}

// DeleteMapping removes a token and persists the table.
func (g *Gateway) DeleteMapping(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.targets, token)
	return g.persistLocked()
}

// persistLocked rewrites the config file from scratch. Caller holds mu.
func (g *Gateway) persistLocked() error {
	if g.configPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(g.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp := g.configPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	for token, target := range g.targets {
		fmt.Fprintf(w, "%s: %s\n", token, target)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, g.configPath)
}

// Start brings up the WebSocket gateway and static asset server. It
// returns once the listener is bound; serving continues in the
// background until Stop is called.
func (g *Gateway) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/websockify", g.handleWebsockify)
	if g.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(g.staticDir)))
	}

	ln, err := net.Listen("tcp", g.webAddr)
	if err != nil {
		return fmt.Errorf("vncgw listen on %s: %w", g.webAddr, err)
	}

	g.server = &http.Server{Handler: mux}
	log.Printf("vncgw: listening on %s", g.webAddr)

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("vncgw: serve error: %v", err)
		}
	}()
	return nil
}

// Stop shuts down the gateway's HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleWebsockify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	g.mu.Lock()
	target, ok := g.targets[token]
	g.mu.Unlock()
	if !ok {
		http.Error(w, "unknown token", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("vncgw: accept: %v", err)
		return
	}

	backend, err := net.Dial("tcp", target)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "backend unreachable")
		return
	}
	defer backend.Close()

	relay(r.Context(), conn, backend)
}

// relay bridges a WebSocket connection and a raw TCP connection,
// forwarding binary frames in both directions until either side closes.
func relay(ctx context.Context, ws *websocket.Conn, tcp net.Conn) {
	defer ws.Close(websocket.StatusNormalClosure, "")

	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if _, err := tcp.Write(data); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		buf := make([]byte, 32*1024)
		for {
			n, err := tcp.Read(buf)
			if n > 0 {
				if writeErr := ws.Write(ctx, websocket.MessageBinary, buf[:n]); writeErr != nil {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					log.Printf("vncgw: tcp read: %v", err)
				}
				return
			}
		}
	}()

	<-done
}
