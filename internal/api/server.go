// Package api is the thin HTTP routing layer in front of the Host
// Manager. Every handler is a direct translation of one manager
// operation into the {code, msg, data} envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/apierr"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/catalog"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/manager"
	"github.com/OpenIDCSTeam/OpenIDCS-Client/internal/vncgw"
)

// Server is the controller's HTTP API server.
type Server struct {
	mgr     *manager.Manager
	gateway *vncgw.Gateway
	addr    string

	mux    *http.ServeMux
	server *http.Server
	ln     net.Listener
}

// NewServer creates a new API server bound to addr, routing onto mgr and
// using gateway to mint console URLs.
func NewServer(addr string, mgr *manager.Manager, gateway *vncgw.Gateway) *Server {
	s := &Server{mgr: mgr, gateway: gateway, addr: addr, mux: http.NewServeMux()}
	s.registerRoutes()
	s.server = &http.Server{Handler: s.mux}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /login", s.handleLogin)

	s.mux.HandleFunc("GET /api/hosts", s.handleListHosts)
	s.mux.HandleFunc("POST /api/hosts", s.handleAddHost)
	s.mux.HandleFunc("GET /api/hosts/{n}", s.handleGetHost)
	s.mux.HandleFunc("PUT /api/hosts/{n}", s.handleUpdateHost)
	s.mux.HandleFunc("DELETE /api/hosts/{n}", s.handleDeleteHost)
	s.mux.HandleFunc("POST /api/hosts/{n}/power", s.handlePowerHost)
	s.mux.HandleFunc("GET /api/hosts/{n}/status", s.handleHostStatus)

	s.mux.HandleFunc("GET /api/hosts/{n}/vms", s.handleListGuests)
	s.mux.HandleFunc("POST /api/hosts/{n}/vms", s.handleCreateGuest)
	s.mux.HandleFunc("PUT /api/hosts/{n}/vms/{u}", s.handleUpdateGuest)
	s.mux.HandleFunc("DELETE /api/hosts/{n}/vms/{u}", s.handleDeleteGuest)
	s.mux.HandleFunc("POST /api/hosts/{n}/vms/{u}/power", s.handleGuestPower)
	s.mux.HandleFunc("POST /api/hosts/{n}/vms/scan", s.handleScanGuests)
	s.mux.HandleFunc("GET /api/hosts/{n}/vms/{u}/vconsole", s.handleGuestConsole)
	s.mux.HandleFunc("GET /api/hosts/{n}/tasks", s.handleListTasks)

	s.mux.HandleFunc("GET /api/logs", s.handleLogs)
	s.mux.HandleFunc("POST /api/token/reset", s.handleTokenReset)
	s.mux.HandleFunc("POST /api/token/set", s.handleTokenSet)
}

// Start begins listening in the background. It returns once the
// listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	log.Printf("api: listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api: serve error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// envelope is the shared response shape for every endpoint.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, "ok", data)
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(envelope{Code: code, Msg: msg, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	code := apierr.HTTPStatus(err)
	writeEnvelope(w, code, err.Error(), nil)
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	return v, err
}

func (s *Server) requireBearer(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && token[:7] == "Bearer " {
		token = token[7:]
	}
	if !s.mgr.VerifyBearer(token) {
		writeEnvelope(w, http.StatusUnauthorized, apierr.ErrAuthFailed.Error(), nil)
		return false
	}
	return true
}

type loginRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBody[loginRequest](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	if !s.mgr.VerifyBearer(req.Token) {
		writeEnvelope(w, http.StatusUnauthorized, apierr.ErrAuthFailed.Error(), nil)
		return
	}
	writeOK(w, map[string]bool{"authenticated": true})
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	hosts, err := s.mgr.ListHosts()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, hosts)
}

func (s *Server) handleAddHost(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	req, err := decodeBody[struct {
		HSName string             `json:"hs_name"`
		Config catalog.HostConfig `json:"config"`
	}](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	if err := s.mgr.AddHost(r.Context(), req.HSName, req.Config); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	hsName := r.PathValue("n")
	hosts, err := s.mgr.ListHosts()
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, h := range hosts {
		if h.HSName != hsName {
			continue
		}
		data := map[string]any{"host": h}
		if r.URL.Query().Get("status") == "true" {
			refresh := r.URL.Query().Get("refresh") == "true"
			status, err := s.mgr.HostStatus(r.Context(), hsName, refresh)
			if err != nil {
				writeErr(w, err)
				return
			}
			data["status"] = status
		}
		writeOK(w, data)
		return
	}
	writeErr(w, fmt.Errorf("%w: host %s", apierr.ErrNotFound, hsName))
}

func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	cfg, err := decodeBody[catalog.HostConfig](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	if err := s.mgr.UpdateHost(r.Context(), r.PathValue("n"), cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	if err := s.mgr.DeleteHost(r.Context(), r.PathValue("n")); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handlePowerHost(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	req, err := decodeBody[struct {
		Enable bool `json:"enable"`
	}](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	if err := s.mgr.PowerHost(r.Context(), r.PathValue("n"), req.Enable); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleHostStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	refresh := r.URL.Query().Get("refresh") == "true"
	status, err := s.mgr.HostStatus(r.Context(), r.PathValue("n"), refresh)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, status)
}

func (s *Server) handleListGuests(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	rows, err := s.mgr.ListGuests(r.PathValue("n"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	gc, err := decodeBody[catalog.GuestConfig](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	result, err := s.mgr.GuestCreate(r.Context(), r.PathValue("n"), gc)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleUpdateGuest(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	gc, err := decodeBody[catalog.GuestConfig](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	gc.VMUUID = r.PathValue("u")
	result, err := s.mgr.GuestUpdate(r.Context(), r.PathValue("n"), gc)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleDeleteGuest(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	result, err := s.mgr.GuestDelete(r.Context(), r.PathValue("n"), r.PathValue("u"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleGuestPower(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	req, err := decodeBody[struct {
		State    catalog.PowerState `json:"state"`
		Password string             `json:"password"`
	}](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	result, err := s.mgr.GuestPower(r.Context(), r.PathValue("n"), r.PathValue("u"), req.State, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, result)
}

func (s *Server) handleScanGuests(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	prefix := r.URL.Query().Get("prefix")
	scanned, added, err := s.mgr.ScanHost(r.Context(), r.PathValue("n"), prefix)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]int{"scanned": scanned, "added": added})
}

func (s *Server) handleGuestConsole(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	hostPort, err := s.mgr.GuestConsole(r.Context(), r.PathValue("n"), r.PathValue("u"))
	if err != nil {
		writeErr(w, err)
		return
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: console endpoint %q: %v", apierr.ErrBackend, hostPort, err))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeErr(w, fmt.Errorf("%w: console port %q: %v", apierr.ErrBackend, portStr, err))
		return
	}

	token, err := s.gateway.AddMapping(host, port, "")
	if err != nil {
		writeErr(w, fmt.Errorf("%w: %v", apierr.ErrInternal, err))
		return
	}
	writeOK(w, map[string]string{"path": "websockify?token=" + token})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	rows, err := s.mgr.ListTasks(r.PathValue("n"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, rows)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.mgr.Logs(r.URL.Query().Get("hs_name"), "", limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, entries)
}

func (s *Server) handleTokenReset(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	token, err := s.mgr.SetBearer("")
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"token": token})
}

func (s *Server) handleTokenSet(w http.ResponseWriter, r *http.Request) {
	if !s.requireBearer(w, r) {
		return
	}
	req, err := decodeBody[struct {
		Token string `json:"token"`
	}](r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, "malformed body", nil)
		return
	}
	token, err := s.mgr.SetBearer(req.Token)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"token": token})
}
