package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/switchyard/pkg/lifecycle"
	"github.com/cuemby/switchyard/pkg/metrics"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/types"
)

// adminServer exposes the control plane over HTTP for the CLI subcommands
// and for operators: resolution queries, health snapshots, and lifecycle
// verbs.
type adminServer struct {
	registry *registry.Registry
	manager  *lifecycle.Manager
	server   *http.Server
}

func newAdminServer(addr string, reg *registry.Registry, mgr *lifecycle.Manager) *adminServer {
	s := &adminServer{registry: reg, manager: mgr}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/resolve", s.handleResolve)
	mux.HandleFunc("/v1/explain", s.handleExplain)
	mux.HandleFunc("/v1/candidates", s.handleCandidates)
	mux.HandleFunc("/v1/swap", s.handleSwap)
	mux.HandleFunc("/v1/pause", s.handleActivity)
	mux.HandleFunc("/v1/resume", s.handleActivity)
	mux.HandleFunc("/v1/drain", s.handleActivity)
	mux.HandleFunc("/v1/undrain", s.handleActivity)
	mux.HandleFunc("/v1/cleanup", s.handleCleanup)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *adminServer) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *adminServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Domain    string    `json:"domain"`
	Key       string    `json:"key"`
	Provider  string    `json:"provider"`
	State     string    `json:"state"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func (s *adminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	probe := r.URL.Query().Get("probe") == "true"
	statuses := s.manager.Health(r.Context(), probe)

	out := make([]healthResponse, 0, len(statuses))
	allHealthy := true
	for _, st := range statuses {
		resp := healthResponse{
			Domain:    string(st.Ref.Domain),
			Key:       st.Ref.Key,
			Provider:  st.Provider,
			State:     string(st.State),
			Healthy:   st.Healthy,
			CheckedAt: st.CheckedAt,
		}
		if st.Err != nil {
			resp.Error = st.Err.Error()
		}
		if !st.Healthy {
			allHealthy = false
		}
		out = append(out, resp)
	}

	code := http.StatusOK
	if !allHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"healthy":   allHealthy,
		"instances": out,
	})
}

func (s *adminServer) handleResolve(w http.ResponseWriter, r *http.Request) {
	domain, key, ok := refParams(w, r)
	if !ok {
		return
	}
	cand := s.registry.Resolve(domain, key)
	if cand == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no eligible candidate for %s/%s", domain, key))
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

func (s *adminServer) handleExplain(w http.ResponseWriter, r *http.Request) {
	domain, key, ok := refParams(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Explain(domain, key))
}

// handleCandidates serves two shapes: with a key it ranks the candidates for
// that plug point; with only a domain it lists the domain's active and
// shadowed candidates.
func (s *adminServer) handleCandidates(w http.ResponseWriter, r *http.Request) {
	domain := types.Domain(r.URL.Query().Get("domain"))
	if !domain.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", domain))
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"active":   s.registry.ListActive(domain),
			"shadowed": s.registry.ListShadowed(domain),
		})
		return
	}
	if !types.ValidKey(key) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid key %q", key))
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Candidates(domain, key))
}

type swapRequest struct {
	Domain   string `json:"domain"`
	Key      string `json:"key"`
	Provider string `json:"provider,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

func (s *adminServer) handleSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	domain := types.Domain(req.Domain)
	if !domain.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", req.Domain))
		return
	}

	_, err := s.manager.Swap(r.Context(), domain, req.Key, lifecycle.SwapOptions{
		Provider: req.Provider,
		Force:    req.Force,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	cand := s.manager.ActiveCandidate(domain, req.Key)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"swapped": true,
		"active":  cand,
	})
}

type activityRequest struct {
	Domain string `json:"domain"`
	Key    string `json:"key"`
	Note   string `json:"note,omitempty"`
}

func (s *adminServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	domain := types.Domain(req.Domain)
	if !domain.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", req.Domain))
		return
	}

	var err error
	switch r.URL.Path {
	case "/v1/pause":
		err = s.manager.Pause(r.Context(), domain, req.Key, req.Note)
	case "/v1/resume":
		err = s.manager.Resume(r.Context(), domain, req.Key)
	case "/v1/drain":
		err = s.manager.Drain(r.Context(), domain, req.Key, req.Note)
	case "/v1/undrain":
		err = s.manager.Undrain(r.Context(), domain, req.Key)
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"activity": s.manager.Activity(domain, req.Key),
	})
}

func (s *adminServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	domain := types.Domain(req.Domain)
	if !domain.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", req.Domain))
		return
	}
	if err := s.manager.Cleanup(r.Context(), domain, req.Key); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func refParams(w http.ResponseWriter, r *http.Request) (types.Domain, string, bool) {
	domain := types.Domain(r.URL.Query().Get("domain"))
	key := r.URL.Query().Get("key")
	if !domain.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid domain %q", domain))
		return "", "", false
	}
	if !types.ValidKey(key) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid key %q", key))
		return "", "", false
	}
	return domain, key, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
