// Package adminapi exposes the replication manager's operator-driven
// operations over HTTP, grounded on internal/metrics.Exporter's
// http.ServeMux + http.Server shape.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kvshard/replicore/internal/replication"
	commonerrors "github.com/kvshard/replicore/pkg/errors"
)

// Server is a small HTTP surface over a *replication.Manager: status
// snapshots and changeReplSource, the two operations spec.md names as
// operator-driven.
type Server struct {
	addr    string
	manager *replication.Manager
	server  *http.Server
}

// NewServer builds an admin API bound to addr.
func NewServer(addr string, manager *replication.Manager) *Server {
	mux := http.NewServeMux()
	s := &Server{addr: addr, manager: manager}

	mux.HandleFunc("/repl/status", s.handleStatus)
	mux.HandleFunc("/repl/status/simple", s.handleStatusSimple)
	mux.HandleFunc("/repl/status/detail", s.handleStatusDetail)
	mux.HandleFunc("/repl/changesource", s.handleChangeSource)

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins serving; it blocks until Stop is called or the listener
// errors.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop closes the listener.
func (s *Server) Stop() error {
	return s.server.Close()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.JSONSnapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(snap)
}

func (s *Server) handleStatusSimple(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.manager.WriteReplInfoSimple()))
}

func (s *Server) handleStatusDetail(w http.ResponseWriter, r *http.Request) {
	showAll := r.URL.Query().Get("all") == "true"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.manager.WriteReplInfoDetail(showAll)))
}

// changeSourceRequest is the JSON body for POST /repl/changesource.
type changeSourceRequest struct {
	StoreID       int    `json:"store_id"`
	Host          string `json:"host"`
	Port          uint32 `json:"port"`
	SourceStoreID uint32 `json:"source_store_id"`
}

func (s *Server) handleChangeSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req changeSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, commonerrors.ErrInvalidArgs.Error()+": "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.manager.ChangeReplSource(req.StoreID, req.Host, req.Port, req.SourceStoreID); err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, replication.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, replication.ErrManual):
		return http.StatusConflict
	case errors.Is(err, replication.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, replication.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
