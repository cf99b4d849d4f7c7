// Package api provides HTTP handlers and the admin API server for MenuPipe.
//
// It exposes read-only listings of flows and trackers, manual tracker
// pause/resume, and an operator send endpoint. Flow authoring is out of
// scope; flows are read-only through this surface.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/messaging"
	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/store"
	"github.com/BTreeMap/MenuPipe/internal/whatsapp"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	Connections *whatsapp.ConnectionManager
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithConnectionManager exposes the live connection registry through the API:
// the /accounts listing and per-account routing of operator sends.
func WithConnectionManager(m *whatsapp.ConnectionManager) Option {
	return func(o *Opts) {
		o.Connections = m
	}
}

// Server hosts the admin HTTP API.
type Server struct {
	msgService  messaging.Service
	st          store.Store
	connections *whatsapp.ConnectionManager
	addr        string
	httpServer  *http.Server
}

// NewServer creates an API server backed by the given messaging service and store.
func NewServer(msgService messaging.Service, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		msgService:  msgService,
		st:          st,
		connections: cfg.Connections,
		addr:        cfg.Addr,
	}
}

// Handler returns the routed HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/trackers", s.trackersHandler)
	mux.HandleFunc("/trackers/toggle", s.toggleTrackerHandler)
	mux.HandleFunc("/send", s.sendHandler)
	if s.connections != nil {
		mux.HandleFunc("/accounts", s.accountsHandler)
	}
	return mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	slog.Info("API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// flowsHandler lists the flows of an account. GET /flows?account=<id>
func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	accountID := r.URL.Query().Get("account")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("account query parameter is required"))
		return
	}

	flows, err := s.st.ListFlowsByAccount(accountID)
	if err != nil {
		slog.Error("API flows listing failed", "error", err, "account", accountID)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to list flows"))
		return
	}

	slog.Debug("API flows listed", "account", accountID, "count", len(flows))
	writeJSON(w, http.StatusOK, models.Success(flows))
}

// trackersHandler lists trackers, optionally filtered by bot number.
// GET /trackers[?bot=<number>]
func (s *Server) trackersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	trackers, err := s.st.ListTrackers()
	if err != nil {
		slog.Error("API tracker listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to list trackers"))
		return
	}

	if bot := r.URL.Query().Get("bot"); bot != "" {
		filtered := trackers[:0:0]
		for _, t := range trackers {
			if t.BotNumber == bot {
				filtered = append(filtered, t)
			}
		}
		trackers = filtered
	}

	slog.Debug("API trackers listed", "count", len(trackers))
	writeJSON(w, http.StatusOK, models.Success(trackers))
}

// toggleTrackerRequest is the body for POST /trackers/toggle.
type toggleTrackerRequest struct {
	TrackerID string `json:"tracker_id"`
	Active    bool   `json:"active"`
}

// toggleTrackerHandler pauses or resumes a tracker manually.
func (s *Server) toggleTrackerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	var req toggleTrackerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if req.TrackerID == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("tracker_id is required"))
		return
	}

	tracker, err := s.st.GetTrackerByID(req.TrackerID)
	if err != nil {
		slog.Error("API tracker lookup failed", "error", err, "tracker", req.TrackerID)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to look up tracker"))
		return
	}
	if tracker == nil {
		writeJSON(w, http.StatusNotFound, models.Error("tracker not found"))
		return
	}

	if err := s.st.SetTrackerActive(req.TrackerID, req.Active); err != nil {
		slog.Error("API tracker toggle failed", "error", err, "tracker", req.TrackerID)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to update tracker"))
		return
	}
	if req.Active {
		// A manual resume clears any pending pause deadline.
		if err := s.st.SetTrackerReactivateAt(req.TrackerID, nil); err != nil {
			slog.Error("API reactivate_at clear failed", "error", err, "tracker", req.TrackerID)
		}
	}

	slog.Info("API tracker toggled", "tracker", req.TrackerID, "active", req.Active)
	writeJSON(w, http.StatusOK, models.Success(map[string]any{"tracker_id": req.TrackerID, "active": req.Active}))
}

// accountInfo is one row in the GET /accounts response.
type accountInfo struct {
	AccountID string `json:"account_id"`
	Number    string `json:"number,omitempty"`
}

// accountsHandler lists currently connected accounts. GET /accounts
func (s *Server) accountsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	ids := s.connections.Accounts()
	accounts := make([]accountInfo, 0, len(ids))
	for _, id := range ids {
		info := accountInfo{AccountID: id}
		if client, ok := s.connections.Get(id); ok {
			info.Number = client.OwnNumber()
		}
		accounts = append(accounts, info)
	}

	slog.Debug("API accounts listed", "count", len(accounts))
	writeJSON(w, http.StatusOK, models.Success(accounts))
}

// sendRequest is the body for POST /send. From optionally selects the bot
// account to send through; when unset the default messaging service is used.
type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

// sendHandler sends a one-off operator message through the messaging service,
// or through a specific connected account when the request names one.
func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if req.Body == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("body is required"))
		return
	}

	to, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error(fmt.Sprintf("invalid recipient: %v", err)))
		return
	}

	if req.From != "" {
		s.sendViaAccount(w, r, req.From, to, req.Body)
		return
	}

	if err := s.msgService.SendMessage(r.Context(), to, req.Body); err != nil {
		slog.Error("API send failed", "error", err, "to", to)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to send message"))
		return
	}

	slog.Info("API operator message sent", "to", to)
	writeJSON(w, http.StatusOK, models.Success(map[string]any{"to": to}))
}

// sendViaAccount routes an operator send through the connected client whose
// logged-in number matches from.
func (s *Server) sendViaAccount(w http.ResponseWriter, r *http.Request, from, to, body string) {
	if s.connections == nil {
		writeJSON(w, http.StatusBadRequest, models.Error("per-account sending is not configured"))
		return
	}

	canonical, err := messaging.CanonicalizePhoneNumber(from)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error(fmt.Sprintf("invalid from number: %v", err)))
		return
	}

	client, ok := s.connections.GetByNumber(canonical)
	if !ok {
		writeJSON(w, http.StatusNotFound, models.Error("no connected account for that number"))
		return
	}

	if _, err := client.SendMessage(r.Context(), to, body); err != nil {
		slog.Error("API per-account send failed", "error", err, "from", canonical, "to", to)
		writeJSON(w, http.StatusInternalServerError, models.Error("failed to send message"))
		return
	}

	slog.Info("API operator message sent", "from", canonical, "to", to)
	writeJSON(w, http.StatusOK, models.Success(map[string]any{"from": canonical, "to": to}))
}

func writeJSON(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("API response encoding failed", "error", err)
	}
}
