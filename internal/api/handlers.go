package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"bookguard/internal/config"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider Provider
	cfg      config.DashboardConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider Provider, cfg config.DashboardConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a liveness response for the process itself, not
// to be confused with per-symbol market-data health served at
// /api/snapshot.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot returns the current dashboard state as JSON.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := BuildSnapshot(h.provider)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
}

// HandleExport triggers a manual incident bundle export. POST only; an
// optional "symbol" query parameter scopes the capture to one symbol's
// frame ring.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	inc := h.provider.ExportManual(r.URL.Query().Get("symbol"))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(inc); err != nil {
		h.logger.Error("failed to encode incident", "error", err)
	}
}

// HandleWebSocket upgrades the connection and hands it to the hub, seeded
// with a full snapshot before incremental events flow.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return originPermitted(req.Header.Get("Origin"), h.cfg.AllowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	snapshot := BuildSnapshot(h.provider)
	h.hub.Attach(conn, DashboardEvent{
		Type:      "snapshot",
		Timestamp: snapshot.Timestamp,
		Data:      snapshot,
	})
}

// originPermitted decides whether a browser Origin header may open the
// dashboard socket. Requests without an Origin (curl, wscat, in-process
// tooling) are always admitted. When an allowlist is configured it is
// exhaustive; otherwise loopback origins and origins matching the host the
// request was addressed to are accepted.
func originPermitted(origin string, allowlist []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	if len(allowlist) > 0 {
		for _, allowed := range allowlist {
			a, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if strings.EqualFold(u.Scheme, a.Scheme) && strings.EqualFold(u.Host, a.Host) {
				return true
			}
		}
		return false
	}

	switch host := strings.ToLower(u.Hostname()); host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return host != "" && host == hostOnly(reqHost)
	}
}

// hostOnly lowercases a host:port pair and drops the port, if any.
func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(strings.TrimSpace(hostport))
}
