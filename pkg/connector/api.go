// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"io"
	"net/http"
)

// maxAdminBodySize is the maximum allowed admin request body (1 MB).
const maxAdminBodySize = 1 << 20

// AdminHandler serves the admin HTTP API.
func (b *Bridge) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", b.HandleStatus)
	mux.HandleFunc("/api/reload-settings", b.HandleReloadSettings)
	mux.HandleFunc("/api/binds", b.HandleBinds)
	return mux
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	LoggedIn      bool   `json:"logged_in"`
	Conversations int    `json:"conversations"`
	Binds         int    `json:"binds"`
	Correlations  int    `json:"correlations"`
	Selection     string `json:"selection,omitempty"`
	DefaultChat   int64  `json:"default_chat"`
}

// HandleStatus is an HTTP handler for GET /api/status.
func (b *Bridge) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		LoggedIn:      b.IsLoggedIn(),
		Conversations: b.Directory.Len(),
		Binds:         len(b.Binds.Entries()),
		Correlations:  b.Correlation.Len(),
		DefaultChat:   b.DefaultChat(),
	}
	if sel, ok := b.Selection.Current(); ok {
		resp.Selection = sel.StatusText()
	}
	b.writeJSON(w, resp)
}

// HandleReloadSettings is an HTTP handler for POST /api/reload-settings. It
// re-reads the settings file after it was edited by hand.
func (b *Bridge) HandleReloadSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	b.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Settings reload requested")
	if err := b.settings.Reload(); err != nil {
		b.log.Err(err).Msg("Failed to reload settings")
		http.Error(w, "failed to reload settings", http.StatusInternalServerError)
		return
	}
	s := b.settings.Get()
	b.writeJSON(w, map[string]any{
		"notification_mode": s.NotificationMode,
		"blacklist":         len(s.Blacklist),
		"whitelist":         len(s.Whitelist),
	})
}

// BindRequest is one entry of a POST /api/binds body. The conversation is
// addressed by its local ID.
type BindRequest struct {
	LocalID string `json:"local_id"`
	ChatID  int64  `json:"chat_id"`
}

// HandleBinds is an HTTP handler for /api/binds. GET lists the bind table,
// POST adds the entries of a JSON array body.
func (b *Bridge) HandleBinds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b.writeJSON(w, b.Binds.Entries())
		return
	case http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var reqs []BindRequest
	if err = json.Unmarshal(body, &reqs); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	added := 0
	var unknown []string
	for _, req := range reqs {
		conv, ok := b.Directory.Find(req.LocalID)
		if !ok || req.ChatID == 0 {
			unknown = append(unknown, req.LocalID)
			continue
		}
		if err = b.Binds.Bind(r.Context(), conv, req.ChatID); err != nil {
			b.log.Err(err).Str("local_id", req.LocalID).Msg("Failed to bind conversation")
			continue
		}
		added++
	}
	b.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Int("added", added).
		Int("unknown", len(unknown)).
		Msg("Processed bind request")
	b.writeJSON(w, map[string]any{
		"added":   added,
		"unknown": unknown,
		"total":   len(b.Binds.Entries()),
	})
}

func (b *Bridge) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}
