package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/stacksgame/stacks-server/pkg/server/internal/db"
)

// RegisterRoutes attaches the REST surface and the websocket endpoint to mux.
// The REST handlers read the store directly; everything that touches live
// round state goes through the websocket and the loop.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/user", s.handleUser)
	mux.HandleFunc("/api/user-stats", s.handleUserStats)
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// cors answers preflight requests and stamps the permissive headers the
// browser client needs. Returns true when the request was fully handled.
func cors(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": s.cfg.SessionID,
	})
}

// handleUser serves GET (lookup) and POST (profile upsert) for an identity.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		fid := r.URL.Query().Get("fid")
		if fid == "" {
			writeError(w, http.StatusBadRequest, "missing fid")
			return
		}
		user, err := s.db.GetUser(fid)
		if errors.Is(err, db.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			s.log.Errorf("user lookup failed for %s: %v", fid, err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, userResponse(user))

	case http.MethodPost:
		var req ClaimIdentityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body")
			return
		}
		fid := string(req.Fid)
		if !isAuthenticatedKey(fid) {
			writeError(w, http.StatusBadRequest, "invalid fid")
			return
		}
		user, err := s.db.UpsertProfile(fid, db.Profile{
			Username:    req.Username,
			DisplayName: req.DisplayName,
			PfpURL:      req.PfpURL,
			Bio:         req.Bio,
			Location:    req.Location,
		}, startingChipsAuthenticated)
		if err != nil {
			s.log.Errorf("profile upsert failed for %s: %v", fid, err)
			writeError(w, http.StatusInternalServerError, "upsert failed")
			return
		}
		writeJSON(w, http.StatusOK, userResponse(user))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func userResponse(u *db.User) map[string]any {
	return map[string]any{
		"fid":           u.ID,
		"username":      u.Username,
		"displayName":   u.DisplayName,
		"pfpUrl":        u.PfpURL,
		"bio":           u.Bio,
		"location":      u.Location,
		"authenticated": u.Authenticated,
		"chips":         u.Chips,
	}
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	fid := r.URL.Query().Get("fid")
	if fid == "" {
		writeError(w, http.StatusBadRequest, "missing fid")
		return
	}

	stats, err := ComputeUserStats(s.db, fid)
	if err != nil {
		s.log.Errorf("stats computation failed for %s: %v", fid, err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if cors(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// The documented parameter is type; metric is kept as an alias.
	metric := r.URL.Query().Get("type")
	if metric == "" {
		metric = r.URL.Query().Get("metric")
	}
	if metric == "" {
		metric = "chips"
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := Leaderboard(s.db, metric, limit)
	if err != nil {
		s.log.Errorf("leaderboard query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "leaderboard failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
