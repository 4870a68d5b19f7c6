package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/conversation"
	"github.com/susu3304/splitbot/internal/db"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": len(a.sessions.Snapshots()),
		"ledger":   a.payments != nil,
	})
}

// Protected handlers
func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := a.sessions.Snapshots()

	if state := r.URL.Query().Get("state"); state != "" {
		want := conversation.State(state)
		if !want.Valid() {
			http.Error(w, "invalid state", http.StatusBadRequest)
			return
		}
		filtered := make([]conversation.Snapshot, 0, len(snaps))
		for _, s := range snaps {
			if s.State == want {
				filtered = append(filtered, s)
			}
		}
		snaps = filtered
	}
	if snaps == nil {
		snaps = []conversation.Snapshot{}
	}

	writeJSON(w, http.StatusOK, snaps)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := a.sessions.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleSessionPayments(w http.ResponseWriter, r *http.Request) {
	if a.payments == nil {
		http.Error(w, "ledger disabled", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]

	requests, err := a.payments.PaymentRequestsBySession(r.Context(), id)
	if err != nil {
		a.log.Error("failed to load payment requests", zap.String("session", id), zap.Error(err))
		http.Error(w, "failed to load payment requests", http.StatusInternalServerError)
		return
	}
	if requests == nil {
		requests = []db.PaymentRequest{}
	}
	if claims := claimsFrom(r.Context()); claims != nil {
		a.log.Info("payment requests viewed", zap.String("session", id), zap.String("admin", claims.UserID))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"requests":   requests,
	})
}
