package controller

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
)

// SessionManager is the linked-session surface. session.Registry implements it.
type SessionManager interface {
	RequestConnect(ctx context.Context, ownerID, sessionID string) (string, error)
	RequestDisconnect(ctx context.Context, sessionID string) error
	GetStatus(sessionID string) (model.LinkedAccountSession, error)
	CooldownRemaining(ownerID string) time.Duration
}

type SessionController struct {
	Sessions SessionManager
	Log      zerolog.Logger
}

// Connect starts linking. Progress is delivered over the session socket;
// the response only carries the session id.
func (c *SessionController) Connect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerID   string `json:"ownerId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OwnerID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	id, err := c.Sessions.RequestConnect(r.Context(), body.OwnerID, body.SessionID)
	if err != nil {
		c.Log.Warn().Err(err).Str("owner_id", body.OwnerID).Str("session_id", id).Msg("connect rejected")
		resp := map[string]interface{}{"error": err.Error(), "sessionId": id}
		if errors.Is(err, appErrors.ErrRateLimited) {
			if d := c.Sessions.CooldownRemaining(body.OwnerID); d > 0 {
				resp["remainingMinutes"] = int(math.Ceil(d.Minutes()))
			}
		}
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": id, "status": string(model.SessionConnecting)})
}

func (c *SessionController) Disconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.Sessions.RequestDisconnect(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *SessionController) Status(w http.ResponseWriter, r *http.Request) {
	st, err := c.Sessions.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
