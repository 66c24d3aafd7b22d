package handler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/linkcast-backend/internal/errors"
	"github.com/unclebandit/linkcast-backend/internal/model"
	"github.com/unclebandit/linkcast-backend/internal/push"
)

// Client message types on the session socket.
const (
	msgConnect     = "connect"
	msgDisconnect  = "disconnect"
	msgCheckStatus = "check_status"
)

type SessionManager interface {
	RequestConnect(ctx context.Context, ownerID, sessionID string) (string, error)
	RequestDisconnect(ctx context.Context, sessionID string) error
	GetStatus(sessionID string) (model.LinkedAccountSession, error)
	CooldownRemaining(ownerID string) time.Duration
}

// Subscriber is the read side of push.Hub.
type Subscriber interface {
	Subscribe(topic string) (<-chan model.PushMessage, func())
}

// SessionHandler serves the linking socket. A socket follows one session at
// a time; connect or check_status for another id switches the subscription.
type SessionHandler struct {
	Sessions SessionManager
	Hub      Subscriber
	Log      zerolog.Logger
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("session socket upgrade failed")
		return
	}
	c := newClient(ws, h.Log)
	defer c.close()

	var (
		watching string
		unsub    func()
	)
	defer func() {
		if unsub != nil {
			unsub()
		}
	}()
	watch := func(id string) {
		if id == watching {
			return
		}
		if unsub != nil {
			unsub()
		}
		ch, cancel := h.Hub.Subscribe(push.SessionTopic(id))
		watching, unsub = id, cancel
		go c.forward(ch)
	}

	for {
		var msg model.ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			h.Log.Debug().Err(err).Msg("session socket closed")
			return
		}

		switch msg.Type {
		case msgConnect:
			if msg.OwnerID == "" {
				c.send(errorFrame(msg.SessionID, "ownerId is required"))
				continue
			}
			if msg.SessionID == "" {
				msg.SessionID = uuid.NewString()
			}
			// Subscribe first so the connecting frame is not missed.
			watch(msg.SessionID)
			if _, err := h.Sessions.RequestConnect(r.Context(), msg.OwnerID, msg.SessionID); err != nil {
				c.send(h.rejection(msg, err))
			}

		case msgDisconnect:
			if err := h.Sessions.RequestDisconnect(r.Context(), msg.SessionID); err != nil {
				c.send(errorFrame(msg.SessionID, err.Error()))
			}

		case msgCheckStatus:
			st, err := h.Sessions.GetStatus(msg.SessionID)
			if err != nil {
				c.send(errorFrame(msg.SessionID, err.Error()))
				continue
			}
			watch(st.ID)
			c.send(model.PushMessage{
				Type:        model.PushStatus,
				SessionID:   st.ID,
				Status:      string(st.Status),
				PhoneNumber: st.PhoneNumber,
				QRCode:      st.PairingArtifact,
				Message:     st.LastError,
			})

		default:
			c.send(errorFrame(msg.SessionID, "unknown message type "+msg.Type))
		}
	}
}

func (h *SessionHandler) rejection(msg model.ClientMessage, err error) model.PushMessage {
	h.Log.Warn().Err(err).Str("session_id", msg.SessionID).Str("owner_id", msg.OwnerID).Msg("connect rejected")
	if errors.Is(err, appErrors.ErrRateLimited) {
		if d := h.Sessions.CooldownRemaining(msg.OwnerID); d > 0 {
			return model.PushMessage{
				Type:             model.PushBlocked,
				SessionID:        msg.SessionID,
				RemainingMinutes: int(math.Ceil(d.Minutes())),
				Message:          err.Error(),
			}
		}
	}
	return errorFrame(msg.SessionID, err.Error())
}
