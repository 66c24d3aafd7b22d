// internal/handler/campaign_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/push"
)

// CampaignHandler streams progress frames for one campaign.
type CampaignHandler struct {
	Hub Subscriber
	Log zerolog.Logger
}

func (h *CampaignHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	// Subscribed before the upgrade so no frame published after the
	// handshake is lost.
	ch, unsub := h.Hub.Subscribe(push.CampaignTopic(id))
	defer unsub()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Int("campaign_id", id).Msg("campaign socket upgrade failed")
		return
	}
	c := newClient(ws, h.Log.With().Int("campaign_id", id).Logger())
	defer c.close()
	go c.forward(ch)

	// Inbound frames are ignored; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
