package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Sockets are the push endpoints mounted next to the REST routes.
type Sockets struct {
	Sessions  http.Handler
	Campaigns http.Handler
}

func NewRouter(cc *CampaignController, sc *SessionController, ws Sockets) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Campaign routes
	r.Post("/campaigns", cc.CreateCampaign)
	r.Get("/campaigns", cc.ListCampaigns)
	r.Get("/campaigns/active", cc.ActiveCampaigns)
	r.Get("/campaigns/{id}", cc.GetCampaignDetails)
	r.Post("/campaigns/{id}/personalized-preview", cc.PersonalizedPreview)
	r.Post("/campaigns/{id}/start", cc.StartCampaign)
	r.Post("/campaigns/{id}/pause", cc.PauseCampaign)
	r.Post("/campaigns/{id}/stop", cc.StopCampaign)

	// Linked sessions
	r.Post("/sessions", sc.Connect)
	r.Get("/sessions/{id}", sc.Status)
	r.Delete("/sessions/{id}", sc.Disconnect)

	if ws.Sessions != nil {
		r.Method(http.MethodGet, "/ws/sessions", ws.Sessions)
	}
	if ws.Campaigns != nil {
		r.Method(http.MethodGet, "/ws/campaigns/{id}", ws.Campaigns)
	}
	return r
}
