package signage

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Route binds one method and chi path pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
	// Limited routes are wrapped with HandlerOptions.HeartbeatLimiter.
	Limited bool
}

// Routes returns the full route table. Path parameters are read by name:
// store_id, file, side, and the media wildcard.
func (h *Handler) Routes() []Route {
	return []Route{
		{Method: http.MethodGet, Pattern: "/", Handler: h.Health},
		{Method: http.MethodGet, Pattern: "/meta", Handler: h.Meta},

		{Method: http.MethodGet, Pattern: "/stores", Handler: h.ListStores},
		{Method: http.MethodPost, Pattern: "/stores", Handler: h.CreateStore},
		{Method: http.MethodGet, Pattern: "/stores/{store_id}", Handler: h.GetStore},
		{Method: http.MethodGet, Pattern: "/stores/{store_id}/left", Handler: h.ListLeft},
		{Method: http.MethodPost, Pattern: "/stores/{store_id}/left", Handler: h.UploadLeft},
		{Method: http.MethodDelete, Pattern: "/stores/{store_id}/left/{file}", Handler: h.DeleteLeft},
		{Method: http.MethodGet, Pattern: "/stores/{store_id}/playlist/{side}", Handler: h.StorePlaylist},
		{Method: http.MethodPost, Pattern: "/stores/{store_id}/refresh", Handler: h.RefreshPlaylists},
		{Method: http.MethodPost, Pattern: "/stores/{store_id}/heartbeat", Handler: h.StoreHeartbeat, Limited: true},
		{Method: http.MethodGet, Pattern: "/stores/{store_id}/status", Handler: h.StoreStatus},

		{Method: http.MethodGet, Pattern: "/common/right", Handler: h.ListRight},
		{Method: http.MethodPost, Pattern: "/common/right", Handler: h.UploadRight},
		{Method: http.MethodPut, Pattern: "/common/right/meta", Handler: h.UpdateRightMeta},
		{Method: http.MethodGet, Pattern: "/common/right/playlist", Handler: h.RightPlaylist},
		{Method: http.MethodDelete, Pattern: "/common/right/{file}", Handler: h.DeleteRight},

		{Method: http.MethodPost, Pattern: "/tv/heartbeat", Handler: h.TVHeartbeat, Limited: true},
		{Method: http.MethodGet, Pattern: "/tv/status", Handler: h.LegacyStatus},

		// Legacy player URLs.
		{Method: http.MethodPost, Pattern: "/heartbeat", Handler: h.LegacyHeartbeat, Limited: true},
		{Method: http.MethodGet, Pattern: "/status", Handler: h.LegacyStatus},
		{Method: http.MethodGet, Pattern: "/playlist.json", Handler: h.LegacyPlaylist},

		{Method: http.MethodGet, Pattern: "/media/*", Handler: h.Media},
	}
}

// Register adds every route to r.
func (h *Handler) Register(r chi.Router) {
	for _, rt := range h.Routes() {
		if rt.Limited && h.opts.HeartbeatLimiter != nil {
			r.With(h.opts.HeartbeatLimiter).Method(rt.Method, rt.Pattern, rt.Handler)
			continue
		}
		r.Method(rt.Method, rt.Pattern, rt.Handler)
	}
}

// Mount registers the route table at the root of r and again under /api,
// the prefix older admin and player builds use.
func (h *Handler) Mount(r chi.Router) {
	r.Group(h.Register)
	r.Route("/api", h.Register)
}
