package internal

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"tubechat/internal/storage"
)

// ServerOptions configures the HTTP surface.
type ServerOptions struct {
	// WSPath is where websocket upgrades are accepted.
	WSPath string
	// HTTPRateLimit is requests per minute per client IP on /api. Zero disables it.
	HTTPRateLimit int
}

// Server exposes the websocket endpoint and the read-side HTTP API.
type Server struct {
	hub      *Hub
	store    *storage.Store
	validate *validator.Validate
	opts     ServerOptions
}

func NewServer(hub *Hub, store *storage.Store, opts ServerOptions) *Server {
	if opts.WSPath == "" {
		opts.WSPath = "/join"
	}
	validate := validator.New()
	// notblank rejects whitespace-only strings that pass required.
	_ = validate.RegisterValidation("notblank", validators.NotBlank)
	return &Server{
		hub:      hub,
		store:    store,
		validate: validate,
		opts:     opts,
	}
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HandleHealth)
	r.Method(http.MethodGet, "/metrics", s.hub.Metrics())
	r.Get(s.opts.WSPath, func(w http.ResponseWriter, req *http.Request) {
		ServeWS(s.hub, w, req)
	})

	r.Route("/api", func(api chi.Router) {
		if s.opts.HTTPRateLimit > 0 {
			api.Use(httprate.Limit(s.opts.HTTPRateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		api.Get("/channels/{channelID}/messages", s.HandleChannelMessages)
		api.Post("/communities", s.HandleCreateCommunity)
		api.Get("/communities/{communityID}/channels", s.HandleCommunityChannels)
		api.Get("/communities/{communityID}/online", s.HandleOnlineUsers)
		api.Post("/communities/{communityID}/video-channels", s.HandleCreateVideoChannel)
	})
	return r
}
