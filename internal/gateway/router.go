package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIPrefix is the version prefix shared with the upstream API.
const APIPrefix = "/api/v9"

func (g *Gateway) setupRoutes() http.Handler {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(instrument)

	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(chimw.Recoverer)

	if len(g.cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   g.cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderRequestID},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Operational endpoints
	r.Get("/health", g.handleHealth)
	r.Get("/stats", g.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	// Upload form for clients without multipart support of their own
	r.Get("/upload", g.handleUploadForm)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Get("/users/@me", g.transcoded(staticPath("/users/@me"), nil, g.transcoder.SelfUser))
		r.Get("/users/@me/guilds", g.transcoded(staticPath("/users/@me/guilds"), nil, g.transcoder.Guilds))
		r.Get("/users/@me/channels", g.transcoded(staticPath("/users/@me/channels"), nil, g.transcoder.DMChannels))

		r.Get("/guilds/{guild}/channels", g.transcoded(paramPath("/guilds/%s/channels", "guild"), nil, g.transcoder.Channels))
		r.Get("/guilds/{guild}/members/{member}", g.transcoded(paramPath("/guilds/%s/members/%s", "guild", "member"), nil, g.transcoder.Member))
		r.Get("/guilds/{guild}/roles", g.transcoded(paramPath("/guilds/%s/roles", "guild"), nil, g.transcoder.Roles))

		r.Get("/channels/{channel}/messages", g.transcoded(paramPath("/channels/%s/messages", "channel"), messageQuery, g.transcoder.Messages))
		r.Post("/channels/{channel}/messages", g.forward(http.MethodPost, paramPath("/channels/%s/messages", "channel"), true))
		r.Post("/channels/{channel}/upload", g.handleUpload)
		r.Post("/channels/{channel}/messages/{message}/ack", g.forward(http.MethodPost, paramPath("/channels/%s/messages/%s/ack", "channel", "message"), true))

		// Verb shims: the client cannot issue PATCH or DELETE.
		r.Post("/channels/{channel}/messages/{message}/edit", g.forward(http.MethodPatch, paramPath("/channels/%s/messages/%s", "channel", "message"), true))
		r.Get("/channels/{channel}/messages/{message}/delete", g.forward(http.MethodDelete, paramPath("/channels/%s/messages/%s", "channel", "message"), false))
	})

	if dir := g.cfg.Server.StaticDir; dir != "" {
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	}

	return r
}
