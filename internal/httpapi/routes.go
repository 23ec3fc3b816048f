package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes mounts the API. ws is the websocket endpoint for /ws.
func SetupRoutes(a *API, ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(a.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Handle("/ws", ws)

	r.Route("/surfaces", func(r chi.Router) {
		r.Post("/", a.CreateSurface)
		r.Get("/", a.ListSurfaces)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.GetSurface)
			r.Delete("/", a.DeleteSurface)
			r.Post("/logout", a.Logout)
			r.Post("/path", a.ReportPath)
			r.Post("/scan", a.Scan)
			r.Get("/journal", a.Journal)
		})
	})

	r.Post("/register", a.Register)

	r.Route("/api", func(r chi.Router) {
		r.Get("/dashboard-data", a.DashboardData)
		r.Get("/bin-status", a.BinStatus)
		r.Post("/bin-update", a.UpdateBin)
		r.Post("/chat", a.Chat)
		r.Get("/leaderboard", a.Leaderboard)
	})
	return r
}
