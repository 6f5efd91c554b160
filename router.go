package devicepair

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router mounts the pairing endpoints. Requests that match no route are
// passed to static, which serves the pairing UI; a nil static answers 404.
func (b *Broker) Router(static http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(b.metrics().Middleware(routePattern))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, pairingPagePath, http.StatusTemporaryRedirect)
	})
	r.Get("/code", b.GenerateCode())
	r.Post("/login", b.Login())
	r.Get(CallbackPath, b.AuthCallback())
	r.Get("/poll-token", b.PollToken())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	if static != nil {
		r.NotFound(static.ServeHTTP)
	}
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "static"
}
