package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	// AuthMiddleware guards every route except /healthz. Nil means no guard.
	AuthMiddleware func(http.Handler) http.Handler
}

// NewRouter constructs the shell HTTP router.
func NewRouter(api *Server) http.Handler {
	return NewRouterWithOptions(api, RouterOptions{})
}

func NewRouterWithOptions(api *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.AuthMiddleware != nil {
		r.Use(opts.AuthMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/onboarding", api.GetOnboarding)
		r.Get("/location/radii", api.ListRadii)

		r.Get("/session", api.GetSession)
		r.Post("/session/sign-in", api.SignIn)
		r.Post("/session/sign-up", api.SignUp)
		r.Post("/session/sign-out", api.SignOut)

		r.Group(func(r chi.Router) {
			r.Use(api.requireSession)

			r.Get("/profile", api.GetProfile)
			r.Patch("/profile", api.UpdateProfile)

			r.Post("/location/detect", api.DetectLocation)
			r.Post("/location/manual", api.ManualLocation)
			r.Post("/location/place", api.SelectPlace)
			r.Post("/location/pin", api.PickOnMap)
			r.Post("/location/current", api.UseCurrentLocation)
			r.Post("/location", api.SubmitLocation)
		})
	})
	return r
}
