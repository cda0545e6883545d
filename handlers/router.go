// unadulting/handlers/router.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(app App) *chi.Mux {
	mux := chi.NewRouter()

	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(NewStructuredLogger(app.Logger()))
	mux.Use(middleware.Recoverer)
	mux.Use(SessionMiddleware(app))
	mux.Use(RateLimitMiddleware(app))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
	})

	mux.Route("/api", func(r chi.Router) {
		r.Get("/categories", MakeHandler(app, HandleListCategories))

		r.Get("/topics", MakeHandler(app, HandleListTopics))
		r.Post("/topics", MakeHandler(app, HandleCreateTopic))
		r.Get("/topics/{topicID}", MakeHandler(app, HandleGetTopic))
		r.Delete("/topics/{topicID}", MakeHandler(app, HandleDeleteTopic))
		r.Post("/topics/{topicID}/vote", MakeHandler(app, HandleVoteTopic))
		r.Post("/topics/{topicID}/posts", MakeHandler(app, HandleCreatePost))

		r.Put("/posts/{postID}", MakeHandler(app, HandleUpdatePost))
		r.Delete("/posts/{postID}", MakeHandler(app, HandleDeletePost))

		r.Get("/votes", MakeHandler(app, HandleListVotes))
		r.Post("/reports", MakeHandler(app, HandleCreateReport))

		r.Get("/preferences/text-size", MakeHandler(app, HandleGetTextSize))
		r.Put("/preferences/text-size", MakeHandler(app, HandleSetTextSize))

		r.Post("/auth/signup", MakeHandler(app, HandleSignUp))
		r.Post("/auth/signin", MakeHandler(app, HandleSignIn))
		r.Post("/auth/signout", MakeHandler(app, HandleSignOut))
		r.Post("/auth/reset-request", MakeHandler(app, HandleRequestPasswordReset))
		r.Post("/auth/reset", MakeHandler(app, HandleResetPassword))
		r.Post("/auth/password", MakeHandler(app, HandleUpdatePassword))
	})

	// Moderation handlers
	mux.Route("/mod", func(r chi.Router) {
		r.Use(RequireModerator(app))
		r.Get("/pending", MakeHandler(app, HandleModPending))
		r.Get("/reports", MakeHandler(app, HandleModReports))
		r.Get("/audit", MakeHandler(app, HandleModAudit))
		r.Post("/approve", MakeHandler(app, HandleModApprove))
		r.Post("/delete-topic", MakeHandler(app, HandleModDeleteTopic))
		r.Post("/toggle-pin", MakeHandler(app, HandleModTogglePin))
		r.Post("/toggle-lock", MakeHandler(app, HandleModToggleLock))
		r.Post("/resolve-report", MakeHandler(app, HandleModResolveReport))
		r.Post("/delete-post", MakeHandler(app, HandleModDeletePost))
	})

	return mux
}
