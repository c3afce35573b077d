package routes

import (
	"net/http"
	"time"

	"deskchat/deskchat/config"
	"deskchat/deskchat/controllers"
	"deskchat/deskchat/middlewares"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Deps struct {
	Config config.Config
	Auth   *controllers.AuthController
	Chats  *controllers.ChatController
	Health *controllers.HealthController
	// Live serves the websocket endpoint; it also receives REST close events
	// when it implements ChatEvents.
	Live http.Handler
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Mount("/health", HealthRoutes(d.Health))

	events, _ := d.Live.(ChatEvents)
	r.Route("/api", func(api chi.Router) {
		// long-lived, so outside the request timeout
		if d.Live != nil {
			api.Get("/ws", d.Live.ServeHTTP)
		}
		api.Group(func(rest chi.Router) {
			rest.Use(middleware.Timeout(60 * time.Second))
			rest.Mount("/auth", AuthRoutes(d.Auth))
			rest.Mount("/chat", ChatRoutes(d.Chats, events, d.Config))
			rest.Mount("/chats", ChatsRoutes(d.Chats, d.Config))
		})
	})
	return r
}
