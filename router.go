package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"wallora-server/core"
	"wallora-server/handlers/api/ai"
	"wallora-server/handlers/api/rooms"
	"wallora-server/handlers/api/sessions"
	"wallora-server/handlers/api/snapshots"
	"wallora-server/handlers/auth"
	"wallora-server/handlers/websocket"
	authMiddleware "wallora-server/middleware"
)

// server bundles what the router needs. hub and remover may be nil.
type server struct {
	store          core.SessionStore
	auth           *auth.Service
	hub            *websocket.Hub
	remover        ai.BackgroundRemover
	allowedOrigins []string
	thumbnailWidth int
}

func setupRouter(s server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "If-Match", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	saver := &sessions.Saver{Store: s.store, ThumbnailWidth: s.thumbnailWidth}
	var active func() map[string]int
	if s.hub != nil {
		saver.Notifier = s.hub
		active = s.hub.ActiveRooms
	}
	registry, _ := s.store.(core.RoomRegistry)
	snapshotStore, hasSnapshots := s.store.(core.SnapshotStore)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/ai/status", ai.HandleStatus(s.remover))

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT(s.auth))

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessions.HandleListSessions(s.store))
				r.Post("/", sessions.HandleCreateSession(saver))
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", sessions.HandleGetSession(s.store))
					r.Put("/", sessions.HandleUpdateSession(saver))
					r.Delete("/", sessions.HandleDeleteSession(s.store))
					r.Get("/share", sessions.HandleGetShare(s.store))
					r.Put("/share", sessions.HandlePutShare(s.store))
					r.Post("/arrange", sessions.HandleArrange(saver))
					r.Get("/thumbnail", sessions.HandleGetThumbnail(s.store, s.thumbnailWidth))

					if hasSnapshots {
						r.Route("/snapshots", func(r chi.Router) {
							r.Get("/", snapshots.HandleListSnapshots(s.store, snapshotStore))
							r.Post("/", snapshots.HandleCreateSnapshot(s.store, snapshotStore))
							r.Get("/{snapshotId}", snapshots.HandleGetSnapshot(s.store, snapshotStore))
							r.Delete("/{snapshotId}", snapshots.HandleDeleteSnapshot(s.store, snapshotStore))
							r.Post("/{snapshotId}/restore", snapshots.HandleRestoreSnapshot(saver, snapshotStore))
						})
					}
				})
			})

			r.Get("/rooms", rooms.HandleListRooms(s.store, registry, active))

			r.Route("/ai", func(r chi.Router) {
				r.Post("/layout-suggestions", ai.HandleLayoutSuggestions())
				r.Post("/analyze", ai.HandleAnalyze())
				r.Post("/remove-background", ai.HandleRemoveBackground(s.remover))
			})
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", s.auth.HandleLogin)
		r.Get("/callback", s.auth.HandleCallback)
	})

	if s.hub != nil {
		r.Mount("/socket.io/", s.hub.Server().ServeHandler(nil))
	}

	return r
}
