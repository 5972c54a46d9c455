// Package www serves the admin JSON API over the engine's synchronous
// operations.
package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"intellikeeper/engine"
)

type Handlers struct {
	engine *engine.Engine
}

func NewRouter(eng *engine.Engine) http.Handler {
	h := &Handlers{engine: eng}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Handle("/metrics", eng.Metrics().Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealthCheck)
		r.Get("/dispatch/stats", h.apiDispatchStats)

		r.Post("/tags/{id}/test-callback", h.apiTestCallback)
		r.Post("/tags/{id}/find", h.apiFindTag)
		r.Post("/tags/{id}/sync", h.apiSyncTag)
		r.Put("/tags/{id}/status", h.apiSetTagStatus)
		r.Get("/tags/{id}/path", h.apiTagPath)
		r.Get("/tags/{id}/events", h.apiTagEvents)
		r.Get("/tags/{id}/last-seen", h.apiTagLastSeen)

		r.Post("/triggers/{id}/test", h.apiTestTrigger)
		r.Put("/triggers/{id}/status", h.apiSetTriggerStatus)

		r.Put("/callbacks/{id}/status", h.apiSetCallbackStatus)

		r.Get("/categories/{id}/tags", h.apiCategoryTags)

		r.Put("/devices/{id}/status", h.apiSetDeviceStatus)
		r.Get("/devices/{id}/online", h.apiOnlineTags)
		r.Post("/devices/{id}/readers", h.apiRegisterReaders)
		r.Post("/devices/{id}/readers/request", h.apiRequestReaders)
		r.Post("/devices/{id}/batches", h.apiReconcileBatch)
	})

	return r
}
