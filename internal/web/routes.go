package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/facesnap/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	facesHandler := handlers.NewFacesHandler(s.engine, s.search)
	verifyHandler := handlers.NewVerifyHandler(s.engine)
	clustersHandler := handlers.NewClustersHandler(s.store)
	eventsHandler := handlers.NewEventsHandler(s.store, s.search)
	policyHandler := handlers.NewPolicyHandler(s.engine)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)

		// Policy
		r.Get("/policy", policyHandler.Get)
		r.Put("/policy", policyHandler.Update)

		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/stats", eventsHandler.Stats)
			r.Delete("/", eventsHandler.Delete)

			// Faces
			r.Post("/faces", facesHandler.Assign)
			r.Post("/faces/similar", facesHandler.Similar)
			r.Post("/verify", verifyHandler.Verify)

			// Clusters
			r.Get("/clusters", clustersHandler.List)
			r.Get("/clusters/{clusterID}", clustersHandler.Get)
			r.Get("/clusters/{clusterID}/faces", clustersHandler.Faces)
		})
	})
}
