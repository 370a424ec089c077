package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mindgraph-backend/application/recommendations"
	"mindgraph-backend/application/services"
	"mindgraph-backend/infrastructure/config"
	"mindgraph-backend/interfaces/http/rest/handlers"
	"mindgraph-backend/interfaces/http/rest/middleware"
	apperrors "mindgraph-backend/pkg/errors"
)

// Router wires the HTTP surface: graph, node, edge, cluster,
// recommendation, and import endpoints under /api/v1.
type Router struct {
	cfg        *config.Config
	tunables   *config.Watcher
	graphs     *services.GraphService
	clusters   *services.ClusterService
	imports    *services.ImportService
	recommends *recommendations.Dispatcher
	logger     *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(
	cfg *config.Config,
	tunables *config.Watcher,
	graphs *services.GraphService,
	clusters *services.ClusterService,
	imports *services.ImportService,
	recommends *recommendations.Dispatcher,
	logger *zap.Logger,
) *Router {
	return &Router{
		cfg:        cfg,
		tunables:   tunables,
		graphs:     graphs,
		clusters:   clusters,
		imports:    imports,
		recommends: recommends,
		logger:     logger,
	}
}

// Setup configures all routes and middleware.
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	if rt.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"http://localhost:3000"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler())
	}

	errorHandler := apperrors.NewErrorHandler(rt.logger, rt.cfg.IsDevelopment())
	graphHandler := handlers.NewGraphHandler(rt.graphs, rt.clusters, rt.recommends, errorHandler, rt.logger)
	nodeHandler := handlers.NewNodeHandler(rt.graphs, rt.imports, errorHandler, rt.logger)
	edgeHandler := handlers.NewEdgeHandler(rt.graphs, errorHandler, rt.logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.cfg, rt.tunables, rt.logger))

		r.Route("/graph", func(r chi.Router) {
			r.Get("/", graphHandler.GetGraph)
			r.Delete("/", graphHandler.ClearGraph)
			r.Post("/cluster", graphHandler.CalculateCluster)
			r.Post("/recommendations/{method}", graphHandler.GetRecommendations)
		})

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", nodeHandler.CreateNode)
			r.Patch("/{nodeID}", nodeHandler.UpdateNode)
			r.Delete("/{nodeID}", nodeHandler.DeleteNode)
			r.Post("/bulk-delete", nodeHandler.BulkDeleteNodes)
			r.Post("/import", nodeHandler.ImportNodes)
		})

		r.Route("/edges", func(r chi.Router) {
			r.Post("/", edgeHandler.CreateEdge)
			r.Put("/", edgeHandler.UpdateEdge)
			r.Delete("/", edgeHandler.DeleteEdge)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (rt *Router) readinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
