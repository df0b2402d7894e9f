package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ndopj/tesp-api-go/internal/events"
	"github.com/ndopj/tesp-api-go/internal/metrics"
	"github.com/ndopj/tesp-api-go/internal/repository"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It
// is populated in main.go after every component is wired, and passed to
// NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	Tasks      repository.TaskRepository
	Dispatcher *events.Dispatcher
	Logger     *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. Routes are
// registered under the GA4GH TES path prefix.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	taskHandler := NewTaskHandler(cfg.Tasks, cfg.Dispatcher, cfg.Logger)

	r.Handle("/metrics", metrics.Handler())

	r.Get("/ga4gh/tes/v1/service-info", ServiceInfo)

	r.Post("/ga4gh/tes/v1/tasks", taskHandler.Create)
	r.Get("/ga4gh/tes/v1/tasks", taskHandler.List)
	r.Get("/ga4gh/tes/v1/tasks/{id}", taskHandler.GetByID)
	r.Post("/ga4gh/tes/v1/tasks/{id}:cancel", taskHandler.Cancel)

	return r
}
