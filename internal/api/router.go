package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/courseforge/internal/api/handlers"
	"github.com/felixgeelhaar/courseforge/internal/api/middleware"
	"github.com/felixgeelhaar/courseforge/internal/engine"
	"github.com/felixgeelhaar/courseforge/internal/generator"
)

// RouterConfig holds what the router needs. Imports and Results are
// optional; without them asynchronous imports answer 503 and import
// lookups 404.
type RouterConfig struct {
	Engine    handlers.Engine
	Generator generator.Generator
	Imports   handlers.ImportQueue
	Results   handlers.ImportResults
	Retry     engine.RetryConfig
	Ready     func(ctx context.Context) map[string]error

	// RateLimit disables rate limiting when nil
	RateLimit *middleware.RateLimitConfig
}

// Router wraps the HTTP multiplexer with middleware and handlers
type Router struct {
	mux      *http.ServeMux
	cfg      RouterConfig
	learner  *handlers.LearnerHandler
	course   *handlers.CourseHandler
	project  *handlers.ProjectHandler
	folder   *handlers.FolderHandler
	imports  *handlers.ImportHandler
	limiters []*middleware.RateLimiter
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux: http.NewServeMux(),
		cfg: cfg,
	}

	r.learner = handlers.NewLearnerHandler(cfg.Engine, cfg.Retry)
	r.course = handlers.NewCourseHandler(cfg.Engine, cfg.Generator, cfg.Retry)
	if cfg.Imports != nil {
		r.course.SetImportQueue(cfg.Imports)
	}
	r.project = handlers.NewProjectHandler(cfg.Engine, cfg.Generator, cfg.Retry)
	r.folder = handlers.NewFolderHandler(cfg.Engine, cfg.Retry)
	if cfg.Results != nil {
		r.imports = handlers.NewImportHandler(cfg.Results)
	}

	r.registerRoutes()
	return r
}

// NewRouterFromApp builds a router over a wired App.
func NewRouterFromApp(app *App, rateLimit *middleware.RateLimitConfig) *Router {
	cfg := RouterConfig{
		Engine:    app.Engine,
		Generator: app.Generator,
		Retry:     app.Retry,
		Ready:     app.Ready,
		RateLimit: rateLimit,
	}
	if app.Producer != nil {
		cfg.Imports = app.Producer
	}
	if app.Results != nil {
		cfg.Results = app.Results
	}
	return NewRouter(cfg)
}

func (r *Router) registerRoutes() {
	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /ready", r.handleReady)

	auth := middleware.RequireLearner

	// Learner
	r.mux.HandleFunc("POST /api/v1/me", auth(r.learner.Ensure))
	r.mux.HandleFunc("GET /api/v1/me", auth(r.learner.Get))
	r.mux.HandleFunc("POST /api/v1/me/reset", auth(r.learner.Reset))
	r.mux.HandleFunc("GET /api/v1/me/consistency", auth(r.learner.Consistency))

	// Courses
	r.mux.HandleFunc("POST /api/v1/courses", auth(r.generateLimited(r.course.Create)))
	r.mux.HandleFunc("DELETE /api/v1/courses/{id}", auth(r.course.Delete))
	r.mux.HandleFunc("POST /api/v1/courses/{id}/lessons/{unit}/toggle", auth(r.course.ToggleLesson))
	r.mux.HandleFunc("POST /api/v1/courses/{id}/import", auth(r.course.Import))
	r.mux.HandleFunc("PUT /api/v1/courses/{id}/folder", auth(r.course.Move))

	// Projects
	r.mux.HandleFunc("POST /api/v1/projects", auth(r.generateLimited(r.project.Create)))
	r.mux.HandleFunc("DELETE /api/v1/projects/{id}", auth(r.project.Delete))
	r.mux.HandleFunc("POST /api/v1/projects/{id}/steps/{step}/toggle", auth(r.project.ToggleStep))

	// Folders
	r.mux.HandleFunc("POST /api/v1/folders", auth(r.folder.Create))
	r.mux.HandleFunc("PATCH /api/v1/folders/{id}", auth(r.folder.Rename))
	r.mux.HandleFunc("DELETE /api/v1/folders/{id}", auth(r.folder.Delete))

	// Imports
	if r.imports != nil {
		r.mux.HandleFunc("GET /api/v1/imports/{id}", auth(r.imports.Get))
	}
}

// generateLimited applies the stricter content generation limit.
func (r *Router) generateLimited(next http.HandlerFunc) http.HandlerFunc {
	if r.cfg.RateLimit == nil {
		return next
	}
	rl := r.cfg.RateLimit
	limiter := middleware.NewRateLimiter(rl.GenerateRequestsPerMinute, time.Minute, rl.GenerateRequestsPerMinute*rl.BurstMultiplier)
	r.limiters = append(r.limiters, limiter)
	return middleware.RateLimitMiddleware(limiter)(next).ServeHTTP
}

// Handler returns the router wrapped in the middleware chain
func (r *Router) Handler() http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	var handler http.Handler = r.mux
	handler = middleware.Recovery(handler)
	handler = middleware.Logger(handler)

	if rl := r.cfg.RateLimit; rl != nil {
		limiter := middleware.NewRateLimiter(rl.RequestsPerMinute, time.Minute, rl.RequestsPerMinute*rl.BurstMultiplier)
		r.limiters = append(r.limiters, limiter)
		handler = middleware.RateLimitMiddleware(limiter)(handler)
	}

	handler = middleware.RequestID(handler)
	handler = middleware.CORS(handler)

	return handler
}

// Close stops the rate limiters
func (r *Router) Close() {
	for _, l := range r.limiters {
		_ = l.Close()
	}
}

// Health check handlers
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK

	if r.cfg.Ready != nil {
		for name, err := range r.cfg.Ready(req.Context()) {
			if err != nil {
				slog.Error("readiness check failed",
					"check", name,
					"error", err,
					"request_id", middleware.GetRequestID(req.Context()),
				)
				checks[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "healthy"
		}
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	handlers.WriteJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}
