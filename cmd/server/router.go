package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskrelay/internal/api"
	apiMiddleware "github.com/phrazzld/taskrelay/internal/api/middleware"
)

// notificationsPath is where clients open their websocket session.
const notificationsPath = "/ws/notifications"

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.registry, app.bus, app.config.Redis.TasksChannel, app.logger)
	diagnosticsHandler := api.NewDiagnosticsHandler(app.bus, app.hub, app.logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)

	r.Handle(notificationsPath, app.gateway)

	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/diagnostics/bus", diagnosticsHandler.BusHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Post("/tasks/{task_type}", taskHandler.SubmitTask)
			r.Post("/diagnostics/groups/{user_id}", diagnosticsHandler.SendToGroup)
		})
	})

	r.Get("/health", diagnosticsHandler.Health)

	return r
}
