package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tokengate-io/tokengate/internal/authorizer"
	"github.com/tokengate-io/tokengate/internal/config"
)

type Api struct {
	Config     config.Config
	Router     *chi.Mux
	authorizer *authorizer.Authorizer
	tokens     *ServiceTokenManager
	logger     *zap.Logger
}

func NewApi(cfg config.Config, authz *authorizer.Authorizer, logger *zap.Logger) (*Api, error) {
	if authz == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api := &Api{
		Config:     cfg,
		Router:     chi.NewRouter(),
		authorizer: authz,
		tokens:     NewServiceTokenManager(cfg.Service.AdminSecret),
		logger:     logger,
	}

	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Heartbeat("/heartbeat"))

	// Public action routes
	r.Post("/actions/request", api.RequestActionHandler)
	r.Post("/actions/resend", api.ResendActionHandler)
	r.Post("/actions/complete", api.CompleteActionHandler)

	// Internal routes for operators and sibling services
	r.Group(func(r chi.Router) {
		r.Use(api.ServiceAuthMiddleware)
		r.Post("/admin/invalidate", api.InvalidateHandler)
	})
}

func (api *Api) Serve() error {
	addr := fmt.Sprintf("0.0.0.0:%d", api.Config.APIPort)
	api.logger.Info("starting API server", zap.String("addr", addr))
	return http.ListenAndServe(addr, api.Router)
}
