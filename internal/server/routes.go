package server

import (
	"github.com/nulzo/model-gateway/internal/server/middleware"
	v1 "github.com/nulzo/model-gateway/internal/server/v1"
)

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.config.Server.APIKeys))
	if s.config.RateLimit.RequestsPerSecond > 0 {
		limiter := middleware.NewRateLimiter(
			s.config.RateLimit.RequestsPerSecond,
			s.config.RateLimit.Burst,
			s.logger,
		)
		api.Use(limiter.Middleware())
	}
	{
		chatHandler := v1.NewChatHandler(s.service)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		modelHandler := v1.NewModelHandler(s.registry)
		api.GET("/models", modelHandler.ListModels)
	}
}
