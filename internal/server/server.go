package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"crisis-engine/internal/config"
	"crisis-engine/internal/engine"
	"crisis-engine/internal/events"
	"crisis-engine/internal/handler"
	"crisis-engine/internal/middleware"
	"crisis-engine/internal/scheduler"
	"crisis-engine/internal/service"
)

type Server struct {
	router *gin.Engine
	cfg    *config.Config
	engine *engine.Engine
	sched  *scheduler.Scheduler
	bus    *events.Bus
	log    *zap.Logger
}

func NewServer(cfg *config.Config, e *engine.Engine, sched *scheduler.Scheduler, bus *events.Bus, log *zap.Logger) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))

	s := &Server{
		router: router,
		cfg:    cfg,
		engine: e,
		sched:  sched,
		bus:    bus,
		log:    log,
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	subjects := handler.NewSubjectHandler(s.engine, s.sched, s.log)
	reviews := handler.NewReviewHandler(s.engine, s.log)
	monitoring := handler.NewMonitoringHandler(s.engine, s.bus, s.cfg.Events.BufferSize, s.log)
	auth := handler.NewAuthHandler(service.NewAuthService(s.cfg.ReviewerHashes(), s.cfg.Auth.JWTSecret, s.cfg.TokenTTL(), s.log), s.log)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/api/v1/auth/login", auth.Login)

	api := s.router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(s.cfg.Auth.JWTSecret, s.log))
	{
		api.GET("/subjects", subjects.ListSubjects)
		api.GET("/subjects/:id/assessment", subjects.GetAssessment)
		api.GET("/subjects/:id/history", subjects.GetHistory)
		api.GET("/subjects/:id/trend", subjects.GetTrend)
		api.GET("/subjects/:id/escalation", subjects.GetEscalation)
		api.POST("/subjects/:id/escalation/resolve", subjects.ResolveEscalation)
		api.GET("/subjects/:id/ethics", subjects.GetEthicalStatus)
		api.GET("/subjects/:id/reviews", reviews.ListSubjectReviews)
		api.POST("/subjects/:id/assess", subjects.Assess)
		api.POST("/subjects/:id/schedule", subjects.Schedule)
		api.DELETE("/subjects/:id/schedule", subjects.Unschedule)

		api.POST("/assessments/:id/review", reviews.RequestReview)
		api.POST("/assessments/:id/false-positive", reviews.ReportFalsePositive)
		api.GET("/reviews/pending", reviews.ListPending)
		api.POST("/reviews/:id/verdict", reviews.RecordVerdict)

		api.GET("/performance", monitoring.GetPerformance)
		api.GET("/dashboard", monitoring.GetDashboard)
		api.GET("/events", monitoring.StreamEvents)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", zap.String("addr", s.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
