package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pulsegate/internal/app/server/handlers"
	"pulsegate/internal/config"
	"pulsegate/internal/core/contracts"
	"pulsegate/internal/core/services"
	"pulsegate/pkg/middleware"
)

// Gateway builds the one gateway server for this process. Construction is
// idempotent: repeated Build calls return the instance created first.
type Gateway struct {
	once sync.Once
	srv  *Server
}

func NewGateway() *Gateway {
	return &Gateway{}
}

func (g *Gateway) Build(
	log *slog.Logger,
	cfg *config.Config,
	hub contracts.Registry,
	tokenSvc *services.TokenService,
	dispatch *services.DispatchService,
) *Server {
	g.once.Do(func() {
		g.srv = newServer(log, cfg, hub, tokenSvc, dispatch)
	})
	return g.srv
}

type Server struct {
	mux        *http.ServeMux
	addr       string
	log        *slog.Logger
	httpServer *http.Server
}

func newServer(
	log *slog.Logger,
	cfg *config.Config,
	hub contracts.Registry,
	tokenSvc *services.TokenService,
	dispatch *services.DispatchService,
) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		addr: cfg.Service.Addr,
		log:  log,
	}

	devMode := cfg.Service.DevMode()
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Budget, cfg.RateLimit.Window)

	wsHandler := handlers.NewWSHandler(hub, limiter, *cfg.Gateway, devMode)
	pollHandler := handlers.NewPollHandler(hub, limiter, *cfg.Gateway)
	eventsHandler := handlers.NewEventsHandler(dispatch)

	tracer := middleware.TracerMiddleware(cfg.Service.Name)
	reqLog := middleware.RequestLogger(log)
	auth := middleware.AuthMiddleware(tokenSvc, devMode)

	// Connection attempts: tracing -> logging -> auth -> rate limit.
	connect := func(h http.HandlerFunc) http.Handler {
		return tracer(reqLog(auth(limiter.Middleware(h))))
	}
	// Ingress from the REST API: same chain minus the connection limiter.
	ingress := func(h http.HandlerFunc) http.Handler {
		return tracer(reqLog(auth(h)))
	}

	s.mux.Handle("/ws", connect(wsHandler.Handler))

	s.mux.Handle("POST /poll", connect(pollHandler.Connect))
	s.mux.Handle("GET /poll/events", tracer(reqLog(http.HandlerFunc(pollHandler.Events))))
	s.mux.Handle("POST /poll/emit", tracer(reqLog(http.HandlerFunc(pollHandler.Emit))))
	s.mux.Handle("DELETE /poll", tracer(reqLog(http.HandlerFunc(pollHandler.Disconnect))))

	s.mux.Handle("POST /internal/events/answer-adopted", ingress(eventsHandler.AnswerAdopted))
	s.mux.Handle("POST /internal/events/answer-reaction", ingress(eventsHandler.AnswerReaction))
	s.mux.Handle("POST /internal/events/badge-awarded", ingress(eventsHandler.BadgeAwarded))

	return s
}

// Handler exposes the mux, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // long polls block up to PollWait
	}
	s.log.Info("gateway listening", "addr", s.addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
