package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/taxidash/taxidash/internal/server"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Logger       *slog.Logger
}

// Server is the API server: an echo instance with the taxidash routes and
// middleware, served through a server.GracefulHTTPServer.
type Server struct {
	echo     *echo.Echo
	graceful *server.GracefulHTTPServer
}

// NewServer builds the server. When sm is nil the server has no
// graceful-shutdown wiring and Start must not be called; the handler can
// still be served with ServeHTTP.
func NewServer(h *Handler, cfg ServerConfig, sm *server.ShutdownManager) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	if sm != nil {
		e.Use(server.ShutdownMiddleware(sm))
	}
	e.Use(DefaultMiddleware(logger)...)
	h.RegisterRoutes(e)

	s := &Server{echo: e}
	if sm != nil {
		e.Server = &http.Server{
			Addr:         cfg.Addr,
			Handler:      e,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		}
		s.graceful = server.NewGracefulHTTPServer(e.Server, sm)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until the shutdown manager stops the server.
func (s *Server) Start() error {
	return s.graceful.ListenAndServe()
}
