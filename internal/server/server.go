package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/nlsql/internal/metrics"
)

const (
	MessageValidationFailed = "Internal error, please try again."
	MessageUnexpectedFault  = "Internal error with the server. Check your internet connection and try again."
	MessageBadRequest       = "Invalid request body."

	maxRequestBytes = 64 << 10
)

//go:embed static
var staticFS embed.FS

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Result string `json:"result"`
}

type Server struct {
	log  *slog.Logger
	cfg  *Config
	mcp  *mcp.Server
	http *http.Server
}

func New(cfg *Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "nlsql",
			Version: cfg.Version,
		}, nil),
	}

	if err := RegisterAskTool(s.log, s.mcp, cfg.Runner); err != nil {
		return nil, fmt.Errorf("failed to create ask tool: %w", err)
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	r.Post("/api/query", s.handleQuery)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)

	return r
}

// Run serves on listener, or on the configured address when listener is nil,
// until ctx is done.
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
		}
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "listenAddr", listener.Addr().String())

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		s.log.Error("failed to read index page", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		s.log.Error("failed to write index page", "error", err)
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.log.Debug("server: invalid query request", "error", err)
		s.writeResult(w, http.StatusBadRequest, MessageBadRequest)
		return
	}

	// The run is not cancelled when the client goes away.
	st, err := s.cfg.Runner.Run(context.WithoutCancel(r.Context()), req.Query)
	if err != nil {
		s.log.Error("server: query failed", "requestID", middleware.GetReqID(r.Context()), "error", err)
		s.writeResult(w, http.StatusInternalServerError, MessageUnexpectedFault)
		return
	}
	if st.Error != "" {
		s.writeResult(w, http.StatusInternalServerError, MessageValidationFailed)
		return
	}
	s.writeResult(w, http.StatusOK, st.Result)
}

func (s *Server) writeResult(w http.ResponseWriter, status int, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(QueryResponse{Result: result}); err != nil {
		s.log.Error("failed to write query response", "error", err)
	}
}
