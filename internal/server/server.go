// Package server exposes the analyzer over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"github.com/nnaka2992/sqlscope/internal/report"
)

const shutdownTimeout = 5 * time.Second

// bodySlack is added to the input cap to leave room for the JSON envelope
const bodySlack = 4096

// Options configures a Server
type Options struct {
	Addr string
	// Format is the variant used when a request does not name one
	Format report.Format
	// MaxInputBytes bounds the SQL or plan text of a request
	MaxInputBytes int
	Logger        *slog.Logger
}

// Server serves the analysis endpoints
type Server struct {
	assembler *report.Assembler
	opts      Options
	logger    *slog.Logger
}

// New creates a server around an assembler
func New(assembler *report.Assembler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Format == "" {
		opts.Format = report.FormatStructural
	}
	return &Server{assembler: assembler, opts: opts, logger: logger}
}

// Router returns the HTTP routes
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "ok")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(s.limitBody)
		r.Post("/analyze", s.analyzeHandler)
		r.Post("/plan", s.planHandler)
	})
	return r
}

// Serve listens on the configured address until ctx is done, then shuts
// the server down gracefully
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// requestLogger logs every request at debug level
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.MaxInputBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, int64(s.opts.MaxInputBytes+bodySlack))
		}
		next.ServeHTTP(w, r)
	})
}

type analyzeRequest struct {
	SQL    string `json:"sql"`
	Format string `json:"format,omitempty"`
}

type planRequest struct {
	Plan string `json:"plan"`
}

// documentResponse is a report document plus its plain-text rendering
type documentResponse struct {
	*report.Document
	Text string `json:"text"`
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, newErrResponse(fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest))
		return
	}

	format := s.opts.Format
	if req.Format != "" {
		f, err := report.ParseFormat(req.Format)
		if err != nil {
			_ = render.Render(w, r, newErrResponse(err, http.StatusBadRequest))
			return
		}
		format = f
	}
	if format == report.FormatExplainPlan {
		_ = render.Render(w, r, newErrResponse(errors.New("explain-plan input goes to /v1/plan"), http.StatusBadRequest))
		return
	}

	s.respond(w, r, req.SQL, format)
}

func (s *Server) planHandler(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		_ = render.Render(w, r, newErrResponse(fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest))
		return
	}
	s.respond(w, r, req.Plan, report.FormatExplainPlan)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, input string, format report.Format) {
	doc, err := s.assembler.Assemble(input, format)
	if err != nil {
		_ = render.Render(w, r, newErrResponse(err, http.StatusUnprocessableEntity))
		return
	}

	var text bytes.Buffer
	if err := report.WriteText(&text, doc, report.TextOptions{}); err != nil {
		_ = render.Render(w, r, newErrResponse(err, http.StatusInternalServerError))
		return
	}
	render.JSON(w, r, documentResponse{Document: doc, Text: text.String()})
}

// errResponse is the body sent back when a request cannot be served
type errResponse struct {
	HTTPStatusCode int `json:"-"`

	StatusText string `json:"status"`
	ErrorText  string `json:"error"`
}

func newErrResponse(err error, code int) *errResponse {
	return &errResponse{
		HTTPStatusCode: code,
		StatusText:     http.StatusText(code),
		ErrorText:      err.Error(),
	}
}

func (e *errResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}
