// internal/control/server.go
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/fill/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 5 * time.Second

// RunView is the part of a fill run the control surface reads and steers.
type RunView interface {
	Status() engine.Status
	Report() *engine.Report
	Abort() error
}

// OptionsStore holds the live engine options.
type OptionsStore interface {
	Options() engine.Options
	UpdateOptions(engine.Options) error
}

// Server exposes a running fill to external tools: status, report, abort, options and a
// websocket stream of run events.
type Server struct {
	addr    string
	logger  *zap.Logger
	options OptionsStore
	hub     *Hub

	mu  sync.RWMutex
	run RunView

	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a control server bound to addr once started.
func NewServer(addr string, options OptionsStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("control")
	return &Server{
		addr:    addr,
		logger:  log,
		options: options,
		hub:     NewHub(log),
		ready:   make(chan struct{}),
	}
}

// SetRun points the server at the run it controls.
func (s *Server) SetRun(r RunView) {
	s.mu.Lock()
	s.run = r
	s.mu.Unlock()
}

func (s *Server) current() RunView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// EventSink returns the engine sink feeding the websocket stream.
func (s *Server) EventSink() engine.EventSink {
	return s.hub.Publish
}

// Addr returns the bound address after Start has begun listening.
func (s *Server) Addr() string {
	<-s.ready
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rejectForeignOrigin)

	// The websocket route stays outside the request logger and timeout.
	r.Get("/events", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(requireJSON)

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/status", s.handleStatus)
		r.Get("/report", s.handleReport)
		r.Post("/abort", s.handleAbort)
		r.Get("/options", s.handleGetOptions)
		r.Put("/options", s.handlePutOptions)
	})
	return r
}

// Start serves until ctx is done, then shuts down gracefully. It returns nil on a clean stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("control server listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	close(s.ready)

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Control server listening.", zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Control server shutdown incomplete.", zap.Error(err))
		}
		<-errCh
		s.logger.Info("Control server stopped.")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("control server: %w", err)
	}
}

// -- Handlers --

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	run := s.current()
	if run == nil {
		respondWithError(w, http.StatusNotFound, "no fill run started")
		return
	}
	respondWithJSON(w, http.StatusOK, run.Status())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run := s.current()
	if run == nil {
		respondWithError(w, http.StatusNotFound, "no fill run started")
		return
	}
	respondWithJSON(w, http.StatusOK, run.Report())
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	run := s.current()
	if run == nil {
		respondWithError(w, http.StatusNotFound, "no fill run started")
		return
	}
	if err := run.Abort(); err != nil {
		if errors.Is(err, engine.ErrRunFinished) {
			respondWithError(w, http.StatusConflict, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("Abort requested through control surface.")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "abort requested"})
}

// optionsView is the operator-tunable subset of the engine options.
type optionsView struct {
	Verbose           bool   `json:"verbose"`
	QuiescenceTimeout string `json:"quiescence_timeout"`
	ActionDelay       string `json:"action_delay"`
}

// optionsPatch fields are optional. Durations accept Go duration strings ("5s") or a number
// of milliseconds.
type optionsPatch struct {
	Verbose           *bool `json:"verbose"`
	QuiescenceTimeout any   `json:"quiescence_timeout"`
	ActionDelay       any   `json:"action_delay"`
}

func viewOf(o engine.Options) optionsView {
	return optionsView{
		Verbose:           o.Verbose,
		QuiescenceTimeout: o.QuiescenceTimeout.String(),
		ActionDelay:       o.ActionDelay.String(),
	}
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, viewOf(s.options.Options()))
}

func (s *Server) handlePutOptions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var patch optionsPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	opts := s.options.Options()
	if patch.Verbose != nil {
		opts.Verbose = *patch.Verbose
	}
	if patch.QuiescenceTimeout != nil {
		if opts.QuiescenceTimeout, err = toDuration(patch.QuiescenceTimeout); err != nil {
			respondWithError(w, http.StatusBadRequest, "quiescence_timeout: "+err.Error())
			return
		}
	}
	if patch.ActionDelay != nil {
		if opts.ActionDelay, err = toDuration(patch.ActionDelay); err != nil {
			respondWithError(w, http.StatusBadRequest, "action_delay: "+err.Error())
			return
		}
	}

	if err := s.options.UpdateOptions(opts); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("Engine options updated.",
		zap.Bool("verbose", opts.Verbose),
		zap.Duration("quiescence_timeout", opts.QuiescenceTimeout),
		zap.Duration("action_delay", opts.ActionDelay),
	)
	respondWithJSON(w, http.StatusOK, viewOf(s.options.Options()))
}

// toDuration reads a JSON number as milliseconds and anything else through cast.
func toDuration(v any) (time.Duration, error) {
	if n, ok := v.(float64); ok {
		return time.Duration(n * float64(time.Millisecond)), nil
	}
	return cast.ToDurationE(v)
}

// -- Helpers --

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Control request served.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
