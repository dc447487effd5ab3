package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"stoerbot/internal/disruption"
	"stoerbot/internal/monitor"
	"stoerbot/internal/notifier"
	"stoerbot/internal/runtime/supervisor"
	"stoerbot/internal/task/scheduler"
	logx "stoerbot/pkg/logx"
)

// PassState is the read side of the pass runner.
type PassState interface {
	Ready() bool
	Passes() uint64
	LastReport() (monitor.Report, bool)
	Known() []disruption.Notice
}

// NotifyState is the read side of the notifier.
type NotifyState interface {
	Stats() (sent, failed uint64)
	Snapshot() []notifier.HistoryItem
}

type Config struct {
	Addr  string
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Deps struct {
	Log        logx.Logger
	Passes     PassState
	Notifier   NotifyState
	Metrics    http.Handler
	Supervisor func() supervisor.Snapshot
	Scheduler  func() scheduler.Snapshot
	Dropped    func() uint64 // event bus deliveries lost to slow subscribers
	Driver     string
	Version    string
	Now        func() time.Time
}

type Server struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	started time.Time
	handler http.Handler

	mu   sync.Mutex
	addr string
}

func New(cfg Config, d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	s := &Server{cfg: cfg, deps: d, log: d.Log.With(logx.String("comp", "http")), started: d.Now()}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the bound listen address once Serve is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)

	r.Get("/", s.handleBanner)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/status", s.handleStatus)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.cfg.Pprof {
		r.Mount("/debug", chimw.Profiler())
	}
	return r
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	state := "waiting for first pass"
	if s.deps.Passes != nil && s.deps.Passes.Ready() {
		state = fmt.Sprintf("running, %d passes", s.deps.Passes.Passes())
	}
	_, _ = fmt.Fprintf(w, "stoerbot %s: BVG & S-Bahn Berlin disruption monitor (%s)\n", s.deps.Version, state)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.deps.Passes == nil || !s.deps.Passes.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("waiting for first pass"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

type notifierStatus struct {
	Sent    uint64                 `json:"sent"`
	Failed  uint64                 `json:"failed"`
	History []notifier.HistoryItem `json:"history"`
}

type statusResponse struct {
	Version    string               `json:"version,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	Uptime     string               `json:"uptime"`
	Ready      bool                 `json:"ready"`
	Passes     uint64               `json:"passes"`
	Driver     string               `json:"state_driver,omitempty"`
	LastPass   *monitor.Report      `json:"last_pass,omitempty"`
	Known      []disruption.Notice  `json:"known"`
	Notifier   *notifierStatus      `json:"notifier,omitempty"`
	Supervisor *supervisor.Snapshot `json:"supervisor,omitempty"`
	Scheduler  *scheduler.Snapshot  `json:"scheduler,omitempty"`
	Dropped    uint64               `json:"events_dropped"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:   s.deps.Version,
		StartedAt: s.started,
		Uptime:    s.deps.Now().Sub(s.started).Truncate(time.Second).String(),
		Driver:    s.deps.Driver,
		Known:     []disruption.Notice{},
	}
	if p := s.deps.Passes; p != nil {
		resp.Ready = p.Ready()
		resp.Passes = p.Passes()
		if rep, ok := p.LastReport(); ok {
			resp.LastPass = &rep
		}
		if k := p.Known(); k != nil {
			resp.Known = k
		}
	}
	if n := s.deps.Notifier; n != nil {
		sent, failed := n.Stats()
		resp.Notifier = &notifierStatus{Sent: sent, Failed: failed, History: n.Snapshot()}
	}
	if s.deps.Supervisor != nil {
		snap := s.deps.Supervisor()
		resp.Supervisor = &snap
	}
	if s.deps.Scheduler != nil {
		snap := s.deps.Scheduler()
		resp.Scheduler = &snap
	}
	if s.deps.Dropped != nil {
		resp.Dropped = s.deps.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Serve listens on the configured address and serves until ctx is done.
// A return before cancellation is an error so a restart loop can retry.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = ":10000"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	if s.cfg.Pprof {
		// /debug/pprof/profile streams for 30s by default.
		srv.WriteTimeout = 0
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("http server stopped")
		return context.Canceled
	}
	_ = srv.Close()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}
