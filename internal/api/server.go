package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ipsix/scamshield/internal/config"
	"github.com/ipsix/scamshield/internal/events"
	"github.com/ipsix/scamshield/internal/heuristic"
	"github.com/ipsix/scamshield/internal/logging"
	"github.com/ipsix/scamshield/internal/orchestrator"
	"github.com/ipsix/scamshield/internal/risk"
	"github.com/ipsix/scamshield/internal/scheduler"
	"github.com/ipsix/scamshield/internal/settings"
)

// Scans is the orchestrator surface the API drives.
type Scans interface {
	NavigationComplete(tabID int, url string) (string, bool)
	TabActivated(tabID int, url string) (string, bool)
	ScanURL(url string, tabID int) (string, error)
	CurrentScan(ctx context.Context, tabID int, url string) (*risk.TabScanRecord, error)
	TabClosed(tabID int) error
	ClearCache() error
	History() []risk.HistoryEntry
	State(tabID int) orchestrator.TabState
}

type Settings interface {
	Snapshot() settings.Snapshot
	UpdateFlags(flags settings.Flags) (settings.Snapshot, error)
}

type Jobs interface {
	Jobs() []scheduler.JobInfo
	RunNow(ctx context.Context, name string) (string, error)
}

type DomainChecker interface {
	Check(raw string) heuristic.Verdict
}

type Deps struct {
	Scans    Scans
	Settings Settings
	Domains  DomainChecker
	Broker   *events.Broker
	Jobs     Jobs
	Metrics  http.Handler
	UI       http.Handler

	// StreamBuffer sizes each websocket subscriber's queue. Zero uses
	// events.DefaultBuffer.
	StreamBuffer int
}

type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	deps    Deps
	server  *http.Server
	handler http.Handler
}

func New(cfg config.APIConfig, logger *logging.Logger, deps Deps) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	if deps.Domains == nil {
		deps.Domains = heuristic.NewChecker(heuristic.DefaultRules(), heuristic.DefaultBrands())
	}
	s := &Server{cfg: cfg, logger: logger, deps: deps}
	s.handler = s.buildHandler()
	return s
}

// Start serves until ctx is cancelled or the listener fails. A disabled API
// returns immediately.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("api server starting", logging.F("addr", ln.Addr().String()))
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withOrigin)

	r.Get("/health", s.handleHealth)
	r.With(s.withAuth).Get("/metrics", s.handleMetrics)
	if s.deps.UI != nil {
		r.Get("/ui", http.RedirectHandler("/ui/", http.StatusMovedPermanently).ServeHTTP)
		r.Handle("/ui/*", http.StripPrefix("/ui", s.deps.UI))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.withAuth)
		r.Post("/messages", s.handleMessage)

		r.Get("/scan/current", s.handleCurrentScan)
		r.Post("/scan", s.handleScan)
		r.Post("/cache/clear", s.handleClearCache)
		r.Get("/history", s.handleHistory)

		r.Post("/tabs/navigated", s.handleNavigated)
		r.Post("/tabs/activated", s.handleActivated)
		r.Post("/tabs/closed", s.handleClosed)
		r.Get("/tabs/{id}", s.handleTab)

		r.Get("/settings", s.handleSettings)
		r.Patch("/settings", s.handleUpdateSettings)
		r.Get("/check-domain", s.handleCheckDomain)

		r.Get("/maintenance", s.handleJobs)
		r.Post("/maintenance/{job}", s.handleRunJob)

		r.Get("/stream", s.handleStream)
	})
	return r
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

// withAuth accepts the token as "Bearer <token>", the bare header value, or a
// token query parameter for websocket clients that cannot set headers.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(r.Header.Get("Authorization"))
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "metrics disabled"})
		return
	}
	s.deps.Metrics.ServeHTTP(w, r)
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Jobs.Jobs())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "maintenance disabled"})
		return
	}
	name := chi.URLParam(r, "job")
	status, err := s.deps.Jobs.RunNow(r.Context(), name)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrUnknownJob) {
			code = http.StatusNotFound
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": status})
}

func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	tabID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tab id must be an integer"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Scans.State(tabID))
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.Snapshot())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var flags settings.Flags
	if err := decodeBody(w, r, &flags); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.deps.Settings.UpdateFlags(flags)
	if err != nil {
		s.logger.Warn("settings not persisted", logging.Err(err))
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCheckDomain(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSpace(r.URL.Query().Get("host"))
	if host == "" {
		host = strings.TrimSpace(r.URL.Query().Get("url"))
	}
	if host == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "host is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Domains.Check(host))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

const maxRequestBytes = 64 << 10

// decodeBody only accepts application/json. Browsers cannot send that type
// cross-site without a CORS preflight, which the daemon never answers.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return &statusError{code: http.StatusUnsupportedMediaType, msg: "content type must be application/json"}
	}
	if r.Body == nil {
		return &statusError{code: http.StatusBadRequest, msg: "request body required"}
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return &statusError{code: http.StatusBadRequest, msg: "invalid json body"}
	}
	return nil
}
