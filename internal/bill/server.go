package bill

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zombor/bill-splitter/internal/metrics"
)

// DefaultMaxUploadBytes is the largest bill upload accepted when Options leaves it unset
const DefaultMaxUploadBytes int64 = 10 << 20

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Options configures a Server. The zero value serves without auth, with a
// 10MB upload limit and no request metrics.
type Options struct {
	BasicAuth      BasicAuth
	MaxUploadBytes int64
	Metrics        *metrics.HTTPMetrics
	Gatherer       prometheus.Gatherer
}

// Server handles HTTP requests for bills
type Server struct {
	service *Service
	opts    Options
	mux     *http.ServeMux
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, opts Options) *Server {
	return NewServerWithMux(service, opts, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, opts Options, mux *http.ServeMux) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		service: service,
		opts:    opts,
		mux:     mux,
	}
	s.registerRoutes()
	s.handler = logRequests(corsMiddleware(opts.Metrics.Middleware(s.mux)))
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/bills/scan", s.requireAuth(s.handleScanBill))
	s.mux.HandleFunc("GET /api/bills", s.requireAuth(s.handleListBills))
	s.mux.HandleFunc("GET /api/bills/{id}", s.requireAuth(s.handleGetBill))
	s.mux.HandleFunc("DELETE /api/bills/{id}", s.requireAuth(s.handleDeleteBill))
	s.mux.HandleFunc("GET /api/bills/{id}/file", s.requireAuth(s.handleGetBillFile))
	s.mux.HandleFunc("POST /api/bills/{id}/participants", s.requireAuth(s.handleAddParticipant))
	s.mux.HandleFunc("DELETE /api/bills/{id}/participants/{participantID}", s.requireAuth(s.handleRemoveParticipant))
	s.mux.HandleFunc("POST /api/bills/{id}/items/{itemID}/assignees/{participantID}", s.requireAuth(s.handleToggleAssignment))
	s.mux.HandleFunc("PUT /api/bills/{id}/step", s.requireAuth(s.handleMoveTo))
	s.mux.HandleFunc("GET /api/bills/{id}/settlement", s.requireAuth(s.handleSettlement))
	s.mux.HandleFunc("GET /api/bills/{id}/summary", s.requireAuth(s.handleSummary))

	s.mux.HandleFunc("GET /metrics", s.requireAuth(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP))

	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	want := s.opts.BasicAuth
	if want.Username == "" && want.Password == "" {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(want.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(want.Password)) == 1
	return userOK && passOK
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Bill Splitter"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to every response and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs every request with its status and duration
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := metrics.NewStatusRecorder(w)

		next.ServeHTTP(recorder, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.Status(),
			"bytes", recorder.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// Start listens on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	slog.Info("Starting server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler with the full middleware chain
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
