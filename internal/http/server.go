package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"spendwatch/internal/config"
	"spendwatch/internal/log"
	"spendwatch/internal/middleware/ratelimit"
	"spendwatch/internal/middleware/security"
	"spendwatch/internal/middleware/trace"
	"spendwatch/internal/ocr"
	"spendwatch/internal/services"
)

// Scanner extracts receipt fields from a base64 image.
type Scanner interface {
	Scan(ctx context.Context, fileData string) (ocr.ScanResult, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services the handlers call. Scanner may be nil when
// OCR is not configured.
type Dependencies struct {
	Auth     *services.AuthService
	Expenses *services.ExpenseService
	Budgets  *services.BudgetService
	Reports  *services.ReportService
	Scanner  Scanner
	Store    Pinger
}

type Server struct {
	http.Server

	auth     *services.AuthService
	expenses *services.ExpenseService
	budgets  *services.BudgetService
	reports  *services.ReportService
	scanner  Scanner
	store    Pinger

	logger       *log.Logger
	detector     *security.Detector
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	storeTimeout time.Duration
	development  bool
	now          func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg *config.Config, deps Dependencies, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Discard()
	}
	detector, err := security.NewDetector(logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Server: http.Server{
			Addr:              ":" + cfg.Port,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		auth:         deps.Auth,
		expenses:     deps.Expenses,
		budgets:      deps.Budgets,
		reports:      deps.Reports,
		scanner:      deps.Scanner,
		store:        deps.Store,
		logger:       logger.WithComponent(log.ComponentHTTP),
		detector:     detector,
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		tracer:       trace.NewMiddleware(logger, detector.ClientIP),
		storeTimeout: cfg.StoreTimeout,
		development:  cfg.Development(),
		now:          time.Now,
	}
	if s.storeTimeout <= 0 {
		s.storeTimeout = 7 * time.Second
	}
	s.Handler = s.routes(cfg.CORSOrigin)
	return s, nil
}

func (s *Server) routes(corsOrigin string) http.Handler {
	r := chi.NewRouter()

	r.Use(s.tracer.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.CleanPath)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{corsOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", trace.HeaderRequestID},
		ExposedHeaders:   []string{trace.HeaderRequestID, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.detector.Middleware)
	r.Use(s.limitWrites)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "Method not allowed").Write(w)
	})

	r.Get("/", handleIndex)
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.With(s.requireAuth).Post("/logout", s.handleLogout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/expenses", func(r chi.Router) {
			r.Post("/", s.handleCreateExpense)
			r.Get("/", s.handleListExpenses)
			r.Get("/categories", s.handleCategoryBreakdown)
			r.Get("/month", s.handleMonthComparison)
			r.Get("/monthly", s.handleMonthlySeries)
			r.Get("/{id}", s.handleGetExpense)
			r.Get("/{id}/receipt", s.handleGetReceipt)
		})

		r.Post("/budget", s.handleSetBudget)
		r.Get("/budget", s.handleGetBudget)
		r.Post("/scan", s.handleScan)
	})

	return r
}

// limitWrites applies the per-client rate limit to POST requests.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	limited := s.limiter.Middleware(s.detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.detector.ClientIP(r))
		ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
	})(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			limited.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// storeContext bounds a handler's storage calls.
func (s *Server) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.storeTimeout)
}

// Shutdown stops accepting requests, waits for in-flight alert dispatches
// and stops background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
		s.limiter.Stop()
		if s.expenses != nil {
			if err := s.expenses.Wait(ctx); err != nil {
				s.logger.Warn("Pending budget alerts abandoned", log.FieldError, err)
			}
		}

		tm := s.tracer.GetMetrics()
		s.logger.Info("HTTP server stopped",
			"total_requests", tm.TotalRequests,
			"server_failures", tm.ServerFailures,
			"rate_limited", s.limiter.Rejected(),
			"blocked_probes", s.detector.GetMetrics().Blocked)
	})

	return shutdownErr
}
