package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"numtrack/internal/auth"
	"numtrack/internal/cache"
	"numtrack/internal/ledger"
	applog "numtrack/internal/log"
	"numtrack/internal/middleware/ratelimit"
	"numtrack/internal/middleware/security"
	"numtrack/internal/middleware/trace"
	"numtrack/internal/snapshots"
)

// Config wires the server's collaborators.
type Config struct {
	Addr       string
	Repository snapshots.Repository
	OTP        *auth.OTPService
	Tokens     *auth.TokenIssuer
	Logger     *applog.Logger

	StoreCacheSize int
	StoreCacheTTL  time.Duration

	// Per client IP.
	APIRequestsPerMinute  int
	AuthRequestsPerMinute int
	TrustedProxies        []string
}

// appMetrics tracks application-specific counters
type appMetrics struct {
	mutations    atomic.Int64
	syncFailures atomic.Int64
	storeLoads   atomic.Int64
	storeEvicts  atomic.Int64
	uptime       time.Time
}

// Server serves the ledger API for many owners, each backed by its own
// lazily hydrated ledger.Store.
type Server struct {
	http.Server

	repo   snapshots.Repository
	otp    *auth.OTPService
	tokens *auth.TokenIssuer

	logger     *applog.Logger
	structured *applog.StructuredLogger

	stores       *cache.LRUCache[*ledger.Store]
	cacheManager *cache.Manager

	apiLimiter       *ratelimit.Limiter
	authLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	appMetrics   appMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Repository == nil {
		return nil, errors.New("http: repository is required")
	}
	if cfg.OTP == nil || cfg.Tokens == nil {
		return nil, errors.New("http: otp service and token issuer are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = applog.New(applog.DefaultConfig())
	}
	if cfg.StoreCacheSize <= 0 {
		cfg.StoreCacheSize = 256
	}
	if cfg.StoreCacheTTL <= 0 {
		cfg.StoreCacheTTL = 30 * time.Minute
	}
	if cfg.APIRequestsPerMinute <= 0 {
		cfg.APIRequestsPerMinute = 240
	}
	if cfg.AuthRequestsPerMinute <= 0 {
		cfg.AuthRequestsPerMinute = 10
	}

	logger := cfg.Logger.WithComponent(applog.ComponentHTTP)
	s := &Server{
		repo:             cfg.Repository,
		otp:              cfg.OTP,
		tokens:           cfg.Tokens,
		logger:           logger,
		structured:       applog.NewStructuredLogger(logger),
		cacheManager:     cache.NewManager(),
		apiLimiter:       ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.APIRequestsPerMinute}),
		authLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.AuthRequestsPerMinute, Burst: max(cfg.AuthRequestsPerMinute/6, 5)}),
		securityDetector: security.NewDetector(),
	}
	s.appMetrics.uptime = time.Now()
	for _, cidr := range cfg.TrustedProxies {
		if err := s.securityDetector.AddTrustedProxy(cidr); err != nil {
			return nil, err
		}
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, s.structured)

	s.stores = cache.NewLRUCache(cfg.StoreCacheSize, cfg.StoreCacheTTL,
		cache.WithOnEvict(func(owner string, _ *ledger.Store) {
			s.appMetrics.storeEvicts.Add(1)
			logger.Debug("Ledger store evicted", applog.FieldOwner, owner)
		}))
	s.cacheManager.Register(s.stores)
	s.cacheManager.StartCleanup(5 * time.Minute)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	authLimit := s.authLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimit)
	mux.Handle("POST /api/auth/login", authLimit(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /api/auth/verify-otp", authLimit(http.HandlerFunc(s.handleVerifyOTP)))
	mux.Handle("POST /api/auth/resend-otp", authLimit(http.HandlerFunc(s.handleResendOTP)))

	mux.HandleFunc("POST /api/parse", s.handleParse)

	protected := auth.Middleware(s.tokens)
	mux.Handle("GET /api/data", protected(http.HandlerFunc(s.handleGetData)))
	mux.Handle("POST /api/data", protected(http.HandlerFunc(s.handlePostData)))
	mux.Handle("PUT /api/data", protected(http.HandlerFunc(s.handlePutData)))
	mux.Handle("PUT /api/data/edit", protected(http.HandlerFunc(s.handleEditData)))
	mux.Handle("DELETE /api/data/delete/{label}", protected(http.HandlerFunc(s.handleDeleteLabel)))
	mux.Handle("DELETE /api/data/delete/{label}/{index}", protected(http.HandlerFunc(s.handleDeleteEntry)))
	mux.Handle("PUT /api/threshold", protected(http.HandlerFunc(s.handleSetThreshold)))
	mux.Handle("GET /api/summary", protected(http.HandlerFunc(s.handleSummary)))

	// Outermost first.
	return chain(mux,
		s.traceMiddleware.Middleware,
		security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware,
		s.securityDetector.Middleware(s.logger.WithComponent(applog.ComponentSecurity).Logger, true),
		applog.Middleware(s.logger, func(r *http.Request) string { return trace.GetRequestID(r.Context()) }),
		s.apiLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimit),
	)
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
}

// Shutdown stops background loops and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.apiLimiter.Stop()
		s.authLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
