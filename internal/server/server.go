package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config holds the HTTP level settings of the server.
type Config struct {
	Addr    string // e.g. ":8080"
	Version string

	CookieName   string
	SecureCookie bool

	MaxUploadBytes int64

	// Per-IP requests per minute; zero disables rate limiting. The auth and
	// upload limits default to RateLimitPerMin.
	RateLimitPerMin       int
	AuthRateLimitPerMin   int
	UploadRateLimitPerMin int

	// TrustedProxies are CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For header is used to find the client address.
	TrustedProxies []string

	LockoutAttempts int
	LockoutDuration time.Duration
	LockoutWindow   time.Duration

	// StaticDir, when set, is served at "/" with an index.html fallback.
	StaticDir string
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Log      *zap.Logger
	Users    UserService
	Sessions SessionStore
	Files    FileService
	Audit    AuditRecorder
	Metrics  *Metrics
	// Checks are the actuator health components, keyed by name ("db",
	// "redis", "minio"). The "db" check also drives readiness.
	Checks map[string]HealthCheck
}

type Server struct {
	cfg     Config
	log     *zap.Logger
	users   UserService
	sess    SessionStore
	files   FileService
	audit   AuditRecorder
	metrics *Metrics
	checks  map[string]HealthCheck
	lockout *AccountLockout
	limiter *endpointLimiter

	handler    http.Handler
	httpServer *http.Server
}

// New wires routes and middleware. Background janitors stop when ctx is
// done.
func New(ctx context.Context, cfg Config, deps Deps) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = "SESSION"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 30
	}
	if cfg.LockoutAttempts <= 0 {
		cfg.LockoutAttempts = 5
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = 15 * time.Minute
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 10 * time.Minute
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = nopAudit{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	s := &Server{
		cfg:     cfg,
		log:     deps.Log,
		users:   deps.Users,
		sess:    deps.Sessions,
		files:   deps.Files,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		checks:  deps.Checks,
		lockout: NewAccountLockout(ctx, cfg.LockoutAttempts, cfg.LockoutDuration, cfg.LockoutWindow),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	proxies, err := parseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		s.log.Warn("ignoring trusted proxies", zap.Error(err))
		proxies = nil
	}

	// Wrap middleware: requestID -> client ip -> recover -> logging -> headers -> rate limit -> gzip -> mux
	var handler http.Handler = mux
	handler = compressionMiddleware(handler)
	if cfg.RateLimitPerMin > 0 {
		s.limiter = newEndpointLimiter(ctx, EndpointLimits{
			API:    cfg.RateLimitPerMin,
			Auth:   cfg.AuthRateLimitPerMin,
			Upload: cfg.UploadRateLimitPerMin,
		}, s.log)
		handler = s.limiter.middleware(handler)
	}
	handler = securityHeadersMiddleware(cfg.SecureCookie)(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoverMiddleware(handler)
	handler = clientIPMiddleware(proxies)(handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/sign-up", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/sign-in", s.handleSignIn)
	mux.Handle("POST /api/auth/sign-out", s.requireAuth(http.HandlerFunc(s.handleSignOut)))
	mux.Handle("GET /api/user/me", s.requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/user/me", s.requireAuth(http.HandlerFunc(s.handleMe)))

	mux.Handle("GET /api/directory", s.requireAuth(http.HandlerFunc(s.handleListDirectory)))
	mux.Handle("POST /api/directory", s.requireAuth(http.HandlerFunc(s.handleCreateDirectory)))

	mux.Handle("GET /api/resource", s.requireAuth(http.HandlerFunc(s.handleResourceInfo)))
	mux.Handle("POST /api/resource", s.requireAuth(http.HandlerFunc(s.handleUpload)))
	mux.Handle("DELETE /api/resource", s.requireAuth(http.HandlerFunc(s.handleDelete)))
	mux.Handle("GET /api/resource/move", s.requireAuth(http.HandlerFunc(s.handleMove)))
	mux.Handle("GET /api/resource/search", s.requireAuth(http.HandlerFunc(s.handleSearch)))
	mux.Handle("GET /api/resource/download", s.requireAuth(http.HandlerFunc(s.handleDownload)))

	mux.Handle("/api/", s.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})))

	mux.HandleFunc("GET /actuator/health", s.handleHealth)
	mux.HandleFunc("GET /actuator/health/liveness", s.handleLiveness)
	mux.HandleFunc("GET /actuator/health/readiness", s.handleReadiness)
	mux.Handle("GET /actuator/prometheus", s.metrics.Handler())

	if s.cfg.StaticDir != "" {
		mux.Handle("/", staticHandler(s.cfg.StaticDir))
	} else {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			writeMessage(w, http.StatusNotFound, "Not found")
		})
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
