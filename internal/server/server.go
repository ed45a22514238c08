// Package server exposes the HTTP API: the login flow, sync control, and
// the cached analytics reports.
package server

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grmlab/gramscope/pkg/authflow"
	"github.com/grmlab/gramscope/pkg/imagecache"
	"github.com/grmlab/gramscope/pkg/ratelimit"
	"github.com/grmlab/gramscope/pkg/storage"
	"github.com/grmlab/gramscope/pkg/syncer"
)

// Per-client request budgets. Login and sync are expensive on the remote
// side, so they get a much tighter window than the read-only endpoints.
const (
	generalLimit     = 100
	strictLimit      = 10
	rateLimitWindow  = time.Minute
	tokenTTL         = 30 * 24 * time.Hour
	readWriteTimeout = 60 * time.Second
)

type Server struct {
	DB        *storage.DB
	Flow      *authflow.Flow
	Syncer    *syncer.Syncer
	Images    *imagecache.Cache
	Limiter   *ratelimit.Limiter
	JWTSecret string
	Log       *logrus.Logger

	// AutoSyncOnLogin kicks off a background sync right after a successful
	// login, so first-time users see data without an explicit sync call.
	AutoSyncOnLogin bool

	// AllowedOrigin is the CORS Access-Control-Allow-Origin value. Empty
	// allows any origin.
	AllowedOrigin string
}

func New(db *storage.DB, flow *authflow.Flow, sync *syncer.Syncer, images *imagecache.Cache, jwtSecret string, log *logrus.Logger) *Server {
	return &Server{
		DB:        db,
		Flow:      flow,
		Syncer:    sync,
		Images:    images,
		Limiter:   ratelimit.NewLimiter(),
		JWTSecret: jwtSecret,
		Log:       log,
	}
}

// Handler builds the route table. Split out from Start so tests can drive
// the mux through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth flow. Unauthenticated by definition, but tightly rate limited.
	mux.HandleFunc("POST /api/auth/login", s.limited(strictLimit, s.handleLogin))
	mux.HandleFunc("POST /api/auth/verify-2fa", s.limited(strictLimit, s.handleVerifyTwoFactor))
	mux.HandleFunc("POST /api/auth/verify-challenge", s.limited(strictLimit, s.handleVerifyChallenge))
	mux.HandleFunc("POST /api/auth/logout", s.limited(generalLimit, s.authed(s.handleLogout)))

	// Analytics reads.
	mux.HandleFunc("GET /api/analytics/overview", s.limited(generalLimit, s.authed(s.handleOverview)))
	mux.HandleFunc("GET /api/analytics/detailed", s.limited(generalLimit, s.authed(s.handleDetailed)))
	mux.HandleFunc("GET /api/analytics/not-following-back", s.limited(generalLimit, s.authed(s.handleNotFollowingBack)))
	mux.HandleFunc("GET /api/analytics/not-followed-back", s.limited(generalLimit, s.authed(s.handleNotFollowedBack)))
	mux.HandleFunc("GET /api/analytics/mutual", s.limited(generalLimit, s.authed(s.handleMutual)))
	mux.HandleFunc("GET /api/analytics/new-followers", s.limited(generalLimit, s.authed(s.handleNewFollowers)))
	mux.HandleFunc("GET /api/analytics/lost-followers", s.limited(generalLimit, s.authed(s.handleLostFollowers)))
	mux.HandleFunc("GET /api/analytics/profile", s.limited(generalLimit, s.authed(s.handleProfile)))

	// Sync control.
	mux.HandleFunc("POST /api/analytics/sync", s.limited(strictLimit, s.authed(s.handleSync)))
	mux.HandleFunc("GET /api/analytics/sync/status", s.limited(generalLimit, s.authed(s.handleSyncStatus)))
	mux.HandleFunc("GET /api/analytics/can-sync", s.limited(generalLimit, s.authed(s.handleCanSync)))

	// Avatar cache.
	mux.HandleFunc("GET /api/analytics/profile-pic/{id}", s.limited(generalLimit, s.authed(s.handleProfilePic)))
	mux.HandleFunc("GET /api/analytics/image-cache/status", s.limited(generalLimit, s.authed(s.handleImageCacheStatus)))

	// Health probes, unauthenticated and unlimited.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	return s.cors(mux)
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readWriteTimeout,
		WriteTimeout: readWriteTimeout,
	}
	s.Log.Infof("Starting server on %s", addr)
	return srv.ListenAndServe()
}
