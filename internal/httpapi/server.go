// Package httpapi exposes the attendance service over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/registry"
)

// Config is the transport-level configuration.
type Config struct {
	BaseURL        string
	QRSize         int
	JWTSigningKey  string
	JWTIssuer      string
	SessionTTL     time.Duration
	CORSOrigins    []string
	TrustedProxies []string
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators the handlers call.
type Deps struct {
	Registry *registry.Registry
	Guard    *attendance.Service
	Ledger   attendance.Ledger
	Password *auth.PasswordChecker
	Metrics  *metrics.Metrics
	Limiter  httpmiddleware.Limiter
	Gatherer prometheus.Gatherer
	Health   map[string]HealthCheck
}

// Server holds the gin engine and the handler dependencies.
type Server struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

func New(cfg Config, deps Deps) *Server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg, deps: deps, now: time.Now}
}

// Handler builds the routed engine.
func (s *Server) Handler() (*gin.Engine, error) {
	r := gin.New()
	if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(s.corsConfig()))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", s.healthz)

	var limit []gin.HandlerFunc
	if s.deps.Limiter != nil {
		limit = append(limit, httpmiddleware.RateLimit(s.deps.Limiter, "v1"))
	}
	// qr.Link points students at /submit; /v1/submit serves API clients.
	for _, path := range []string{"/submit", "/v1/submit"} {
		submit := r.Group(path, limit...)
		submit.GET("", s.inspect)
		submit.POST("", s.submit)
	}
	r.POST("/v1/admin/login", append(limit, s.login)...)

	admin := r.Group("/v1/admin", auth.AdminAuth(s.cfg.JWTSigningKey, s.cfg.JWTIssuer))
	admin.POST("/slots/activate", s.activate)
	admin.POST("/slots/deactivate", s.deactivate)
	admin.GET("/slots/active", s.active)
	admin.POST("/slots/:slot/token", s.issueToken)
	admin.GET("/slots/:slot/qr.png", s.qrImage)
	admin.GET("/records", s.listRecords)
	admin.GET("/records/export", s.exportRecords)
	admin.DELETE("/records", s.purgeRecords)

	return r, nil
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        24 * time.Hour,
	}
	if len(s.cfg.CORSOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.CORSOrigins
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.deps.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
