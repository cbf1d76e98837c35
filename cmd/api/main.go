package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/httpapi"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/registry"
	"qrattend/internal/store"
	"qrattend/internal/token"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	health := map[string]httpapi.HealthCheck{}

	var rdb *store.Redis
	if cfg.NeedsRedis() {
		rdb = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rdb.Close()
		health["redis"] = rdb.Healthy
	}

	ledger, closeLedger, err := openLedger(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer closeLedger()

	codec, err := token.NewCodec(cfg.TokenSecret, cfg.TokenIssuer)
	if err != nil {
		return err
	}

	var bindings registry.BindingStore = registry.NewMemoryStore()
	if cfg.RegistryBackend == "redis" {
		bindings = registry.NewRedisStore(rdb.Client, cfg.RegistryNamespace)
	}
	reg := registry.New(bindings, codec)

	m := metrics.New(prometheus.DefaultRegisterer)
	auditors := attendance.Auditors{m}
	if cfg.QueueBackend == "redis" {
		auditors = append(auditors, queue.NewAuditor(queue.NewRedisQueue(rdb.Client, queue.AuditKey), 0))
	} else if sqlLedger, ok := ledger.(*attendance.Repository); ok {
		// no separate worker process shares an in-memory queue; drain it here
		q := queue.NewInMemory(256)
		auditors = append(auditors, queue.NewAuditor(q, 0))
		go func() {
			if _, err := queue.DrainAudit(ctx, q, sqlLedger); err != nil {
				log.Printf("audit drain: %v", err)
			}
		}()
	}

	guard := attendance.NewService(codec, reg, ledger,
		attendance.Policy{PIN: cfg.TeacherPIN, TTL: cfg.TokenTTL},
		attendance.WithAuditor(auditors))

	pw, err := auth.NewPasswordChecker(cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return err
	}

	var limiter httpmiddleware.Limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	if cfg.RateLimitBackend == "redis" {
		limiter = httpmiddleware.NewRedisWindow(rdb.Client, "attendance:ratelimit", cfg.RateLimitPerMin)
	}

	srv := httpapi.New(httpapi.Config{
		BaseURL:        cfg.BaseURL,
		QRSize:         cfg.QRSize,
		JWTSigningKey:  cfg.JWTSigningKey,
		JWTIssuer:      cfg.JWTIssuer,
		SessionTTL:     cfg.AdminSessionTTL,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
	}, httpapi.Deps{
		Registry: reg,
		Guard:    guard,
		Ledger:   ledger,
		Password: pw,
		Metrics:  m,
		Limiter:  limiter,
		Health:   health,
	})
	handler, err := srv.Handler()
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s (ledger=%s registry=%s queue=%s)",
			cfg.HTTPPort, cfg.DatabaseDriver, cfg.RegistryBackend, cfg.QueueBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Println("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("server exited")
	return nil
}

func openLedger(ctx context.Context, cfg config.App, health map[string]httpapi.HealthCheck) (attendance.Ledger, func(), error) {
	var (
		db  *store.DB
		err error
	)
	switch cfg.DatabaseDriver {
	case "memory":
		log.Println("using in-memory ledger; records are lost on restart")
		return attendance.NewMemoryLedger(), func() {}, nil
	case "postgres":
		db, err = store.NewDB(cfg.DatabaseURL)
	default:
		db, err = store.NewSQLite(cfg.SQLitePath)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	health["db"] = db.Healthy
	return attendance.NewRepository(db), func() { _ = db.Close() }, nil
}
