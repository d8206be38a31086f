// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fitjourney/internal/access"
	"fitjourney/internal/booking"
	"fitjourney/internal/catalog"
	"fitjourney/internal/config"
	"fitjourney/internal/database"
	"fitjourney/internal/eventstore"
	"fitjourney/internal/httpapi"
	"fitjourney/internal/identity"
	"fitjourney/internal/logging"
	"fitjourney/internal/metrics"
	"fitjourney/internal/plan"
	"fitjourney/internal/revenue"
	"fitjourney/internal/telemetry"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logging.New(cfg.Telemetry.ServiceName, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		if err := database.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Info("database schema is up to date")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, tokens will not survive a restart")
	}
	tokens, err := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		log.Fatalf("Failed to init token issuer: %v", err)
	}

	m := metrics.New()
	es := eventstore.New()

	identitySvc := identity.NewService(db, tokens, log, m)
	catalogSvc := catalog.NewService(db, log)
	planSvc := plan.NewService(db, log)
	revenueSvc := revenue.NewService(db, log)
	bookingSvc := booking.NewService(
		booking.NewPostgresStore(db, es),
		catalogSvc,
		planSvc,
		log,
		m,
		cfg.Booking.OperationTimeout,
	)

	var limiter httpapi.Limiter
	if cfg.Redis.URL != "" {
		rdb, err := httpapi.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process rate limiter")
		} else {
			defer rdb.Close()
			limiter = httpapi.NewRedisLimiter(rdb, cfg.Auth.LoginRate)
		}
	}
	if limiter == nil {
		mem := httpapi.NewRateLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst)
		mem.StartCleanup(ctx, time.Minute)
		limiter = mem
	}

	trusted, err := cfg.Server.TrustedPrefixes()
	if err != nil {
		log.Fatalf("Invalid trusted proxies: %v", err)
	}
	photos, err := identity.NewDiskPhotoStore(cfg.Uploads.Dir, "/images")
	if err != nil {
		log.Fatalf("Failed to init photo storage: %v", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Identity:       identitySvc,
		Catalog:        catalogSvc,
		Plans:          planSvc,
		Bookings:       bookingSvc,
		Revenue:        revenueSvc,
		DB:             db,
		Log:            log,
		Metrics:        m,
		Policy:         access.DefaultPolicy,
		AuthLimiter:    limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: trusted,
		Photos:         photos,
		MaxPhotoBytes:  cfg.Uploads.MaxPhotoBytes,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("starting fitjourney api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.WithError(err).Error("tracer shutdown failed")
	}
	log.Info("api stopped")
}
