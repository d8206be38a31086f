// internal/httpapi/router.go

// Package httpapi assembles the HTTP surface: the route tree, the access
// policy chain in front of it and the cross-cutting middleware.
package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"fitjourney/internal/access"
	"fitjourney/internal/booking"
	"fitjourney/internal/catalog"
	"fitjourney/internal/httpx"
	"fitjourney/internal/identity"
	"fitjourney/internal/logging"
	"fitjourney/internal/metrics"
	"fitjourney/internal/plan"
	"fitjourney/internal/revenue"
)

// Pinger reports database liveness for /healthz.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Identity identity.Service
	Catalog  catalog.Service
	Plans    plan.Service
	Bookings booking.Service
	Revenue  revenue.Service

	DB      Pinger
	Log     *logging.Logger
	Metrics *metrics.Metrics
	Policy  access.Policy

	AuthLimiter    Limiter
	AllowedOrigins []string
	// TrustedProxies are the peers allowed to set the client address through
	// X-Forwarded-For or X-Real-IP.
	TrustedProxies []netip.Prefix

	// Photos enables identity photo uploads and serves them under /images.
	Photos        *identity.DiskPhotoStore
	MaxPhotoBytes int64
}

// NewRouter wires every handler behind the access policy. /healthz, /metrics
// and /images are served outside of it.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	if len(d.TrustedProxies) > 0 {
		r.Use(TrustedRealIP(d.TrustedProxies))
	}
	r.Use(Trace)
	r.Use(Instrument(d.Log, d.Metrics))
	r.Use(Recover(d.Log))
	if len(d.AllowedOrigins) > 0 {
		r.Use(NewCORS(d.AllowedOrigins).Handler)
	}

	r.Get("/healthz", healthz(d.DB))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	identityH := identity.NewHandler(d.Identity, d.Log)
	if d.Photos != nil {
		identityH.WithPhotos(d.Photos, d.MaxPhotoBytes)
		r.Method(http.MethodGet, "/images/*", d.Photos.Handler())
	}
	catalogH := catalog.NewHandler(d.Catalog, d.Log)
	planH := plan.NewHandler(d.Plans, d.Log)
	bookingH := booking.NewHandler(d.Bookings, d.Log)
	revenueH := revenue.NewHandler(d.Revenue, d.Log)

	r.Group(func(r chi.Router) {
		r.Use(access.Middleware(d.Policy, d.Identity, d.Log, d.Metrics))

		r.Route("/auth", func(r chi.Router) {
			if d.AuthLimiter != nil {
				r.Use(RateLimit(d.AuthLimiter, d.Log))
			}
			identityH.PublicRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Route("/users", identityH.AdminRoutes)
			r.Route("/trainers", identityH.TrainerAdminRoutes)
			r.Route("/plans", planH.AdminRoutes)
			r.Route("/revenue", revenueH.AdminRoutes)
		})

		r.Route("/trainer/classes", func(r chi.Router) {
			catalogH.TrainerRoutes(r)
			bookingH.TrainerRoutes(r)
		})

		r.Route("/member", func(r chi.Router) {
			r.Route("/classes", func(r chi.Router) {
				catalogH.MemberRoutes(r)
				bookingH.MemberClassRoutes(r)
			})
			r.Route("/plans", bookingH.MemberPlanRoutes)
		})

		r.Route("/plans", planH.Routes)
		r.Route("/me", identityH.SelfRoutes)
	})

	return r
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "database": "ok"}
		code := http.StatusOK

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		httpx.WriteJSON(w, code, status)
	}
}
