package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/weighsettle/internal/config"
	"github.com/kiwari-pos/weighsettle/internal/enum"
	"github.com/kiwari-pos/weighsettle/internal/handler"
	"github.com/kiwari-pos/weighsettle/internal/metrics"
	mw "github.com/kiwari-pos/weighsettle/internal/middleware"
	"github.com/kiwari-pos/weighsettle/internal/ws"
)

// Machine is satisfied by *settlement.Machine.
type Machine interface {
	handler.ReportIngester
	handler.AdjustmentStore
	handler.OrderCanceller
}

// Settler is satisfied by *payment.Coordinator.
type Settler interface {
	handler.AsyncSettler
	handler.CaptureConfirmer
}

// Services are the components the HTTP surface is built on.
type Services struct {
	Machine    Machine
	Settler    Settler
	Reviewer   handler.Reviewer
	Gate       handler.DeliveryGate
	Authorizer handler.Authorizer
	Hub        *ws.Hub
	Metrics    *metrics.Registry
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, s Services) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	// WebSocket routes (handle auth internally via query param)
	r.Get("/ws/adjustments", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeAdjustments(s.Hub, cfg.JWTSecret, w, r)
	})
	r.Get("/ws/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeOrder(s.Hub, cfg.JWTSecret, w, r)
	})

	reportHandler := handler.NewWeightReportHandler(s.Machine, s.Settler)
	adjustmentHandler := handler.NewAdjustmentHandler(s.Machine, s.Reviewer, s.Authorizer)
	deliveryHandler := handler.NewDeliveryHandler(s.Gate, s.Settler)
	orderHandler := handler.NewOrderHandler(s.Machine)
	paymentHandler := handler.NewPaymentWebhookHandler(s.Settler)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Adjustments: registration by the order service, review by admins
		r.Route("/adjustments", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleSystem))
				adjustmentHandler.RegisterSystemRoutes(r)
			})
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleAdmin))
				adjustmentHandler.RegisterAdminRoutes(r)
			})
		})

		// Integrations (picking system, order service, payment provider)
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleSystem))
			r.Route("/weight-reports", reportHandler.RegisterRoutes)
			r.Route("/orders", orderHandler.RegisterRoutes)
			r.Route("/payments", paymentHandler.RegisterRoutes)
		})

		// Courier app
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleCourier, enum.UserRoleAdmin))
			r.Route("/deliveries", deliveryHandler.RegisterRoutes)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
