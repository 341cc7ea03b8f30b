package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrimandi/agrimandi-backend/api/controllers"
	webhookcontrollers "github.com/agrimandi/agrimandi-backend/api/controllers/webhooks"
	"github.com/agrimandi/agrimandi-backend/api/middleware"
	"github.com/agrimandi/agrimandi-backend/internal/listings"
	"github.com/agrimandi/agrimandi-backend/internal/notifications"
	"github.com/agrimandi/agrimandi-backend/internal/orders"
	"github.com/agrimandi/agrimandi-backend/internal/wallets"
	"github.com/agrimandi/agrimandi-backend/pkg/config"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

// Deps collects everything the router wires into handlers.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	Pingers       map[string]controllers.Pinger
	Listings      listings.Service
	Orders        orders.Service
	Wallets       wallets.Service
	Notifications notifications.Service
	Webhook       webhookcontrollers.GatewayWebhookService
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(deps.Webhook, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/listings", func(r chi.Router) {
			r.Get("/{listingId}", controllers.ListingDetail(deps.Listings, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, string(enums.ActorRoleFarmer)))
				r.Post("/", controllers.ListingCreate(deps.Listings, logg))
				r.Get("/mine", controllers.ListingMine(deps.Listings, logg))
				r.Delete("/{listingId}", controllers.ListingHide(deps.Listings, logg))
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.OrderPlace(deps.Orders, logg))
			r.Get("/", controllers.OrderList(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Patch("/{orderId}/status", controllers.OrderUpdateStatus(deps.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(deps.Orders, logg))
			r.Post("/{orderId}/dispute", controllers.OrderDispute(deps.Orders, logg))
			r.Post("/{orderId}/return", controllers.OrderReturn(deps.Orders, logg))
			r.Post("/{orderId}/pay", controllers.OrderPay(deps.Orders, logg))
			r.With(middleware.RequireRole(logg, string(enums.ActorRoleAdmin))).
				Post("/{orderId}/dispute/resolve", controllers.OrderResolveDispute(deps.Orders, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(deps.Wallets, logg))
			r.Get("/transactions", controllers.WalletTransactions(deps.Wallets, logg))
			r.Post("/withdraw", controllers.WalletWithdraw(deps.Wallets, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationsList(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.NotificationMarkRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.NotificationsMarkAllRead(deps.Notifications, logg))
		})
	})

	return r
}
