// Package httpapi exposes the service over HTTP: the shopper API, the
// admin API and the operational endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loyalty-service/internal/pkg/db"
	"loyalty-service/internal/pkg/ocr"
	"loyalty-service/internal/pkg/token"
	"loyalty-service/internal/repository"
	"loyalty-service/internal/service"
)

// Handler carries the services and repositories the HTTP layer fronts.
type Handler struct {
	auth     *service.AuthService
	accounts *service.AccountService
	pipeline *service.ReceiptPipeline
	ocr      ocr.Extractor

	users    *repository.UserRepository
	stores   *repository.SupermarketRepository
	camps    *repository.CampaignRepository
	receipts *repository.ReceiptRepository
	rewards  *repository.RewardRepository

	pool     *db.Pool
	tokens   *token.Manager
	throttle *userRateLimiter
}

// NewHandler creates the HTTP handler set.
func NewHandler(
	auth *service.AuthService,
	accounts *service.AccountService,
	pipeline *service.ReceiptPipeline,
	extractor ocr.Extractor,
	users *repository.UserRepository,
	stores *repository.SupermarketRepository,
	camps *repository.CampaignRepository,
	receipts *repository.ReceiptRepository,
	rewards *repository.RewardRepository,
	pool *db.Pool,
	tokens *token.Manager,
	ratePerSecond float64,
	rateBurst int,
) *Handler {
	return &Handler{
		auth:     auth,
		accounts: accounts,
		pipeline: pipeline,
		ocr:      extractor,
		users:    users,
		stores:   stores,
		camps:    camps,
		receipts: receipts,
		rewards:  rewards,
		pool:     pool,
		tokens:   tokens,
		throttle: newUserRateLimiter(ratePerSecond, rateBurst),
	}
}

// Router assembles the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Operational endpoints, unauthenticated.
	r.Get("/health", h.health)
	r.Get("/health/db", h.healthDB)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/signup", h.register)
		r.Post("/auth/login", h.login)
		r.Post("/auth/otp/request", h.requestOTP)
		r.Post("/auth/otp/verify", h.verifyOTP)

		// Shopper API.
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.tokens))
			r.Use(h.throttle.Throttle)

			r.Post("/receipts", h.submitReceipt)
			r.Post("/receipts/scan", h.scanReceipt)
			r.Get("/receipts", h.listReceipts)
			r.Get("/receipts/{id}", h.getReceipt)

			r.Get("/me", h.getProfile)
			r.Get("/me/activity", h.getActivity)
			r.Get("/me/notifications", h.listNotifications)
			r.Post("/me/notifications/{id}/read", h.readNotification)

			r.Get("/rewards", h.listRewards)
			r.Post("/rewards/{id}/redeem", h.redeemReward)
		})

		// Admin API.
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.tokens))
			r.Use(RequireAdmin)

			r.Get("/admin/supermarkets", h.listSupermarkets)
			r.Post("/admin/supermarkets", h.createSupermarket)
			r.Put("/admin/supermarkets/{id}", h.updateSupermarket)

			r.Get("/admin/campaigns", h.listCampaigns)
			r.Post("/admin/campaigns", h.createCampaign)
			r.Put("/admin/campaigns/{id}/status", h.setCampaignStatus)
			r.Put("/admin/campaigns/{id}/scope", h.setCampaignScope)

			r.Get("/admin/receipts/pending", h.listPendingReceipts)
			r.Post("/admin/receipts/{id}/approve", h.approveReceipt)
			r.Post("/admin/receipts/{id}/reject", h.rejectReceipt)

			r.Get("/admin/users", h.listUsers)
			r.Put("/admin/users/{id}/status", h.setUserStatus)

			r.Post("/admin/rewards", h.createReward)
			r.Put("/admin/rewards/{id}/active", h.setRewardActive)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "loyalty-service"})
}

func (h *Handler) healthDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "message": "postgres unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "postgres": "connected"})
}
