package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"loyalty-service/internal/model"
	"loyalty-service/internal/repository"
)

func urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}

// ----- Supermarkets -----

type supermarketRequest struct {
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Active    *bool    `json:"active"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	AvgBasket int64    `json:"avg_basket"`
}

func (h *Handler) createSupermarket(w http.ResponseWriter, r *http.Request) {
	var req supermarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	store, err := h.stores.Create(r.Context(), &model.Supermarket{
		Name:           req.Name,
		NormalizedName: repository.NormalizeName(req.Name),
		Address:        req.Address,
		Active:         active,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		AvgBasket:      req.AvgBasket,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, store)
}

func (h *Handler) updateSupermarket(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}
	store, err := h.stores.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req supermarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name != "" {
		store.Name = req.Name
		store.NormalizedName = repository.NormalizeName(req.Name)
	}
	if req.Address != "" {
		store.Address = req.Address
	}
	if req.Active != nil {
		store.Active = *req.Active
	}
	if req.Latitude != nil {
		store.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		store.Longitude = req.Longitude
	}
	if req.AvgBasket != 0 {
		store.AvgBasket = req.AvgBasket
	}

	if err := h.stores.Update(r.Context(), store); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store)
}

func (h *Handler) listSupermarkets(w http.ResponseWriter, r *http.Request) {
	stores, err := h.stores.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supermarkets": stores})
}

// ----- Campaigns -----

type campaignRequest struct {
	Brand          string    `json:"brand"`
	StartsAt       time.Time `json:"starts_at"`
	EndsAt         time.Time `json:"ends_at"`
	Mechanic       string    `json:"mechanic"`
	MinSpend       *int64    `json:"min_spend"`
	MaxRedemptions *int32    `json:"max_redemptions"`
	TargetAudience string    `json:"target_audience"`
	RewardType     string    `json:"reward_type"`
	RewardValue    int64     `json:"reward_value"`
	SupermarketIDs []int64   `json:"supermarket_ids"`
}

func (h *Handler) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Brand == "" || req.RewardType == "" || !req.EndsAt.After(req.StartsAt) {
		writeBadRequest(w, "brand, reward_type and a valid date range are required")
		return
	}
	if req.TargetAudience == "" {
		req.TargetAudience = model.AudienceAll
	}

	campaign, err := h.camps.Create(r.Context(), &model.Campaign{
		Brand:          req.Brand,
		StartsAt:       req.StartsAt,
		EndsAt:         req.EndsAt,
		Mechanic:       req.Mechanic,
		MinSpend:       req.MinSpend,
		MaxRedemptions: req.MaxRedemptions,
		TargetAudience: req.TargetAudience,
		RewardType:     req.RewardType,
		RewardValue:    req.RewardValue,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if len(req.SupermarketIDs) > 0 {
		if err := h.camps.SetScope(r.Context(), campaign.ID, req.SupermarketIDs); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (h *Handler) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.camps.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

type campaignStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var req campaignStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Status {
	case model.CampaignStatusDraft, model.CampaignStatusActive, model.CampaignStatusEnded:
	default:
		writeBadRequest(w, "invalid campaign status")
		return
	}

	if err := h.camps.SetStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type campaignScopeRequest struct {
	SupermarketIDs []int64 `json:"supermarket_ids"`
}

func (h *Handler) setCampaignScope(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var req campaignScopeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.camps.SetScope(r.Context(), id, req.SupermarketIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Moderation -----

func (h *Handler) listPendingReceipts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pending, err := h.pipeline.PendingReceipts(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": pending})
}

func (h *Handler) approveReceipt(w http.ResponseWriter, r *http.Request) {
	res, err := h.pipeline.ApproveReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rejectReceiptRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) rejectReceipt(w http.ResponseWriter, r *http.Request) {
	var req rejectReceiptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.pipeline.RejectReceipt(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Users -----

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type userStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) setUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var req userStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Status {
	case model.UserStatusActive, model.UserStatusSuspended, model.UserStatusBanned:
	default:
		writeBadRequest(w, "invalid user status")
		return
	}

	if err := h.users.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Rewards (catalog management) -----

type rewardRequest struct {
	Title         string `json:"title"`
	CostPoints    int64  `json:"cost_points"`
	RewardType    string `json:"reward_type"`
	Brand         string `json:"brand"`
	SupermarketID *int64 `json:"supermarket_id"`
	Active        *bool  `json:"active"`
}

func (h *Handler) createReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" || req.CostPoints <= 0 {
		writeBadRequest(w, "title and a positive cost_points are required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	reward, err := h.rewards.Create(r.Context(), &model.Reward{
		Title:         req.Title,
		CostPoints:    req.CostPoints,
		RewardType:    req.RewardType,
		Brand:         req.Brand,
		SupermarketID: req.SupermarketID,
		Active:        active,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reward)
}

func (h *Handler) setRewardActive(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, r)
	if !ok {
		return
	}

	var req rewardRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeBadRequest(w, "active is required")
		return
	}

	if err := h.rewards.SetActive(r.Context(), id, *req.Active); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
