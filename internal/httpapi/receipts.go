package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"loyalty-service/internal/model"
)

type scanRequest struct {
	ImageURL  string `json:"image_url"`
	ImageHash string `json:"image_hash"`
}

type submitRequest struct {
	ImageURL  string           `json:"image_url"`
	ImageHash string           `json:"image_hash"`
	Extracted model.Extraction `json:"extracted"`
}

// submitReceipt runs pre-extracted receipt fields through the awarding
// pipeline. Clients that extract on-device use this; server-side
// extraction goes through scanReceipt.
func (h *Handler) submitReceipt(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageURL == "" || req.ImageHash == "" {
		writeBadRequest(w, "image_url and image_hash are required")
		return
	}

	claims := claimsFrom(r.Context())

	res, err := h.pipeline.ProcessReceipt(r.Context(), claims.UserID, &req.Extracted, req.ImageURL, req.ImageHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// scanReceipt runs a submitted receipt image through extraction and the
// awarding pipeline.
func (h *Handler) scanReceipt(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ImageURL == "" || req.ImageHash == "" {
		writeBadRequest(w, "image_url and image_hash are required")
		return
	}

	claims := claimsFrom(r.Context())

	ext, err := h.ocr.AnalyzeImage(r.Context(), req.ImageURL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "receipt extraction failed"})
		return
	}

	res, err := h.pipeline.ProcessReceipt(r.Context(), claims.UserID, ext, req.ImageURL, req.ImageHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	rc, err := h.receipts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rc.UserID != claims.UserID && !claims.Admin {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "not your receipt"})
		return
	}

	items, err := h.receipts.GetItems(r.Context(), rc.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": rc, "items": items})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	receipts, err := h.receipts.ListByUser(r.Context(), claims.UserID, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}
