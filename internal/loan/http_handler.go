package loan

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lendingapi/internal/httpx"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

type updateLoanRequest struct {
	ReturnDate *time.Time `json:"returnDate" validate:"required"`
}

// List handles GET /v1/loans
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.Identity(r)
	f, err := ParseListFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "transactions retrieved", page.Items, map[string]any{
		"pagination": page.Pagination,
	})
}

// Get handles GET /v1/loans/{id}
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "transaction retrieved", v, nil)
}

// Update handles PATCH /v1/loans/{id}
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateLoanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	t, err := h.service.UpdateReturnDate(r.Context(), chi.URLParam(r, "id"), *req.ReturnDate)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "transaction updated", t, nil)
}

// Delete handles DELETE /v1/loans/{id}
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "transaction deleted", nil, nil)
}
