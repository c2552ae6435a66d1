package lending

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"lendingapi/internal/httpx"
)

const idempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	engine *Engine
}

func NewHTTPHandler(engine *Engine) *HTTPHandler {
	return &HTTPHandler{engine: engine}
}

type borrowRequest struct {
	BookID  string     `json:"bookId" validate:"notblank"`
	DueDate *time.Time `json:"dueDate" validate:"required"`
	UserID  string     `json:"userId"`
}

// Borrow handles POST /v1/loans
func (h *HTTPHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.Identity(r)

	var req borrowRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	res, err := h.engine.Borrow(r.Context(), actor, BorrowRequest{
		UserID:         req.UserID,
		BookID:         req.BookID,
		DueDate:        *req.DueDate,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyHeader)),
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if res.Replayed {
		httpx.JSONSuccess(w, r, "book already borrowed with this idempotency key", res, nil)
		return
	}
	httpx.JSONCreated(w, r, "book borrowed", res)
}

// Return handles POST /v1/loans/{id}/return
func (h *HTTPHandler) Return(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.Identity(r)
	res, err := h.engine.Return(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "book returned", res, nil)
}

// Reserve handles POST /v1/books/{id}/reservation
func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.Identity(r)
	b, err := h.engine.Reserve(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONCreated(w, r, "book reserved", b)
}

// CancelReservation handles DELETE /v1/books/{id}/reservation
func (h *HTTPHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpx.Identity(r)
	b, err := h.engine.CancelReservation(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "reservation canceled", b, nil)
}
