package book

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendingapi/internal/httpx"
)

type HTTPHandler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *HTTPHandler {
	return &HTTPHandler{service: service}
}

type createBookRequest struct {
	Title  string `json:"title" validate:"notblank,max=255"`
	Author string `json:"author" validate:"notblank,max=255"`
	Genre  string `json:"genre" validate:"notblank,max=100"`
	ISBN   string `json:"isbn" validate:"omitempty,isbn"`
}

// updateBookRequest has no lending fields; DecodeJSON rejects status, issuedTo and
// reservedFor as unknown.
type updateBookRequest struct {
	Title  *string `json:"title" validate:"omitempty,notblank,max=255"`
	Author *string `json:"author" validate:"omitempty,notblank,max=255"`
	Genre  *string `json:"genre" validate:"omitempty,notblank,max=100"`
	ISBN   *string `json:"isbn" validate:"omitempty,isbn"`
}

// List handles GET /v1/books
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := ParseListParams(r.URL.Query())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	page, err := h.service.List(r.Context(), params)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.JSONSuccess(w, r, "books retrieved", page.Items, map[string]any{
		"pagination": page.Pagination,
	})
}

// Get handles GET /v1/books/{id}
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "book retrieved", b, nil)
}

// Create handles POST /v1/books
func (h *HTTPHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	b, err := h.service.Create(r.Context(), NewBook{
		Title:  req.Title,
		Author: req.Author,
		Genre:  req.Genre,
		ISBN:   req.ISBN,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONCreated(w, r, "book created", b)
}

// Update handles PATCH /v1/books/{id}
func (h *HTTPHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := httpx.ValidateStruct(req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	b, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), UpdateFields{
		Title:  req.Title,
		Author: req.Author,
		Genre:  req.Genre,
		ISBN:   req.ISBN,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "book updated", b, nil)
}

// Delete handles DELETE /v1/books/{id}
func (h *HTTPHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, "book deleted", nil, nil)
}
