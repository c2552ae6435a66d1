package loan

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingapi/internal/auth"
	"lendingapi/internal/httpx"
)

func newTestRouter(h *HTTPHandler, actor auth.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), actor)))
		})
	})
	r.Get("/v1/loans", h.List)
	r.Get("/v1/loans/{id}", h.Get)
	r.Patch("/v1/loans/{id}", h.Update)
	r.Delete("/v1/loans/{id}", h.Delete)
	return r
}

func TestHTTPHandler_List(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := NewMockRepository(ctrl)
	router := newTestRouter(NewHTTPHandler(NewService(mockRepo)), auth.Identity{UserID: "alice", Role: auth.RoleUser})

	mockRepo.EXPECT().List(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, f ListFilter) ([]View, int, error) {
			assert.Equal(t, "alice", f.UserID)
			assert.Equal(t, StateOpen, f.State)
			return []View{{Transaction: Transaction{ID: "t1", UserID: "alice"}}}, 1, nil
		})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/loans?state=open", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Payload []View `json:"payload"`
		Meta    struct {
			Pagination Pagination `json:"pagination"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Payload, 1)
	assert.Equal(t, 1, resp.Meta.Pagination.TotalPages)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/loans?userId=bob", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHTTPHandler_Update(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := NewMockRepository(ctrl)
	router := newTestRouter(NewHTTPHandler(NewService(mockRepo)), auth.Identity{UserID: "root", Role: auth.RoleAdmin})

	t.Run("missing returnDate", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/v1/loans/t1", strings.NewReader(`{}`)))

		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp httpx.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Len(t, resp.Details, 1)
		assert.Equal(t, "returnDate", resp.Details[0].Field)
	})

	t.Run("closed loan", func(t *testing.T) {
		due := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
		mockRepo.EXPECT().UpdateReturnDate(gomock.Any(), "t1", gomock.Any()).
			DoAndReturn(func(_ any, _ string, got time.Time) (Transaction, error) {
				assert.True(t, due.Equal(got))
				return Transaction{}, ErrAlreadyReturned
			})

		body := `{"returnDate":"` + due.Format(time.RFC3339) + `"}`
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/v1/loans/t1", strings.NewReader(body)))
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHTTPHandler_GetAndDelete(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepo := NewMockRepository(ctrl)
	router := newTestRouter(NewHTTPHandler(NewService(mockRepo)), auth.Identity{UserID: "root", Role: auth.RoleAdmin})

	mockRepo.EXPECT().GetView(gomock.Any(), "missing").Return(View{}, ErrNotFound)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/loans/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	mockRepo.EXPECT().Delete(gomock.Any(), "t1").Return(nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/loans/t1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
