package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	Title  string `json:"title" validate:"notblank,max=20"`
	ISBN   string `json:"isbn" validate:"omitempty,isbn"`
	BookID string `json:"bookId" validate:"required"`
}

func TestValidateStruct_ValidInput(t *testing.T) {
	err := ValidateStruct(testRequest{Title: "Dune", ISBN: "978-0441172719", BookID: "b1"})
	if err != nil {
		t.Errorf("Expected no validation errors, got %v", err)
	}
}

func TestValidateStruct_FieldsUseJSONNames(t *testing.T) {
	err := ValidateStruct(testRequest{Title: "   ", ISBN: "12"})
	require.Error(t, err)

	ve, ok := err.(ValidationErrors)
	require.True(t, ok)
	fields := map[string]string{}
	for _, d := range ve {
		fields[d.Field] = d.Message
	}
	assert.Contains(t, fields["title"], "required")
	assert.Contains(t, fields["isbn"], "ISBN")
	assert.Contains(t, fields["bookId"], "required")
}

func TestWriteError_ValidationErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodPost, "/", nil), ValidateStruct(testRequest{}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `"field":"bookId"`))
}
