package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	sentinel := New(KindConflict, "book is already checked out")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", Validation("title is required"), KindValidation},
		{"wrapped sentinel", fmt.Errorf("borrow: %w", sentinel), KindConflict},
		{"deadline", context.DeadlineExceeded, KindInfrastructure},
		{"wrapped cancel", fmt.Errorf("query: %w", context.Canceled), KindInfrastructure},
		{"infrastructure", Infrastructure(errors.New("conn reset"), "db down"), KindInfrastructure},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, KindNotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindForbidden.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, KindInfrastructure.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
	assert.True(t, KindInfrastructure.Retryable())
	assert.False(t, KindConflict.Retryable())
}

func TestSentinelIdentity(t *testing.T) {
	sentinel := New(KindNotFound, "book not found")
	wrapped := fmt.Errorf("get: %w", sentinel)

	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, "book not found", MessageOf(wrapped))
}

func TestMessageOf_HidesCauses(t *testing.T) {
	err := Infrastructure(errors.New("dial tcp 10.0.0.1:5432: connection refused"), "storage unavailable")
	assert.Equal(t, "storage unavailable", MessageOf(err))
	assert.Equal(t, "internal server error", MessageOf(errors.New("secret detail")))
	assert.Equal(t, "storage temporarily unavailable", MessageOf(context.DeadlineExceeded))
}

func TestFromContext(t *testing.T) {
	assert.NoError(t, FromContext(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FromContext(ctx)
	assert.True(t, Is(err, KindInfrastructure))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFieldOf(t *testing.T) {
	assert.Equal(t, "dueDate", FieldOf(FieldValidation("dueDate", "must not be in the past")))
	assert.Equal(t, "", FieldOf(Validation("x")))
}
