package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeByKind(t *testing.T) {
	cases := map[*AppError]int{
		BadRequest("x"):    http.StatusBadRequest,
		Unauthorized("x"):  http.StatusUnauthorized,
		Forbidden("x"):     http.StatusForbidden,
		NotFound("x"):      http.StatusNotFound,
		Conflict("x"):      http.StatusConflict,
		Unprocessable("x"): http.StatusUnprocessableEntity,
		Internal("x"):      http.StatusInternalServerError,
	}
	for appErr, want := range cases {
		assert.Equal(t, want, appErr.StatusCode(), string(appErr.Kind()))
	}
}

func TestFromWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("boom")
	appErr := From(cause)
	assert.Equal(t, KindInternal, appErr.Kind())
	assert.ErrorIs(t, appErr, cause)

	forbidden := Forbidden("access denied")
	assert.Same(t, forbidden, From(fmt.Errorf("wrapped: %w", forbidden)))
	assert.Nil(t, From(nil))
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("order not found"))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindForbidden))
	assert.False(t, IsKind(errors.New("plain"), KindNotFound))
}

func TestDetailsAndMessage(t *testing.T) {
	appErr := BadRequest("", WithDetail("field", "status"), WithDetails(map[string]any{"id": "1"}))
	assert.Equal(t, "bad_request", appErr.Message())
	assert.Equal(t, map[string]any{"field": "status", "id": "1"}, appErr.Details())
}

func TestKindForStatus(t *testing.T) {
	cases := map[int]Kind{
		http.StatusBadRequest:            KindBadRequest,
		http.StatusRequestEntityTooLarge: KindBadRequest,
		http.StatusUnauthorized:          KindUnauthorized,
		http.StatusForbidden:             KindForbidden,
		http.StatusNotFound:              KindNotFound,
		http.StatusMethodNotAllowed:      KindBadRequest,
		http.StatusConflict:              KindConflict,
		http.StatusUnprocessableEntity:   KindUnprocessableEntity,
		http.StatusServiceUnavailable:    KindInternal,
	}
	for status, want := range cases {
		assert.Equal(t, want, KindForStatus(status), "status %d", status)
	}
}
