package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := context.WithValue(req.Context(), ctxUserID, int64(100))
	ctx = context.WithValue(ctx, ctxUsername, "alice")
	return req.WithContext(ctx)
}

func TestValidateGuessHandlerRejectsMissingFields(t *testing.T) {
	h := NewGameHandler(nil, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing guess", `{"song":"Blinding Lights"}`},
		{"missing song", `{"guess":"blinding lights"}`},
		{"empty body", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ValidateGuessHandler(rec, authedRequest(http.MethodPost, "/api/validate-guess", tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestValidateGuessHandlerRequiresAuth(t *testing.T) {
	h := NewGameHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/validate-guess", strings.NewReader(`{"guess":"x","song":"y"}`))
	h.ValidateGuessHandler(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
