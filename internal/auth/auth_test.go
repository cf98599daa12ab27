package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(" s3cret ")
	assert.Equal(t, ModeToken, svc.Mode())

	assert.NoError(t, svc.Authenticate("Bearer s3cret"))
	assert.NoError(t, svc.Authenticate("bearer s3cret"))
	assert.ErrorIs(t, svc.Authenticate(""), ErrMissingToken)
	assert.ErrorIs(t, svc.Authenticate("Bearer nope"), ErrInvalidToken)
	assert.ErrorIs(t, svc.Authenticate("Basic s3cret"), ErrInvalidToken)
	assert.ErrorIs(t, svc.Authenticate("s3cret"), ErrInvalidToken)
}

func TestDisabledServiceAllowsEverything(t *testing.T) {
	assert.Equal(t, ModeDisabled, NewService("").Mode())
	assert.NoError(t, NewService("").Authenticate(""))

	var nilSvc *Service
	assert.Equal(t, ModeDisabled, nilSvc.Mode())
	assert.NoError(t, nilSvc.Authenticate("anything"))
}

func TestMiddleware(t *testing.T) {
	svc := NewService("s3cret", WithAuditLogger(quiet()))
	handler := svc.Middleware(MiddlewareConfig{AuditEvent: "mentions.process"})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
