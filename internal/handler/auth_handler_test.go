package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

type authServiceMock struct {
	loginReq     models.LoginRequest
	logoutToken  string
	logoutUserID string
}

func (m *authServiceMock) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if req.Password != "secret123" {
		return nil, appErrors.ErrInvalidCredentials
	}
	return &models.LoginResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *authServiceMock) Refresh(_ context.Context, req models.RefreshTokenRequest) (*models.LoginResponse, error) {
	if req.RefreshToken != "refresh" {
		return nil, appErrors.ErrUnauthorized
	}
	return &models.LoginResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
}

func (m *authServiceMock) Logout(_ context.Context, refreshToken, userID, _, _ string) error {
	m.logoutToken = refreshToken
	m.logoutUserID = userID
	return nil
}

func TestAuthHandlerLogin(t *testing.T) {
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"rev@example.org","password":"secret123"}`))
	c.Request.Header.Set("User-Agent", "test-agent")
	h.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"access_token":"access"`)
	assert.Equal(t, "test-agent", mockSvc.loginReq.UserAgent)

	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{"email":"rev@example.org","password":"nope"}`))
	h.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/auth/login", []byte(`{`))
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerRefresh(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})

	c, w := newGinContext(http.MethodPost, "/auth/refresh", []byte(`{"refresh_token":"refresh"}`))
	h.Refresh(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "refresh-2")

	c, w = newGinContext(http.MethodPost, "/auth/refresh", []byte(`{"refresh_token":"stale"}`))
	h.Refresh(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerLogout(t *testing.T) {
	mockSvc := &authServiceMock{}
	h := NewAuthHandler(mockSvc)

	c, w := newGinContext(http.MethodPost, "/auth/logout", []byte(`{"refresh_token":"refresh"}`))
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newGinContext(http.MethodPost, "/auth/logout", []byte(`{"refresh_token":"refresh"}`))
	withReviewer(c)
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "refresh", mockSvc.logoutToken)
	assert.Equal(t, "u-1", mockSvc.logoutUserID)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	c, w := newGinContext(http.MethodGet, "/auth/me", nil)
	withReviewer(c)

	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rev@example.org")
}
