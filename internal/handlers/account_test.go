package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"discussion-service/internal/mocks"
	"discussion-service/internal/models"
	"discussion-service/internal/telemetry"
)

func setupAccountRouter(handler *AccountHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/chat/accounts", handler.CreateAccount)
	return r
}

func TestCreateAccount(t *testing.T) {
	gateway := new(mocks.ChatGatewayMock)
	router := setupAccountRouter(NewAccountHandler(gateway, nil))

	gateway.On("CreateUser", mock.Anything).Return(&models.ShadowAccount{Handle: "abcdefgh12345678", UserID: "@abcdefgh12345678:hs", Password: "p"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chat/accounts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"handle":"abcdefgh12345678","user_id":"@abcdefgh12345678:hs","password":"p"}`, rec.Body.String())
	gateway.AssertExpectations(t)
}

func TestCreateAccountFailure(t *testing.T) {
	gateway := new(mocks.ChatGatewayMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.discussions", "discussion-service", "test")
	router := setupAccountRouter(NewAccountHandler(gateway, audit))

	gateway.On("CreateUser", mock.Anything).Return(nil).Once()
	publisher.On("Publish", mock.Anything, "audit.discussions", mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chat/accounts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	gateway.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestDebugAuditRoute(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.discussions", "discussion-service", "test")
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterDebugRoutes(router, audit, true)

	publisher.On("Publish", mock.Anything, "audit.discussions", mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","request_id":"req-1"}`, rec.Body.String())
	publisher.AssertExpectations(t)
}

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterDebugRoutes(router, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
