package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lapinex/lapinex/internal/infrastructure/config"
	"github.com/lapinex/lapinex/internal/marketdata"
	"github.com/lapinex/lapinex/internal/trading/engine"
	"github.com/lapinex/lapinex/internal/trading/money"
	"github.com/lapinex/lapinex/internal/trading/store"
	"github.com/lapinex/lapinex/pkg/models"
)

type apiEnv struct {
	server *Server
	store  *store.Store
	bunny  *models.Bunny
	user   *models.User
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	logger := zap.NewNop()
	st := store.New(db, logger)
	require.NoError(t, st.AutoMigrate())

	bunny := &models.Bunny{
		ID: uuid.New(), Symbol: "CLVR", Name: "Clover",
		TotalSupply: decimal.RequireFromString("1000"), CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(bunny).Error)
	user := &models.User{
		ID: uuid.New(), Username: "alice",
		CashBalance: decimal.RequireFromString("100000"), CreatedAt: time.Now(),
	}
	require.NoError(t, db.Create(user).Error)

	eng := engine.New(st, money.NewPolicy(decimal.RequireFromString("0.001")),
		marketdata.NopPublisher{}, nil,
		config.TradingConfig{FeeRate: decimal.RequireFromString("0.001"), SnapshotMaxLevels: 20, SnapshotPerSide: 10},
		logger)
	hub := marketdata.NewHub(config.WSConfig{}, logger)

	return &apiEnv{
		server: NewServer(eng, st, hub, logger),
		store:  st,
		bunny:  bunny,
		user:   user,
	}
}

func (e *apiEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListBunnies(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/bunnies", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Bunnies []models.Bunny `json:"bunnies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Bunnies, 1)
	assert.Equal(t, "CLVR", resp.Bunnies[0].Symbol)
}

func TestPlaceOrderRests(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "5", "price": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result engine.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEqual(t, uuid.Nil, result.OrderID)
	assert.True(t, result.RemainingQuantity.Equal(decimal.RequireFromString("5")))
}

func TestPlaceOrderRequiresCallerHeader(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", "", gin.H{
		"side": "BUY", "quantity": "5", "price": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrderUnknownBunny(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/NOPE/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "5", "price": "100",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "100000", "price": "100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPlaceOrderRejectsBadPayload(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "5",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing price")

	rec = env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "five", "price": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "non-numeric quantity")

	rec = env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "SHORT", "quantity": "5", "price": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown side")
}

func TestCancelOrderFlow(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "5", "price": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var result engine.OrderResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	// A stranger may not cancel it.
	rec = env.do(t, http.MethodDelete, "/api/v1/bunnies/CLVR/orders/"+result.OrderID.String(), uuid.NewString(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/bunnies/CLVR/orders/"+result.OrderID.String(), env.user.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Cancelling again reports it gone.
	rec = env.do(t, http.MethodDelete, "/api/v1/bunnies/CLVR/orders/"+result.OrderID.String(), env.user.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrderBadID(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodDelete, "/api/v1/bunnies/CLVR/orders/not-a-uuid", env.user.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderBookEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bunnies/CLVR/orders", env.user.ID.String(), gin.H{
		"side": "BUY", "quantity": "5", "price": "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/bunnies/CLVR/book", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot models.OrderBookSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "CLVR", snapshot.Symbol)
	require.Len(t, snapshot.Bids, 1)
	assert.Empty(t, snapshot.Asks)
	assert.Greater(t, snapshot.ServerTimeMs, int64(0))
}
