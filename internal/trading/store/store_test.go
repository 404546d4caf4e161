package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lapinex/lapinex/pkg/errs"
	"github.com/lapinex/lapinex/pkg/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st := New(db, zap.NewNop())
	require.NoError(t, st.AutoMigrate())
	return st
}

func seedOrder(t *testing.T, st *Store, bunnyID, userID uuid.UUID, side, price, remaining string, createdAt time.Time) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:        uuid.New(),
		UserID:    userID,
		BunnyID:   bunnyID,
		Side:      side,
		Price:     dec(price),
		Quantity:  dec(remaining),
		Remaining: dec(remaining),
		CreatedAt: createdAt,
	}
	require.NoError(t, st.CreateOrder(st.DB(), order))
	return order
}

func TestLockedCandidatesPriority(t *testing.T) {
	st := newTestStore(t)
	bunnyID := uuid.New()
	taker := uuid.New()
	makerA := uuid.New()
	makerB := uuid.New()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Insert out of priority order on purpose.
	late100 := seedOrder(t, st, bunnyID, makerA, models.OrderSideSell, "100", "1", base.Add(5*time.Second))
	early101 := seedOrder(t, st, bunnyID, makerB, models.OrderSideSell, "101", "1", base)
	early100 := seedOrder(t, st, bunnyID, makerB, models.OrderSideSell, "100", "1", base.Add(time.Second))
	own99 := seedOrder(t, st, bunnyID, taker, models.OrderSideSell, "99", "1", base)

	candidates, err := st.LockedCandidates(st.DB(), bunnyID, models.OrderSideSell, taker)
	require.NoError(t, err)
	require.Len(t, candidates, 3, "taker's own order is excluded")

	// Ascending price for sells, then created_at, then id.
	assert.Equal(t, early100.ID, candidates[0].ID)
	assert.Equal(t, late100.ID, candidates[1].ID)
	assert.Equal(t, early101.ID, candidates[2].ID)
	for _, c := range candidates {
		assert.NotEqual(t, own99.ID, c.ID)
	}
}

func TestLockedCandidatesBuySideDescending(t *testing.T) {
	st := newTestStore(t)
	bunnyID := uuid.New()
	maker := uuid.New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedOrder(t, st, bunnyID, maker, models.OrderSideBuy, "98", "1", base)
	best := seedOrder(t, st, bunnyID, maker, models.OrderSideBuy, "102", "1", base.Add(time.Hour))

	candidates, err := st.LockedCandidates(st.DB(), bunnyID, models.OrderSideBuy, uuid.New())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, best.ID, candidates[0].ID, "highest bid first regardless of age")
}

func TestFilledQuantitySumsBothSides(t *testing.T) {
	st := newTestStore(t)
	orderID := uuid.New()

	require.NoError(t, st.CreateTrade(st.DB(), &models.Trade{
		ID: uuid.New(), BunnyID: uuid.New(), BuyOrderID: orderID,
		BuyUserID: uuid.New(), SellUserID: uuid.New(),
		Price: dec("100"), Quantity: dec("3"), CreatedAt: time.Now(),
	}))
	require.NoError(t, st.CreateTrade(st.DB(), &models.Trade{
		ID: uuid.New(), BunnyID: uuid.New(), SellOrderID: orderID,
		BuyUserID: uuid.New(), SellUserID: uuid.New(),
		Price: dec("100"), Quantity: dec("2"), CreatedAt: time.Now(),
	}))

	filled, err := st.FilledQuantity(st.DB(), orderID)
	require.NoError(t, err)
	assert.True(t, filled.Equal(dec("5")), "got %s", filled)

	filled, err = st.FilledQuantity(st.DB(), uuid.New())
	require.NoError(t, err)
	assert.True(t, filled.IsZero())
}

func TestOrderForUpdateNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.OrderForUpdate(st.DB(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrOrderNotFound)
}

func TestDeleteOrderTwice(t *testing.T) {
	st := newTestStore(t)
	order := seedOrder(t, st, uuid.New(), uuid.New(), models.OrderSideBuy, "100", "1", time.Now())

	require.NoError(t, st.DeleteOrder(st.DB(), order.ID))
	assert.ErrorIs(t, st.DeleteOrder(st.DB(), order.ID), errs.ErrOrderNotFound)
}

func TestBunnyLookup(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.DB().Create(&models.Bunny{
		ID: uuid.New(), Symbol: "FLOP", Name: "Flopsy", TotalSupply: dec("100"), CreatedAt: time.Now(),
	}).Error)

	bunny, err := st.BunnyBySymbol(context.Background(), "FLOP")
	require.NoError(t, err)
	assert.Equal(t, "Flopsy", bunny.Name)

	_, err = st.BunnyBySymbol(context.Background(), "MISSING")
	assert.ErrorIs(t, err, errs.ErrBunnyNotFound)
}

func TestLastTradePriceEmpty(t *testing.T) {
	st := newTestStore(t)
	price, err := st.LastTradePrice(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}
