// Package store is the durable order/trade/holding/balance layer. The
// database is the single source of truth for the book: there is no resident
// in-memory order book, and every read the engine depends on happens under
// row locks inside the caller's transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lapinex/lapinex/pkg/errs"
	"github.com/lapinex/lapinex/pkg/models"
)

// Store wraps the gorm handle with the queries the engine needs.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for transaction scoping.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates the core tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Bunny{},
		&models.User{},
		&models.Order{},
		&models.Trade{},
		&models.Holding{},
	)
}

// forUpdate adds a FOR UPDATE clause on dialects that support it. sqlite
// serializes writers on its own, so the clause is skipped there.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// MapError translates storage errors into the shared taxonomy. Serialization
// failures, deadlocks, and lock timeouts become ErrTransient: nothing was
// committed and the caller may retry the whole operation.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", errs.ErrTransient, pgErr.Code)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errs.ErrTransient, err)
	}
	return err
}

// BunnyBySymbol looks up a catalogue entry.
func (s *Store) BunnyBySymbol(ctx context.Context, symbol string) (*models.Bunny, error) {
	var bunny models.Bunny
	if err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&bunny).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrBunnyNotFound
		}
		return nil, MapError(err)
	}
	return &bunny, nil
}

// Bunnies lists the catalogue.
func (s *Store) Bunnies(ctx context.Context) ([]models.Bunny, error) {
	var bunnies []models.Bunny
	if err := s.db.WithContext(ctx).Order("symbol ASC").Find(&bunnies).Error; err != nil {
		return nil, MapError(err)
	}
	return bunnies, nil
}

// UserForUpdate locks and returns the user's balance row. This is always the
// first lock a placement transaction takes; the fixed acquisition order keeps
// two orders matching against each other from deadlocking.
func (s *Store) UserForUpdate(tx *gorm.DB, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := forUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, MapError(err)
	}
	return &user, nil
}

// HoldingForUpdate locks and returns the user's holding row for a bunny, or
// nil when the user holds none.
func (s *Store) HoldingForUpdate(tx *gorm.DB, userID, bunnyID uuid.UUID) (*models.Holding, error) {
	var holding models.Holding
	err := forUpdate(tx).Where("user_id = ? AND bunny_id = ?", userID, bunnyID).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, MapError(err)
	}
	return &holding, nil
}

// LockedCandidates fetches the opposite-side resting orders for a bunny,
// locked for write, in matching priority: best price first, then creation
// time, then order id as the final tie-break. Orders owned by excludeUser are
// left out (self-trade prevention happens here, before the match loop).
func (s *Store) LockedCandidates(tx *gorm.DB, bunnyID uuid.UUID, side string, excludeUser uuid.UUID) ([]*models.Order, error) {
	priceOrder := "price ASC"
	if side == models.OrderSideBuy {
		priceOrder = "price DESC"
	}
	var orders []*models.Order
	err := forUpdate(tx).
		Where("bunny_id = ? AND side = ? AND user_id <> ?", bunnyID, side, excludeUser).
		Order(priceOrder).
		Order("created_at ASC").
		Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, MapError(err)
	}
	return orders, nil
}

// OpenBuyOrders returns the user's resting buy orders across all bunnies,
// for cash reservation accounting.
func (s *Store) OpenBuyOrders(tx *gorm.DB, userID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := tx.Where("user_id = ? AND side = ?", userID, models.OrderSideBuy).Find(&orders).Error
	if err != nil {
		return nil, MapError(err)
	}
	return orders, nil
}

// OpenSellOrders returns the user's resting sell orders for one bunny, for
// holding reservation accounting.
func (s *Store) OpenSellOrders(tx *gorm.DB, userID, bunnyID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := tx.Where("user_id = ? AND bunny_id = ? AND side = ?", userID, bunnyID, models.OrderSideSell).
		Find(&orders).Error
	if err != nil {
		return nil, MapError(err)
	}
	return orders, nil
}

// OrderForUpdate locks and returns one order scoped to a bunny.
func (s *Store) OrderForUpdate(tx *gorm.DB, bunnyID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := forUpdate(tx).Where("id = ? AND bunny_id = ?", orderID, bunnyID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrOrderNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return &order, nil
}

// CreateOrder persists a new resting order.
func (s *Store) CreateOrder(tx *gorm.DB, order *models.Order) error {
	if err := tx.Create(order).Error; err != nil {
		return MapError(fmt.Errorf("failed to create order: %w", err))
	}
	return nil
}

// SaveOrderRemaining updates an order's remaining quantity in place.
func (s *Store) SaveOrderRemaining(tx *gorm.DB, order *models.Order) error {
	result := tx.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("remaining", order.Remaining)
	if result.Error != nil {
		return MapError(fmt.Errorf("failed to update order remaining: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return errs.ErrOrderNotFound
	}
	return nil
}

// DeleteOrder removes a fully filled or cancelled order. Rows never persist
// with zero remaining.
func (s *Store) DeleteOrder(tx *gorm.DB, orderID uuid.UUID) error {
	result := tx.Where("id = ?", orderID).Delete(&models.Order{})
	if result.Error != nil {
		return MapError(fmt.Errorf("failed to delete order: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return errs.ErrOrderNotFound
	}
	return nil
}

// CreateTrade persists an immutable trade record.
func (s *Store) CreateTrade(tx *gorm.DB, trade *models.Trade) error {
	if err := tx.Create(trade).Error; err != nil {
		return MapError(fmt.Errorf("failed to create trade: %w", err))
	}
	return nil
}

// SaveUser writes back a mutated balance row.
func (s *Store) SaveUser(tx *gorm.DB, user *models.User) error {
	user.UpdatedAt = time.Now()
	if err := tx.Save(user).Error; err != nil {
		return MapError(fmt.Errorf("failed to save user: %w", err))
	}
	return nil
}

// SaveHolding writes back a mutated holding row, creating it when new.
func (s *Store) SaveHolding(tx *gorm.DB, holding *models.Holding) error {
	holding.UpdatedAt = time.Now()
	if err := tx.Save(holding).Error; err != nil {
		return MapError(fmt.Errorf("failed to save holding: %w", err))
	}
	return nil
}

// DeleteHolding removes an emptied holding row.
func (s *Store) DeleteHolding(tx *gorm.DB, holdingID uuid.UUID) error {
	if err := tx.Where("id = ?", holdingID).Delete(&models.Holding{}).Error; err != nil {
		return MapError(fmt.Errorf("failed to delete holding: %w", err))
	}
	return nil
}

// FilledQuantity sums the cumulative traded quantity of an order from the
// trade history. Cancellation uses it to recompute the true remaining
// defensively instead of trusting a possibly stale Remaining column.
func (s *Store) FilledQuantity(tx *gorm.DB, orderID uuid.UUID) (decimal.Decimal, error) {
	type row struct {
		Total decimal.Decimal
	}
	var r row
	err := tx.Model(&models.Trade{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Scan(&r).Error
	if err != nil {
		return decimal.Zero, MapError(fmt.Errorf("failed to sum trade history: %w", err))
	}
	return r.Total, nil
}

// RestingOrders returns all resting orders for a bunny, for book assembly.
// Runs outside the settlement transaction, after commit.
func (s *Store) RestingOrders(ctx context.Context, bunnyID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.WithContext(ctx).Where("bunny_id = ?", bunnyID).Find(&orders).Error
	if err != nil {
		return nil, MapError(err)
	}
	return orders, nil
}

// LastTradePrice returns the most recent trade price for a bunny, or zero
// when the bunny has never traded.
func (s *Store) LastTradePrice(ctx context.Context, bunnyID uuid.UUID) (decimal.Decimal, error) {
	var trade models.Trade
	err := s.db.WithContext(ctx).Where("bunny_id = ?", bunnyID).
		Order("created_at DESC").Order("id DESC").First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, MapError(err)
	}
	return trade.Price, nil
}

// HoldingsByBunny returns every holding of one bunny, for supply audits.
func (s *Store) HoldingsByBunny(ctx context.Context, bunnyID uuid.UUID) ([]models.Holding, error) {
	var holdings []models.Holding
	err := s.db.WithContext(ctx).Where("bunny_id = ?", bunnyID).Find(&holdings).Error
	if err != nil {
		return nil, MapError(err)
	}
	return holdings, nil
}
