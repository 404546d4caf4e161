package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Bunny is one tradable instrument from the fixed catalogue.
type Bunny struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	Symbol      string          `json:"symbol" gorm:"uniqueIndex"`
	Name        string          `json:"name"`
	TotalSupply decimal.Decimal `json:"total_supply" gorm:"type:decimal(32,8)"`
	CreatedAt   time.Time       `json:"created_at"`
}

// User carries the cash balance side of the ledger. Identity and
// authentication live outside this service; rows here are provisioned by it.
type User struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	Username    string          `json:"username" gorm:"uniqueIndex"`
	CashBalance decimal.Decimal `json:"cash_balance" gorm:"type:decimal(32,8)"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Order is a resting limit order. Remaining > 0 holds for every persisted
// row: a fully filled or cancelled order is deleted, never stored at zero.
type Order struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index"`
	BunnyID   uuid.UUID       `json:"bunny_id" gorm:"type:uuid;index:idx_orders_book,priority:1"`
	Side      string          `json:"side" gorm:"index:idx_orders_book,priority:2"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(32,8);index:idx_orders_book,priority:3"`
	Quantity  decimal.Decimal `json:"quantity" gorm:"type:decimal(32,8)"`
	Remaining decimal.Decimal `json:"remaining" gorm:"type:decimal(32,8)"`
	CreatedAt time.Time       `json:"created_at"`
}

// Trade records one match. Price is always the resting (maker) order's limit
// price. Fee and refund amounts are kept for ledger reconciliation; a trade
// row is never mutated or deleted.
type Trade struct {
	ID          uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	BunnyID     uuid.UUID       `json:"bunny_id" gorm:"type:uuid;index"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id" gorm:"type:uuid;index"`
	SellOrderID uuid.UUID       `json:"sell_order_id" gorm:"type:uuid;index"`
	BuyUserID   uuid.UUID       `json:"buy_user_id" gorm:"type:uuid;index"`
	SellUserID  uuid.UUID       `json:"sell_user_id" gorm:"type:uuid;index"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(32,8)"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(32,8)"`
	BuyerFee    decimal.Decimal `json:"buyer_fee" gorm:"type:decimal(32,8)"`
	SellerFee   decimal.Decimal `json:"seller_fee" gorm:"type:decimal(32,8)"`
	Refund      decimal.Decimal `json:"refund" gorm:"type:decimal(32,8)"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Holding is a user's position in one bunny. Quantity never goes negative;
// the reservation accountant enforces that before any mutation. A holding
// emptied by a sale is deleted.
type Holding struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;uniqueIndex:idx_holdings_user_bunny,priority:1"`
	BunnyID   uuid.UUID       `json:"bunny_id" gorm:"type:uuid;uniqueIndex:idx_holdings_user_bunny,priority:2"`
	Quantity  decimal.Decimal `json:"quantity" gorm:"type:decimal(32,8)"`
	CostBasis decimal.Decimal `json:"cost_basis" gorm:"type:decimal(32,8)"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderBookLevel is one aggregated price level, derived from Order rows on
// demand and never persisted.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBookSnapshot is the leveled view of one bunny's book.
type OrderBookSnapshot struct {
	Symbol         string           `json:"symbol"`
	Bids           []OrderBookLevel `json:"bids"`
	Asks           []OrderBookLevel `json:"asks"`
	LastTradePrice decimal.Decimal  `json:"last_trade_price"`
	ServerTimeMs   int64            `json:"server_time_ms"`
}
