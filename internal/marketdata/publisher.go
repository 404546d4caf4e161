// Package marketdata broadcasts order-book changes and price ticks to
// subscribers. The trading core only calls the Publisher interface; the
// transports here (websocket hub, kafka feed) are interchangeable and always
// invoked after the settlement transaction commits.
package marketdata

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/lapinex/lapinex/pkg/models"
)

// OrderBookDiff reports the levels touched by one settled match batch or one
// cancellation. Upserts carry the new aggregate; deletes name emptied levels.
type OrderBookDiff struct {
	Symbol         string                  `json:"symbol"`
	BidUpserts     []models.OrderBookLevel `json:"bid_upserts"`
	BidDeletes     []decimal.Decimal       `json:"bid_deletes"`
	AskUpserts     []models.OrderBookLevel `json:"ask_upserts"`
	AskDeletes     []decimal.Decimal       `json:"ask_deletes"`
	LastTradePrice decimal.Decimal         `json:"last_trade_price"`
	ServerTimeMs   int64                   `json:"server_time_ms"`
}

// PriceTick is emitted on every trade that changes the last-trade price.
type PriceTick struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// Publisher delivers marketdata events. Delivery is best-effort;
// implementations log failures instead of propagating them into the trading
// path.
type Publisher interface {
	PublishDiff(ctx context.Context, diff OrderBookDiff)
	PublishTick(ctx context.Context, tick PriceTick)
}

// MultiPublisher fans events out to several transports.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishDiff(ctx context.Context, diff OrderBookDiff) {
	for _, p := range m {
		p.PublishDiff(ctx, diff)
	}
}

func (m MultiPublisher) PublishTick(ctx context.Context, tick PriceTick) {
	for _, p := range m {
		p.PublishTick(ctx, tick)
	}
}

// NopPublisher drops everything. Used in tests and when no transport is
// configured.
type NopPublisher struct{}

func (NopPublisher) PublishDiff(ctx context.Context, diff OrderBookDiff) {}
func (NopPublisher) PublishTick(ctx context.Context, tick PriceTick)     {}
