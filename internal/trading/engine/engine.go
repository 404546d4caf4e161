// Package engine admits, matches, and cancels orders. Each operation is one
// atomic unit of work over the durable store: a placement locks the user's
// balance row, checks reservations, locks the opposite-side candidates in
// priority order, and runs the match loop with settlement inline. Everything
// commits together or not at all; book recomputation and publishing happen
// only after commit.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lapinex/lapinex/internal/infrastructure/config"
	"github.com/lapinex/lapinex/internal/marketdata"
	"github.com/lapinex/lapinex/internal/trading/book"
	"github.com/lapinex/lapinex/internal/trading/money"
	"github.com/lapinex/lapinex/internal/trading/reservation"
	"github.com/lapinex/lapinex/internal/trading/settlement"
	"github.com/lapinex/lapinex/internal/trading/store"
	"github.com/lapinex/lapinex/pkg/errs"
	"github.com/lapinex/lapinex/pkg/metrics"
	"github.com/lapinex/lapinex/pkg/models"
)

// Engine is the order admission, matching, and settlement core.
type Engine struct {
	db         *gorm.DB
	store      *store.Store
	accountant *reservation.Accountant
	settler    *settlement.Settler
	policy     money.Policy
	publisher  marketdata.Publisher
	priceCache *marketdata.PriceCache
	logger     *zap.Logger

	snapshotPerSide int
	snapshotMax     int
}

// New creates an Engine. priceCache may be nil.
func New(
	st *store.Store,
	policy money.Policy,
	publisher marketdata.Publisher,
	priceCache *marketdata.PriceCache,
	tradingCfg config.TradingConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		db:              st.DB(),
		store:           st,
		accountant:      reservation.NewAccountant(st, policy),
		settler:         settlement.NewSettler(st, policy, logger),
		policy:          policy,
		publisher:       publisher,
		priceCache:      priceCache,
		logger:          logger,
		snapshotPerSide: tradingCfg.SnapshotPerSide,
		snapshotMax:     tradingCfg.SnapshotMaxLevels,
	}
}

// PlaceOrderRequest is an incoming limit order.
type PlaceOrderRequest struct {
	Symbol   string
	Side     string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	UserID   uuid.UUID
}

// OrderResult reports what happened to an admitted order.
type OrderResult struct {
	OrderID           uuid.UUID       `json:"order_id"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}

// matchOutcome carries what one committed placement changed, for publishing.
type matchOutcome struct {
	order        *models.Order
	trades       []*models.Trade
	makerTouched []decimal.Decimal // prices on the opposite side hit by fills
	rested       bool
}

// PlaceOrder validates, admits, matches, and settles one order.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	start := time.Now()
	if err := validate(req); err != nil {
		metrics.OrdersRejected.WithLabelValues("validation").Inc()
		return nil, err
	}

	bunny, err := e.store.BunnyBySymbol(ctx, req.Symbol)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues("bunny_not_found").Inc()
		return nil, err
	}

	prevLast, err := e.store.LastTradePrice(ctx, bunny.ID)
	if err != nil {
		return nil, err
	}

	outcome := &matchOutcome{}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.placeInTx(tx, bunny, req, outcome)
	})
	if err != nil {
		if errors.Is(err, errs.ErrInsufficientBalance) {
			metrics.OrdersRejected.WithLabelValues("insufficient_balance").Inc()
		} else if errors.Is(err, errs.ErrInsufficientHolding) {
			metrics.OrdersRejected.WithLabelValues("insufficient_holding").Inc()
		}
		return nil, store.MapError(err)
	}

	metrics.OrdersProcessed.WithLabelValues(req.Side).Inc()
	metrics.TradesExecuted.Add(float64(len(outcome.trades)))
	metrics.OrderLatency.Observe(time.Since(start).Seconds())

	e.publishAfterPlace(ctx, bunny, req, outcome, prevLast)

	return &OrderResult{
		OrderID:           outcome.order.ID,
		FilledQuantity:    outcome.order.Quantity.Sub(outcome.order.Remaining),
		RemainingQuantity: outcome.order.Remaining,
	}, nil
}

// placeInTx runs admission, persist, and the match loop under one
// transaction. Lock order is fixed: the placing user's balance row first,
// their holding row for sells, then candidate orders in priority order, then
// counterparty rows as trades settle.
func (e *Engine) placeInTx(tx *gorm.DB, bunny *models.Bunny, req PlaceOrderRequest, outcome *matchOutcome) error {
	user, err := e.store.UserForUpdate(tx, req.UserID)
	if err != nil {
		return err
	}

	var holding *models.Holding
	if req.Side == models.OrderSideSell {
		holding, err = e.store.HoldingForUpdate(tx, req.UserID, bunny.ID)
		if err != nil {
			return err
		}
	}

	if err := e.admit(tx, user, holding, bunny, req); err != nil {
		return err
	}

	order := &models.Order{
		ID:        uuid.New(),
		UserID:    req.UserID,
		BunnyID:   bunny.ID,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateOrder(tx, order); err != nil {
		return err
	}
	outcome.order = order

	candidates, err := e.store.LockedCandidates(tx, bunny.ID, oppositeSide(req.Side), req.UserID)
	if err != nil {
		return err
	}

	for _, maker := range candidates {
		if order.Remaining.IsZero() {
			break
		}
		if !crosses(req.Side, req.Price, maker.Price) {
			// Candidates are sorted best price first; nothing
			// further down can cross either.
			break
		}
		if isSelfTrade(req.UserID, maker) {
			continue
		}
		tradable := tradableQuantity(order.Remaining, maker.Remaining)
		if !tradable.IsPositive() {
			continue
		}

		buyOrder, sellOrder := order, maker
		if req.Side == models.OrderSideSell {
			buyOrder, sellOrder = maker, order
		}
		// Maker-price execution: the resting order sets the price.
		trade, err := e.settler.Settle(tx, bunny.ID, buyOrder, sellOrder, tradable, maker.Price, req.Side == models.OrderSideBuy)
		if err != nil {
			return err
		}
		outcome.trades = append(outcome.trades, trade)
		outcome.makerTouched = append(outcome.makerTouched, maker.Price)

		order.Remaining = order.Remaining.Sub(tradable)
		maker.Remaining = maker.Remaining.Sub(tradable)
		if maker.Remaining.IsZero() {
			if err := e.store.DeleteOrder(tx, maker.ID); err != nil {
				return err
			}
		} else {
			if err := e.store.SaveOrderRemaining(tx, maker); err != nil {
				return err
			}
		}
	}

	if order.Remaining.IsZero() {
		// Fully filled without resting; zero-remaining rows never persist.
		if err := e.store.DeleteOrder(tx, order.ID); err != nil {
			return err
		}
		outcome.rested = false
		return nil
	}
	if err := e.store.SaveOrderRemaining(tx, order); err != nil {
		return err
	}
	outcome.rested = true
	return nil
}

// admit rejects the order when its requirement exceeds the caller's
// unreserved cash or holdings.
func (e *Engine) admit(tx *gorm.DB, user *models.User, holding *models.Holding, bunny *models.Bunny, req PlaceOrderRequest) error {
	if req.Side == models.OrderSideBuy {
		available, err := e.accountant.AvailableCash(tx, user)
		if err != nil {
			return err
		}
		if e.policy.Reserve(req.Quantity, req.Price).GreaterThan(available) {
			return errs.ErrInsufficientBalance
		}
		return nil
	}
	available, err := e.accountant.AvailableQuantity(tx, req.UserID, bunny.ID, holding)
	if err != nil {
		return err
	}
	if req.Quantity.GreaterThan(available) {
		return errs.ErrInsufficientHolding
	}
	return nil
}

// CancelOrder deletes a resting order owned by callerID, implicitly releasing
// its reservation. The true remaining is recomputed from trade history under
// the row lock, so a cancel racing a fill cannot refund twice.
func (e *Engine) CancelOrder(ctx context.Context, symbol string, orderID, callerID uuid.UUID) error {
	bunny, err := e.store.BunnyBySymbol(ctx, symbol)
	if err != nil {
		return err
	}

	var cancelled models.Order
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := e.store.OrderForUpdate(tx, bunny.ID, orderID)
		if err != nil {
			return err
		}
		if order.UserID != callerID {
			return errs.ErrNotOwner
		}
		if order.Side == models.OrderSideSell {
			// Same lock order as placement: holding row before the
			// order goes away.
			if _, err := e.store.HoldingForUpdate(tx, order.UserID, bunny.ID); err != nil {
				return err
			}
		}
		filled, err := e.store.FilledQuantity(tx, order.ID)
		if err != nil {
			return err
		}
		if !order.Quantity.Sub(filled).IsPositive() {
			return errs.ErrAlreadyFilled
		}
		cancelled = *order
		return e.store.DeleteOrder(tx, order.ID)
	})
	if err != nil {
		return store.MapError(err)
	}

	e.publishAfterCancel(ctx, bunny, &cancelled)
	return nil
}

// Snapshot assembles the leveled book view for one bunny.
func (e *Engine) Snapshot(ctx context.Context, symbol string) (*models.OrderBookSnapshot, error) {
	bunny, err := e.store.BunnyBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	resting, err := e.store.RestingOrders(ctx, bunny.ID)
	if err != nil {
		return nil, err
	}
	bids, asks := book.Levels(resting)
	bids, asks = book.Cap(bids, asks, e.snapshotPerSide, e.snapshotMax)

	last, ok := e.priceCache.Get(ctx, symbol)
	if !ok {
		last, err = e.store.LastTradePrice(ctx, bunny.ID)
		if err != nil {
			return nil, err
		}
	}

	return &models.OrderBookSnapshot{
		Symbol:         symbol,
		Bids:           bids,
		Asks:           asks,
		LastTradePrice: last,
		ServerTimeMs:   time.Now().UnixMilli(),
	}, nil
}

// publishAfterPlace recomputes the affected levels and emits the diff and any
// price ticks. Runs strictly after commit: subscribers never observe
// uncommitted book state.
func (e *Engine) publishAfterPlace(ctx context.Context, bunny *models.Bunny, req PlaceOrderRequest, outcome *matchOutcome, prevLast decimal.Decimal) {
	resting, err := e.store.RestingOrders(ctx, bunny.ID)
	if err != nil {
		e.logger.Error("failed to reassemble book after placement",
			zap.String("symbol", bunny.Symbol), zap.Error(err))
		return
	}
	bids, asks := book.Levels(resting)

	takerTouched := []decimal.Decimal{}
	if outcome.rested || len(outcome.trades) > 0 {
		takerTouched = append(takerTouched, req.Price)
	}
	var bidTouched, askTouched []decimal.Decimal
	if req.Side == models.OrderSideBuy {
		bidTouched, askTouched = takerTouched, outcome.makerTouched
	} else {
		bidTouched, askTouched = outcome.makerTouched, takerTouched
	}

	last := prevLast
	now := time.Now().UnixMilli()
	for _, t := range outcome.trades {
		if !t.Price.Equal(last) {
			last = t.Price
			e.publisher.PublishTick(ctx, marketdata.PriceTick{
				Symbol:      bunny.Symbol,
				Price:       t.Price,
				TimestampMs: now,
			})
		}
	}
	if len(outcome.trades) > 0 {
		e.priceCache.Set(ctx, bunny.Symbol, last)
	}

	bidUpserts, bidDeletes := book.SideDiff(bids, bidTouched)
	askUpserts, askDeletes := book.SideDiff(asks, askTouched)
	e.publisher.PublishDiff(ctx, marketdata.OrderBookDiff{
		Symbol:         bunny.Symbol,
		BidUpserts:     bidUpserts,
		BidDeletes:     bidDeletes,
		AskUpserts:     askUpserts,
		AskDeletes:     askDeletes,
		LastTradePrice: last,
		ServerTimeMs:   now,
	})
}

// publishAfterCancel emits the diff for the single level a cancellation
// touched.
func (e *Engine) publishAfterCancel(ctx context.Context, bunny *models.Bunny, order *models.Order) {
	resting, err := e.store.RestingOrders(ctx, bunny.ID)
	if err != nil {
		e.logger.Error("failed to reassemble book after cancel",
			zap.String("symbol", bunny.Symbol), zap.Error(err))
		return
	}
	bids, asks := book.Levels(resting)

	last, ok := e.priceCache.Get(ctx, bunny.Symbol)
	if !ok {
		if last, err = e.store.LastTradePrice(ctx, bunny.ID); err != nil {
			e.logger.Error("failed to read last trade price", zap.Error(err))
			last = decimal.Zero
		}
	}

	touched := []decimal.Decimal{order.Price}
	diff := marketdata.OrderBookDiff{
		Symbol:         bunny.Symbol,
		LastTradePrice: last,
		ServerTimeMs:   time.Now().UnixMilli(),
	}
	if order.Side == models.OrderSideBuy {
		diff.BidUpserts, diff.BidDeletes = book.SideDiff(bids, touched)
	} else {
		diff.AskUpserts, diff.AskDeletes = book.SideDiff(asks, touched)
	}
	e.publisher.PublishDiff(ctx, diff)
}

// validate rejects malformed requests before any lock is taken.
func validate(req PlaceOrderRequest) error {
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return errs.ErrValidation
	}
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return errs.ErrValidation
	}
	if req.UserID == uuid.Nil {
		return errs.ErrValidation
	}
	return nil
}
