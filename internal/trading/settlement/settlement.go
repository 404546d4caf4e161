// Package settlement moves holdings and cash between counterparties for each
// trade the match loop produces. All mutations happen inside the caller's
// transaction; a failure anywhere rolls back the whole match batch.
package settlement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lapinex/lapinex/internal/trading/money"
	"github.com/lapinex/lapinex/internal/trading/store"
	"github.com/lapinex/lapinex/pkg/models"
)

// Settler applies the cash and holding legs of a trade.
type Settler struct {
	store  *store.Store
	policy money.Policy
	logger *zap.Logger
}

// NewSettler creates a Settler.
func NewSettler(st *store.Store, policy money.Policy, logger *zap.Logger) *Settler {
	return &Settler{store: st, policy: policy, logger: logger}
}

// Settle executes one trade of quantity q at the maker's execPrice between
// buyOrder and sellOrder. buyerIsTaker marks the buy side as the aggressor;
// an aggressing buyer whose limit exceeds the execution price gets the
// price-improvement refund, since admission reserved cash at the limit.
//
// The buyer is charged at their own limit price minus the refund, so on the
// resulting trade row buyer_paid = notional + buyer_fee and seller_received =
// notional - seller_fee hold exactly; the fee sink per trade is buyer_fee +
// seller_fee.
func (s *Settler) Settle(tx *gorm.DB, bunnyID uuid.UUID, buyOrder, sellOrder *models.Order, q, execPrice decimal.Decimal, buyerIsTaker bool) (*models.Trade, error) {
	notional := s.policy.Notional(q, execPrice)
	sellerFee := s.policy.Fee(notional)

	charge := s.policy.Reserve(q, buyOrder.Price)
	refund := decimal.Zero
	if buyerIsTaker && buyOrder.Price.GreaterThan(execPrice) {
		refund = s.policy.Refund(q, buyOrder.Price, execPrice)
	}
	buyerPaid := charge.Sub(refund)
	buyerFee := buyerPaid.Sub(notional)

	// Seller legs: position out, cash in.
	seller, err := s.store.UserForUpdate(tx, sellOrder.UserID)
	if err != nil {
		return nil, fmt.Errorf("settlement: seller row: %w", err)
	}
	sellerHolding, err := s.store.HoldingForUpdate(tx, sellOrder.UserID, bunnyID)
	if err != nil {
		return nil, fmt.Errorf("settlement: seller holding: %w", err)
	}
	if sellerHolding == nil || sellerHolding.Quantity.LessThan(q) {
		// Admission guarantees coverage; reaching this means the
		// reservation accounting and the store disagree.
		return nil, fmt.Errorf("settlement: seller %s holding short of trade quantity %s", sellOrder.UserID, q)
	}
	sellerHolding.Quantity = sellerHolding.Quantity.Sub(q)
	sellerHolding.CostBasis = sellerHolding.CostBasis.Sub(notional)
	if sellerHolding.Quantity.IsZero() {
		if err := s.store.DeleteHolding(tx, sellerHolding.ID); err != nil {
			return nil, err
		}
	} else {
		if err := s.store.SaveHolding(tx, sellerHolding); err != nil {
			return nil, err
		}
	}
	seller.CashBalance = seller.CashBalance.Add(notional.Sub(sellerFee))
	if err := s.store.SaveUser(tx, seller); err != nil {
		return nil, err
	}

	// Buyer legs: cash out at the limit, position in at the execution price.
	buyer, err := s.store.UserForUpdate(tx, buyOrder.UserID)
	if err != nil {
		return nil, fmt.Errorf("settlement: buyer row: %w", err)
	}
	buyer.CashBalance = buyer.CashBalance.Sub(buyerPaid)
	if buyer.CashBalance.IsNegative() {
		return nil, fmt.Errorf("settlement: buyer %s balance would go negative", buyOrder.UserID)
	}
	if err := s.store.SaveUser(tx, buyer); err != nil {
		return nil, err
	}

	buyerHolding, err := s.store.HoldingForUpdate(tx, buyOrder.UserID, bunnyID)
	if err != nil {
		return nil, fmt.Errorf("settlement: buyer holding: %w", err)
	}
	if buyerHolding == nil {
		buyerHolding = &models.Holding{
			ID:        uuid.New(),
			UserID:    buyOrder.UserID,
			BunnyID:   bunnyID,
			Quantity:  decimal.Zero,
			CostBasis: decimal.Zero,
		}
	}
	buyerHolding.Quantity = buyerHolding.Quantity.Add(q)
	buyerHolding.CostBasis = buyerHolding.CostBasis.Add(notional)
	if err := s.store.SaveHolding(tx, buyerHolding); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		ID:          uuid.New(),
		BunnyID:     bunnyID,
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyUserID:   buyOrder.UserID,
		SellUserID:  sellOrder.UserID,
		Price:       execPrice,
		Quantity:    q,
		BuyerFee:    buyerFee,
		SellerFee:   sellerFee,
		Refund:      refund,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateTrade(tx, trade); err != nil {
		return nil, err
	}

	s.logger.Debug("trade settled",
		zap.String("trade_id", trade.ID.String()),
		zap.String("price", execPrice.String()),
		zap.String("quantity", q.String()),
		zap.String("refund", refund.String()),
	)
	return trade, nil
}
