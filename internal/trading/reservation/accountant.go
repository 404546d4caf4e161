// Package reservation computes the funds and holdings a user has already
// committed through their own resting orders. The hold is virtual: nothing is
// deducted from the balance row, it only limits what new orders the user may
// admit. Totals are recomputed from the order rows on every check, under the
// same locks as the admission itself, so the figures can never drift from the
// store.
package reservation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lapinex/lapinex/internal/trading/money"
	"github.com/lapinex/lapinex/internal/trading/store"
	"github.com/lapinex/lapinex/pkg/models"
)

// Accountant gates order admission against virtual reservations.
type Accountant struct {
	store  *store.Store
	policy money.Policy
}

// NewAccountant creates an Accountant.
func NewAccountant(st *store.Store, policy money.Policy) *Accountant {
	return &Accountant{store: st, policy: policy}
}

// AvailableCash returns the user's cash minus the gross reservation of their
// open buy orders. Each open buy reserves its remaining notional at the limit
// price plus the worst-case fee. Must run inside the admission transaction,
// after the user row is locked.
func (a *Accountant) AvailableCash(tx *gorm.DB, user *models.User) (decimal.Decimal, error) {
	open, err := a.store.OpenBuyOrders(tx, user.ID)
	if err != nil {
		return decimal.Zero, err
	}
	reserved := decimal.Zero
	for _, o := range open {
		reserved = reserved.Add(a.policy.Reserve(o.Remaining, o.Price))
	}
	return user.CashBalance.Sub(reserved), nil
}

// AvailableQuantity returns the user's holding in a bunny minus the quantity
// already committed by their open sell orders for that bunny.
func (a *Accountant) AvailableQuantity(tx *gorm.DB, userID, bunnyID uuid.UUID, holding *models.Holding) (decimal.Decimal, error) {
	held := decimal.Zero
	if holding != nil {
		held = holding.Quantity
	}
	open, err := a.store.OpenSellOrders(tx, userID, bunnyID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, o := range open {
		held = held.Sub(o.Remaining)
	}
	return held, nil
}
