package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lapinex/lapinex/pkg/models"
)

// crosses reports whether a taker at takerPrice can trade against a maker at
// makerPrice: a buyer must bid at least the maker's ask, a seller must offer
// at or below the maker's bid. Candidates arrive best price first, so the
// match loop stops at the first maker that does not cross.
func crosses(takerSide string, takerPrice, makerPrice decimal.Decimal) bool {
	if takerSide == models.OrderSideBuy {
		return takerPrice.GreaterThanOrEqual(makerPrice)
	}
	return takerPrice.LessThanOrEqual(makerPrice)
}

// isSelfTrade reports whether the maker belongs to the taker. The candidate
// query already excludes the taker's own orders; this predicate re-checks in
// the loop so the rule cannot be lost to a query change.
func isSelfTrade(takerUserID uuid.UUID, maker *models.Order) bool {
	return maker.UserID == takerUserID
}

// tradableQuantity is the executable size between the two orders at this
// step of the loop.
func tradableQuantity(takerRemaining, makerRemaining decimal.Decimal) decimal.Decimal {
	if takerRemaining.LessThan(makerRemaining) {
		return takerRemaining
	}
	return makerRemaining
}

// oppositeSide returns the side a taker matches against.
func oppositeSide(side string) string {
	if side == models.OrderSideBuy {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}
