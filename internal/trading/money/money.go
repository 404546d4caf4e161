// Package money holds the fixed-point fee and rounding rules used by every
// monetary computation in the engine. All amounts are whole currency units;
// rounding is HALF_UP at scale 0 everywhere. Mixing rounding modes breaks the
// conservation ledger, so no caller does its own arithmetic on notionals.
package money

import "github.com/shopspring/decimal"

// Policy is an immutable fee configuration injected at startup.
type Policy struct {
	feeRate decimal.Decimal
}

// NewPolicy builds a policy from the configured fee rate (e.g. 0.001).
func NewPolicy(feeRate decimal.Decimal) Policy {
	return Policy{feeRate: feeRate}
}

// FeeRate returns the configured rate.
func (p Policy) FeeRate() decimal.Decimal {
	return p.feeRate
}

// Notional is the rounded cash value of quantity at price.
// decimal.Round rounds half away from zero, which is HALF_UP for the
// non-negative amounts handled here.
func (p Policy) Notional(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Round(0)
}

// Fee is the rounded fee on a notional amount.
func (p Policy) Fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(p.feeRate).Round(0)
}

// Reserve is the worst-case cash requirement of a buy order: notional at the
// limit price plus the fee on it. Admission gates buy orders against the sum
// of this over the user's open buys.
func (p Policy) Reserve(quantity, price decimal.Decimal) decimal.Decimal {
	n := p.Notional(quantity, price)
	return n.Add(p.Fee(n))
}

// Refund is the price-improvement credit owed to an aggressing buyer whose
// limit exceeds the execution price: the notional difference plus the fee
// that was reserved on that difference.
func (p Policy) Refund(quantity, limitPrice, execPrice decimal.Decimal) decimal.Decimal {
	diff := p.Notional(quantity, limitPrice.Sub(execPrice))
	return diff.Add(p.Fee(diff))
}
