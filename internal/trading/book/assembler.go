// Package book derives leveled order-book views from resting order rows. The
// functions here are pure: the store stays the single source of truth and a
// level is recomputed from rows on demand, never cached as authority.
package book

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lapinex/lapinex/pkg/models"
)

// NormalizePrice renders a price with trailing zeros stripped, so "100.00"
// and "100" aggregate into one level.
func NormalizePrice(p decimal.Decimal) string {
	s := p.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}

// Levels groups remaining quantity by normalized price per side. Levels whose
// aggregate is not positive are dropped. Bids come back sorted by price
// descending, asks ascending.
func Levels(orders []models.Order) (bids, asks []models.OrderBookLevel) {
	type bucket struct {
		price decimal.Decimal
		qty   decimal.Decimal
	}
	agg := func(side string) []models.OrderBookLevel {
		buckets := make(map[string]*bucket)
		for _, o := range orders {
			if o.Side != side {
				continue
			}
			key := NormalizePrice(o.Price)
			b, ok := buckets[key]
			if !ok {
				b = &bucket{price: o.Price}
				buckets[key] = b
			}
			b.qty = b.qty.Add(o.Remaining)
		}
		levels := make([]models.OrderBookLevel, 0, len(buckets))
		for _, b := range buckets {
			if !b.qty.IsPositive() {
				continue
			}
			levels = append(levels, models.OrderBookLevel{Price: b.price, Quantity: b.qty})
		}
		return levels
	}

	bids = agg(models.OrderSideBuy)
	asks = agg(models.OrderSideSell)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	return bids, asks
}

// Cap limits a snapshot to maxTotal levels, preferring perSide on each side.
// A side with fewer than perSide levels lends its unused capacity to the
// other side.
func Cap(bids, asks []models.OrderBookLevel, perSide, maxTotal int) ([]models.OrderBookLevel, []models.OrderBookLevel) {
	bidTake := min(len(bids), perSide)
	askTake := min(len(asks), perSide)
	if rem := maxTotal - bidTake - askTake; rem > 0 {
		if extra := min(len(bids)-bidTake, rem); extra > 0 {
			bidTake += extra
			rem -= extra
		}
		if extra := min(len(asks)-askTake, rem); extra > 0 {
			askTake += extra
		}
	}
	return bids[:bidTake], asks[:askTake]
}

// SideDiff classifies each touched price against the freshly assembled side:
// an aggregate above zero is an upsert, an emptied level is a delete. Only
// touched prices are reported.
func SideDiff(levels []models.OrderBookLevel, touched []decimal.Decimal) (upserts []models.OrderBookLevel, deletes []decimal.Decimal) {
	byPrice := make(map[string]models.OrderBookLevel, len(levels))
	for _, l := range levels {
		byPrice[NormalizePrice(l.Price)] = l
	}
	seen := make(map[string]bool, len(touched))
	for _, p := range touched {
		key := NormalizePrice(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		if l, ok := byPrice[key]; ok {
			upserts = append(upserts, l)
		} else {
			deletes = append(deletes, p)
		}
	}
	return upserts, deletes
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
