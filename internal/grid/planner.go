package grid

import (
	"delta-grid-bot/internal/delta"

	"github.com/shopspring/decimal"
)

// Leg is one rung of the fixed grid, relative to the entry price.
type Leg struct {
	Leverage int
	Offset   decimal.Decimal
	Size     int64
	Side     delta.Side
}

// Order is a leg resolved against a concrete entry price.
type Order struct {
	Leverage   int
	LimitPrice decimal.Decimal
	Size       int64
	Side       delta.Side
}

const (
	// EditOffset is the price shift applied to resting orders on scale-in.
	EditOffset = 500
	// MarginThreshold is the smallest position size that triggers a top-up.
	MarginThreshold = 432
)

type rung struct {
	offset   int64
	size     int64
	side     delta.Side
	leverage int
}

// long is the grid placed when a long position of one contract opens.
var long = []rung{
	{offset: 500, size: 2, side: delta.SideSell, leverage: LeverageForSize(1)},
	{offset: -750, size: 1, side: delta.SideBuy, leverage: 10},
	{offset: -1250, size: 4, side: delta.SideBuy, leverage: 10},
	{offset: -1750, size: 6, side: delta.SideBuy, leverage: 25},
	{offset: -2250, size: 24, side: delta.SideBuy, leverage: 25},
	{offset: -2750, size: 36, side: delta.SideBuy, leverage: 25},
	{offset: -3250, size: 144, side: delta.SideBuy, leverage: 35},
	{offset: -3750, size: 216, side: delta.SideBuy, leverage: 45},
	{offset: -4250, size: 864, side: delta.SideBuy, leverage: 60},
	{offset: -4750, size: 1296, side: delta.SideBuy, leverage: 75},
}

// Legs returns the grid for a trigger size. Only +1 and -1 have a grid;
// every other size yields nil.
func Legs(signedSize int64) []Leg {
	var sign int64
	switch signedSize {
	case 1:
		sign = 1
	case -1:
		sign = -1
	default:
		return nil
	}
	legs := make([]Leg, 0, len(long))
	for _, r := range long {
		side := r.side
		if sign < 0 {
			side = side.Opposite()
		}
		legs = append(legs, Leg{
			Leverage: r.leverage,
			Offset:   decimal.NewFromInt(r.offset * sign),
			Size:     r.size,
			Side:     side,
		})
	}
	return legs
}

// Plan resolves the grid for signedSize against entry. The entry price is
// truncated to whole units before offsets are applied.
func Plan(entry decimal.Decimal, signedSize int64) []Order {
	legs := Legs(signedSize)
	if len(legs) == 0 {
		return nil
	}
	base := entry.Truncate(0)
	orders := make([]Order, 0, len(legs))
	for _, leg := range legs {
		orders = append(orders, Order{
			Leverage:   leg.Leverage,
			LimitPrice: base.Add(leg.Offset),
			Size:       leg.Size,
			Side:       leg.Side,
		})
	}
	return orders
}

func LeverageForSize(absSize int64) int {
	switch absSize {
	case 1, 2, 6:
		return 10
	case 18:
		return 25
	default:
		return 10
	}
}

// MarginTopUp returns the delta_margin amount for a position size. Sizes
// without a tier get no top-up.
func MarginTopUp(absSize int64) (string, bool) {
	switch absSize {
	case 432, 1296:
		return "200", true
	case 2592:
		return "400", true
	default:
		return "", false
	}
}

// EditSide is the side of resting orders that get edited when the position
// grows: sells for a long, buys for a short.
func EditSide(signedSize int64) delta.Side {
	if signedSize > 0 {
		return delta.SideSell
	}
	return delta.SideBuy
}

// EditTarget returns the new price and size for a resting order once the
// position reaches signedSize. The new size is |signedSize|+1 whatever the
// order's own size was, so a close order always covers the whole position.
func EditTarget(order delta.OpenOrder, signedSize int64) (decimal.Decimal, int64) {
	shift := decimal.NewFromInt(EditOffset)
	price := order.LimitPrice.Add(shift)
	if order.Side == delta.SideSell {
		price = order.LimitPrice.Sub(shift)
	}
	return price, abs(signedSize) + 1
}

// Reversal flips a preserved order to the opposite side, moved by offset
// away from it.
func Reversal(order delta.OpenOrder, offset decimal.Decimal, leverage int) Order {
	price := order.LimitPrice.Add(offset)
	if order.Side == delta.SideSell {
		price = order.LimitPrice.Sub(offset)
	}
	return Order{
		Leverage:   leverage,
		LimitPrice: price,
		Size:       order.Size,
		Side:       order.Side.Opposite(),
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
