package grid

import (
	"testing"

	"delta-grid-bot/internal/delta"

	"github.com/shopspring/decimal"
)

func TestPlanLongGrid(t *testing.T) {
	orders := Plan(decimal.NewFromInt(50000), 1)
	want := []struct {
		price    int64
		size     int64
		side     delta.Side
		leverage int
	}{
		{50500, 2, delta.SideSell, 10},
		{49250, 1, delta.SideBuy, 10},
		{48750, 4, delta.SideBuy, 10},
		{48250, 6, delta.SideBuy, 25},
		{47750, 24, delta.SideBuy, 25},
		{47250, 36, delta.SideBuy, 25},
		{46750, 144, delta.SideBuy, 35},
		{46250, 216, delta.SideBuy, 45},
		{45750, 864, delta.SideBuy, 60},
		{45250, 1296, delta.SideBuy, 75},
	}
	if len(orders) != len(want) {
		t.Fatalf("expected %d orders, got %d", len(want), len(orders))
	}
	for i, w := range want {
		got := orders[i]
		if !got.LimitPrice.Equal(decimal.NewFromInt(w.price)) || got.Size != w.size || got.Side != w.side || got.Leverage != w.leverage {
			t.Fatalf("leg %d: expected %+v, got price=%s size=%d side=%s lev=%d", i, w, got.LimitPrice, got.Size, got.Side, got.Leverage)
		}
	}
}

func TestPlanIsMirrored(t *testing.T) {
	entry := decimal.NewFromInt(61234)
	long := Plan(entry, 1)
	short := Plan(entry, -1)
	if len(long) != len(short) || len(long) == 0 {
		t.Fatalf("expected equal non-empty plans, got %d and %d", len(long), len(short))
	}
	for i := range long {
		longOffset := long[i].LimitPrice.Sub(entry)
		shortOffset := short[i].LimitPrice.Sub(entry)
		if !longOffset.Equal(shortOffset.Neg()) {
			t.Fatalf("leg %d: offsets %s and %s are not mirrored", i, longOffset, shortOffset)
		}
		if long[i].Side != short[i].Side.Opposite() {
			t.Fatalf("leg %d: sides not flipped", i)
		}
		if long[i].Size != short[i].Size || long[i].Leverage != short[i].Leverage {
			t.Fatalf("leg %d: size or leverage differs", i)
		}
	}
}

func TestPlanTruncatesEntry(t *testing.T) {
	orders := Plan(decimal.RequireFromString("50000.99"), -1)
	if len(orders) == 0 {
		t.Fatalf("expected orders")
	}
	if !orders[0].LimitPrice.Equal(decimal.NewFromInt(49500)) || orders[0].Side != delta.SideBuy {
		t.Fatalf("unexpected first short leg: %s %s", orders[0].LimitPrice, orders[0].Side)
	}
}

func TestPlanOtherSizesAreNoOp(t *testing.T) {
	for _, size := range []int64{0, 2, -2, 18, 1296} {
		if orders := Plan(decimal.NewFromInt(50000), size); len(orders) != 0 {
			t.Fatalf("size %d: expected empty plan, got %d orders", size, len(orders))
		}
	}
}

func TestLeverageForSize(t *testing.T) {
	cases := map[int64]int{1: 10, 2: 10, 6: 10, 18: 25, 3: 10, 7: 10, 864: 10, 1296: 10}
	for size, want := range cases {
		if got := LeverageForSize(size); got != want {
			t.Fatalf("size %d: expected %d, got %d", size, want, got)
		}
	}
}

func TestMarginTopUp(t *testing.T) {
	cases := []struct {
		size   int64
		amount string
		ok     bool
	}{
		{432, "200", true},
		{1296, "200", true},
		{2592, "400", true},
		{864, "", false},
		{2, "", false},
	}
	for _, tc := range cases {
		amount, ok := MarginTopUp(tc.size)
		if amount != tc.amount || ok != tc.ok {
			t.Fatalf("size %d: got %q %v", tc.size, amount, ok)
		}
	}
}

func TestEditTarget(t *testing.T) {
	sell := delta.OpenOrder{ID: 1, Side: delta.SideSell, Size: 2, LimitPrice: decimal.NewFromInt(50500)}
	price, size := EditTarget(sell, 3)
	if !price.Equal(decimal.NewFromInt(50000)) || size != 4 {
		t.Fatalf("sell edit: got %s %d", price, size)
	}
	buy := delta.OpenOrder{ID: 2, Side: delta.SideBuy, Size: 2, LimitPrice: decimal.NewFromInt(49500)}
	price, size = EditTarget(buy, -3)
	if !price.Equal(decimal.NewFromInt(50000)) || size != 4 {
		t.Fatalf("buy edit: got %s %d", price, size)
	}
	if EditSide(3) != delta.SideSell || EditSide(-3) != delta.SideBuy {
		t.Fatalf("unexpected edit sides")
	}
}

func TestEditTargetSizeFollowsPosition(t *testing.T) {
	for _, resting := range []int64{1, 2, 40} {
		order := delta.OpenOrder{ID: 3, Side: delta.SideSell, Size: resting, LimitPrice: decimal.NewFromInt(51000)}
		if _, size := EditTarget(order, 7); size != 8 {
			t.Fatalf("resting size %d: expected 8, got %d", resting, size)
		}
	}
}

func TestReversal(t *testing.T) {
	buy := delta.OpenOrder{ID: 9, Side: delta.SideBuy, Size: 2, LimitPrice: decimal.NewFromInt(49500)}
	order := Reversal(buy, decimal.NewFromInt(1250), 10)
	if order.Side != delta.SideSell || !order.LimitPrice.Equal(decimal.NewFromInt(50750)) || order.Size != 2 || order.Leverage != 10 {
		t.Fatalf("unexpected reversal of buy: %+v", order)
	}
	sell := delta.OpenOrder{ID: 9, Side: delta.SideSell, Size: 2, LimitPrice: decimal.NewFromInt(50500)}
	order = Reversal(sell, decimal.NewFromInt(1250), 10)
	if order.Side != delta.SideBuy || !order.LimitPrice.Equal(decimal.NewFromInt(49250)) {
		t.Fatalf("unexpected reversal of sell: %+v", order)
	}
}
