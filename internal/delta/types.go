package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", raw)
	}
}

const orderTypeLimit = "limit_order"

// Result is the response envelope shared by every endpoint.
type Result struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Describe renders the envelope error for logs and error classification.
func (r Result) Describe() string {
	if len(r.Error) > 0 && !bytes.Equal(r.Error, []byte("null")) {
		return string(r.Error)
	}
	return "success=false"
}

type OpenOrder struct {
	ID         int64           `json:"id"`
	Side       Side            `json:"side"`
	Size       int64           `json:"size"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// Position is the polled position for one product. HasEntry is false when
// the exchange reports no entry price, which the bot treats as the dead zone.
type Position struct {
	EntryPrice decimal.Decimal
	HasEntry   bool
	Size       int64
}

type positionWire struct {
	EntryPrice json.RawMessage `json:"entry_price"`
	Size       int64           `json:"size"`
}

func decodePosition(raw json.RawMessage) (*Position, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}
	var wire positionWire
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, err
	}
	pos := &Position{Size: wire.Size}
	entry, ok, err := decimalFromRaw(wire.EntryPrice)
	if err != nil {
		return nil, fmt.Errorf("entry_price: %w", err)
	}
	pos.EntryPrice = entry
	pos.HasEntry = ok
	return pos, nil
}

func decimalFromRaw(raw json.RawMessage) (decimal.Decimal, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, false, nil
	}
	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return decimal.Zero, false, err
		}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, false, nil
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

type OrderRequest struct {
	ProductID  int64
	Symbol     string
	LimitPrice decimal.Decimal
	Size       int64
	Side       Side
}

type EditRequest struct {
	ID         int64
	ProductID  int64
	LimitPrice decimal.Decimal
	Size       int64
}

// Wire bodies. Field order here is the field order on the wire and in the
// signature prehash.

type cancelBody struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
}

type leverageBody struct {
	Leverage int `json:"leverage"`
}

type placeBody struct {
	ProductID     int64       `json:"product_id"`
	ProductSymbol string      `json:"product_symbol"`
	LimitPrice    json.Number `json:"limit_price"`
	Size          int64       `json:"size"`
	Side          Side        `json:"side"`
	OrderType     string      `json:"order_type"`
}

type editBody struct {
	ID         int64       `json:"id"`
	ProductID  int64       `json:"product_id"`
	LimitPrice json.Number `json:"limit_price"`
	Size       int64       `json:"size"`
}

type marginBody struct {
	ProductID   int64  `json:"product_id"`
	DeltaMargin string `json:"delta_margin"`
}

func priceToWire(price decimal.Decimal) json.Number {
	return json.Number(price.String())
}
