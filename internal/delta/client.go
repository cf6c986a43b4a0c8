package delta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.india.delta.exchange"

// ErrUnsuccessful is returned by read endpoints when a 2xx envelope reports
// success=false.
var ErrUnsuccessful = errors.New("envelope success=false")

const (
	ordersPath    = "/v2/orders"
	positionsPath = "/v2/positions"
	marginPath    = "/v2/positions/change_margin"
)

type Client struct {
	http   *resty.Client
	signer *Signer
	log    *zap.Logger
	now    func() time.Time
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, log *zap.Logger) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	// Retries stay off here: broker rejections are classified and retried by
	// the executor, and a transport-level replay would re-sign with a new
	// timestamp anyway.
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetPreRequestHook(restoreSignedBody)
	return &Client{
		http:   httpClient,
		signer: signer,
		log:    log,
		now:    time.Now,
	}, nil
}

// SetClock overrides the timestamp source used for signing.
func (c *Client) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Client) OpenOrders(ctx context.Context, productID int64) ([]OpenOrder, error) {
	const op = "open orders"
	res, err := c.do(ctx, op, request{
		method: http.MethodGet,
		path:   ordersPath,
		query:  "state=open&product_id=" + strconv.FormatInt(productID, 10),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnsuccessful, res.Describe())
	}
	var orders []OpenOrder
	if len(res.Result) == 0 || string(res.Result) == "null" {
		return orders, nil
	}
	if err := json.Unmarshal(res.Result, &orders); err != nil {
		return nil, &ParseError{Op: op, Body: string(res.Result), Err: err}
	}
	return orders, nil
}

func (c *Client) CancelOrder(ctx context.Context, productID, orderID int64) (Result, error) {
	return c.send(ctx, "cancel order", http.MethodDelete, ordersPath, cancelBody{ID: orderID, ProductID: productID})
}

func (c *Client) SetLeverage(ctx context.Context, productID int64, leverage int) (Result, error) {
	path := "/v2/products/" + strconv.FormatInt(productID, 10) + "/orders/leverage"
	return c.send(ctx, "set leverage", http.MethodPost, path, leverageBody{Leverage: leverage})
}

func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (Result, error) {
	if order.Size <= 0 {
		return Result{}, errors.New("order size must be > 0")
	}
	body := placeBody{
		ProductID:     order.ProductID,
		ProductSymbol: order.Symbol,
		LimitPrice:    priceToWire(order.LimitPrice),
		Size:          order.Size,
		Side:          order.Side,
		OrderType:     orderTypeLimit,
	}
	return c.send(ctx, "place order", http.MethodPost, ordersPath, body)
}

func (c *Client) EditOrder(ctx context.Context, edit EditRequest) (Result, error) {
	body := editBody{
		ID:         edit.ID,
		ProductID:  edit.ProductID,
		LimitPrice: priceToWire(edit.LimitPrice),
		Size:       edit.Size,
	}
	return c.send(ctx, "edit order", http.MethodPut, ordersPath, body)
}

func (c *Client) AddMargin(ctx context.Context, productID int64, amount string) (Result, error) {
	if strings.TrimSpace(amount) == "" {
		return Result{}, errors.New("margin amount is required")
	}
	return c.send(ctx, "add margin", http.MethodPost, marginPath, marginBody{ProductID: productID, DeltaMargin: amount})
}

// Position returns nil when the exchange reports no position object.
func (c *Client) Position(ctx context.Context, productID int64) (*Position, error) {
	const op = "position"
	res, err := c.do(ctx, op, request{
		method: http.MethodGet,
		path:   positionsPath,
		query:  "product_id=" + strconv.FormatInt(productID, 10),
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrUnsuccessful, res.Describe())
	}
	pos, err := decodePosition(res.Result)
	if err != nil {
		return nil, &ParseError{Op: op, Body: string(res.Result), Err: err}
	}
	return pos, nil
}

// request is the single source for both the signature prehash and the bytes
// put on the wire.
type request struct {
	method string
	path   string
	query  string
	body   []byte
}

func (r request) target() string {
	if r.query == "" {
		return r.path
	}
	return r.path + "?" + r.query
}

func (r request) payload() string {
	if r.query != "" {
		return "?" + r.query + string(r.body)
	}
	return string(r.body)
}

func (c *Client) send(ctx context.Context, op, method, path string, body any) (Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("%s: encode body: %w", op, err)
	}
	return c.do(ctx, op, request{method: method, path: path, body: payload})
}

func (c *Client) do(ctx context.Context, op string, req request) (Result, error) {
	ts := c.now().Unix()
	signature := c.signer.Sign(req.method, ts, req.path, req.payload())
	c.log.Debug("delta request",
		zap.String("op", op),
		zap.String("method", req.method),
		zap.String("target", req.target()),
		zap.ByteString("body", req.body),
	)
	r := c.http.R().
		SetContext(context.WithValue(ctx, signedBodyKey{}, req.body)).
		SetHeader("api-key", c.signer.APIKey()).
		SetHeader("signature", signature).
		SetHeader("timestamp", strconv.FormatInt(ts, 10))
	if len(req.body) > 0 {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.body)
	}
	resp, err := r.Execute(req.method, req.target())
	if err != nil {
		return Result{}, &TransportError{Op: op, Err: err}
	}
	raw := resp.Body()
	if !resp.IsSuccess() {
		return Result{}, &BrokerError{Op: op, StatusCode: resp.StatusCode(), Body: strings.TrimSpace(string(raw))}
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, &ParseError{Op: op, Body: string(raw), Err: err}
	}
	c.log.Debug("delta response", zap.String("op", op), zap.Bool("success", res.Success), zap.ByteString("body", raw))
	return res, nil
}

type signedBodyKey struct{}

// restoreSignedBody puts the signed bytes back on the outgoing request when the
// transport dropped them; resty does not send DELETE payloads unless they are
// explicitly allowed.
func restoreSignedBody(_ *resty.Client, req *http.Request) error {
	body, _ := req.Context().Value(signedBodyKey{}).([]byte)
	if len(body) == 0 || req.ContentLength == int64(len(body)) {
		return nil
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return nil
}
