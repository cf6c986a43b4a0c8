package delta

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type capturedRequest struct {
	Method    string
	Target    string
	Body      string
	APIKey    string
	Signature string
	Timestamp string
	Type      string
}

type fakeExchange struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	response string
}

func (f *fakeExchange) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Method:    r.Method,
		Target:    r.URL.RequestURI(),
		Body:      string(body),
		APIKey:    r.Header.Get("api-key"),
		Signature: r.Header.Get("signature"),
		Timestamp: r.Header.Get("timestamp"),
		Type:      r.Header.Get("Content-Type"),
	})
	status, response := f.status, f.response
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(response))
}

func (f *fakeExchange) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatalf("expected a request")
	}
	return f.requests[len(f.requests)-1]
}

const fixedTS = 1700000000

func newTestClient(t *testing.T, fake *fakeExchange) (*Client, *Signer) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	signer, err := NewSigner("test-key", "test-secret")
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	client, err := NewClient(srv.URL, 2*time.Second, signer, zap.NewNop())
	if err != nil {
		t.Fatalf("client error: %v", err)
	}
	client.SetClock(func() time.Time { return time.Unix(fixedTS, 0) })
	return client, signer
}

func TestPlaceOrderSignsTransmittedBody(t *testing.T) {
	fake := &fakeExchange{response: `{"success":true,"result":{"id":1}}`}
	client, signer := newTestClient(t, fake)
	res, err := client.PlaceOrder(context.Background(), OrderRequest{
		ProductID:  27,
		Symbol:     "BTCUSD",
		LimitPrice: decimal.NewFromInt(50500),
		Size:       2,
		Side:       SideSell,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success envelope")
	}
	req := fake.last(t)
	wantBody := `{"product_id":27,"product_symbol":"BTCUSD","limit_price":50500,"size":2,"side":"sell","order_type":"limit_order"}`
	if req.Body != wantBody {
		t.Fatalf("unexpected body %s", req.Body)
	}
	if req.Method != http.MethodPost || req.Target != "/v2/orders" {
		t.Fatalf("unexpected request %s %s", req.Method, req.Target)
	}
	if req.APIKey != "test-key" || req.Timestamp != "1700000000" || req.Type != "application/json" {
		t.Fatalf("unexpected headers: %+v", req)
	}
	if want := signer.Sign("POST", fixedTS, "/v2/orders", req.Body); req.Signature != want {
		t.Fatalf("signature mismatch: got %s want %s", req.Signature, want)
	}
}

func TestReadEndpointsSignPathAndQuery(t *testing.T) {
	fake := &fakeExchange{response: `{"success":true,"result":[{"id":7,"side":"buy","size":2,"limit_price":"49250.5"},{"id":8,"side":"sell","size":1,"limit_price":51000}]}`}
	client, signer := newTestClient(t, fake)
	orders, err := client.OpenOrders(context.Background(), 27)
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != 7 || orders[0].Side != SideBuy || orders[0].Size != 2 || !orders[0].LimitPrice.Equal(decimal.RequireFromString("49250.5")) {
		t.Fatalf("unexpected first order: %+v", orders[0])
	}
	if !orders[1].LimitPrice.Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("unexpected second price: %s", orders[1].LimitPrice)
	}
	req := fake.last(t)
	if req.Target != "/v2/orders?state=open&product_id=27" {
		t.Fatalf("unexpected target %s", req.Target)
	}
	if req.Type != "" {
		t.Fatalf("expected no content type on GET, got %q", req.Type)
	}
	if want := signer.Sign("GET", fixedTS, "/v2/orders", "?state=open&product_id=27"); req.Signature != want {
		t.Fatalf("signature mismatch")
	}
}

func TestMutationBodies(t *testing.T) {
	fake := &fakeExchange{response: `{"success":true,"result":{}}`}
	client, _ := newTestClient(t, fake)
	ctx := context.Background()

	cases := []struct {
		name   string
		call   func() error
		method string
		target string
		body   string
	}{
		{
			name: "cancel",
			call: func() error {
				_, err := client.CancelOrder(ctx, 27, 42)
				return err
			},
			method: http.MethodDelete,
			target: "/v2/orders",
			body:   `{"id":42,"product_id":27}`,
		},
		{
			name: "leverage",
			call: func() error {
				_, err := client.SetLeverage(ctx, 27, 25)
				return err
			},
			method: http.MethodPost,
			target: "/v2/products/27/orders/leverage",
			body:   `{"leverage":25}`,
		},
		{
			name: "edit",
			call: func() error {
				_, err := client.EditOrder(ctx, EditRequest{ID: 42, ProductID: 27, LimitPrice: decimal.NewFromInt(50000), Size: 3})
				return err
			},
			method: http.MethodPut,
			target: "/v2/orders",
			body:   `{"id":42,"product_id":27,"limit_price":50000,"size":3}`,
		},
		{
			name: "margin",
			call: func() error {
				_, err := client.AddMargin(ctx, 27, "200")
				return err
			},
			method: http.MethodPost,
			target: "/v2/positions/change_margin",
			body:   `{"product_id":27,"delta_margin":"200"}`,
		},
	}
	for _, tc := range cases {
		if err := tc.call(); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		req := fake.last(t)
		if req.Method != tc.method || req.Target != tc.target || req.Body != tc.body {
			t.Fatalf("%s: unexpected request %s %s %s", tc.name, req.Method, req.Target, req.Body)
		}
	}
}

func TestBrokerErrorCarriesStatusAndBody(t *testing.T) {
	fake := &fakeExchange{status: http.StatusBadRequest, response: `{"success":false,"error":{"code":"insufficient_margin"}}`}
	client, _ := newTestClient(t, fake)
	_, err := client.SetLeverage(context.Background(), 27, 10)
	var brokerErr *BrokerError
	if !errors.As(err, &brokerErr) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if brokerErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", brokerErr.StatusCode)
	}
	if brokerErr.Body != `{"success":false,"error":{"code":"insufficient_margin"}}` {
		t.Fatalf("unexpected body %q", brokerErr.Body)
	}
}

func TestParseErrorOnMalformedEnvelope(t *testing.T) {
	fake := &fakeExchange{response: `not json`}
	client, _ := newTestClient(t, fake)
	_, err := client.CancelOrder(context.Background(), 27, 1)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestTransportError(t *testing.T) {
	signer, _ := NewSigner("k", "s")
	client, err := NewClient("http://127.0.0.1:1", 200*time.Millisecond, signer, nil)
	if err != nil {
		t.Fatalf("client error: %v", err)
	}
	_, err = client.Position(context.Background(), 27)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPositionDecoding(t *testing.T) {
	cases := []struct {
		name     string
		response string
		nilPos   bool
		hasEntry bool
		entry    string
		size     int64
	}{
		{name: "entry string", response: `{"success":true,"result":{"entry_price":"50000.7","size":1}}`, hasEntry: true, entry: "50000.7", size: 1},
		{name: "entry null", response: `{"success":true,"result":{"entry_price":null,"size":0}}`, hasEntry: false},
		{name: "entry empty", response: `{"success":true,"result":{"entry_price":"","size":0}}`, hasEntry: false},
		{name: "short", response: `{"success":true,"result":{"entry_price":51000,"size":-18}}`, hasEntry: true, entry: "51000", size: -18},
		{name: "no result", response: `{"success":true,"result":{}}`, nilPos: true},
	}
	for _, tc := range cases {
		fake := &fakeExchange{response: tc.response}
		client, _ := newTestClient(t, fake)
		pos, err := client.Position(context.Background(), 27)
		if err != nil {
			t.Fatalf("%s: position: %v", tc.name, err)
		}
		if tc.nilPos {
			if pos != nil {
				t.Fatalf("%s: expected nil position, got %+v", tc.name, pos)
			}
			continue
		}
		if pos == nil {
			t.Fatalf("%s: expected position", tc.name)
		}
		if pos.HasEntry != tc.hasEntry || pos.Size != tc.size {
			t.Fatalf("%s: unexpected position %+v", tc.name, pos)
		}
		if tc.hasEntry && !pos.EntryPrice.Equal(decimal.RequireFromString(tc.entry)) {
			t.Fatalf("%s: expected entry %s, got %s", tc.name, tc.entry, pos.EntryPrice)
		}
		if req := fake.last(t); req.Target != "/v2/positions?product_id=27" {
			t.Fatalf("%s: unexpected target %s", tc.name, req.Target)
		}
	}
}

func TestPositionUnsuccessfulEnvelope(t *testing.T) {
	fake := &fakeExchange{response: `{"success":false,"error":{"code":"bad_schema"}}`}
	client, _ := newTestClient(t, fake)
	_, err := client.Position(context.Background(), 27)
	if !errors.Is(err, ErrUnsuccessful) {
		t.Fatalf("expected ErrUnsuccessful, got %v", err)
	}
}
