package jupiter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const testMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func TestSwapAmount(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.QuoteRequest
		in, out string
		amount  uint64
		wantErr bool
	}{
		{
			name:   "buy converts price times quantity to lamports",
			req:    domain.QuoteRequest{TradeType: domain.TradeTypeBuy, TokenAddress: testMint, Price: decimal.RequireFromString("0.001"), Quantity: decimal.NewFromInt(100)},
			in:     domain.NativeMint,
			out:    testMint,
			amount: 100_000_000,
		},
		{
			name:   "sell uses token decimals",
			req:    domain.QuoteRequest{TradeType: domain.TradeTypeSell, TokenAddress: testMint, TokenDecimals: 5, Quantity: decimal.RequireFromString("2.5")},
			in:     testMint,
			out:    domain.NativeMint,
			amount: 250_000,
		},
		{
			name:    "dust rounds to zero",
			req:     domain.QuoteRequest{TradeType: domain.TradeTypeBuy, TokenAddress: testMint, Price: decimal.RequireFromString("0.0000000001"), Quantity: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "unknown trade type",
			req:     domain.QuoteRequest{TradeType: "hold"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out, amount, err := SwapAmount(tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if in != tt.in || out != tt.out || amount != tt.amount {
				t.Fatalf("got (%s, %s, %d), want (%s, %s, %d)", in, out, amount, tt.in, tt.out, tt.amount)
			}
		})
	}
}

func TestGetQuoteAndSwap(t *testing.T) {
	quoteBody := `{
		"inputMint":"So11111111111111111111111111111111111111112",
		"inAmount":"100000000",
		"outputMint":"` + testMint + `",
		"outAmount":"4200000",
		"slippageBps":50,
		"priceImpactPct":"0.01",
		"routePlan":[
			{"swapInfo":{"ammKey":"a","label":"Raydium","feeAmount":"2500","feeMint":"So11111111111111111111111111111111111111112"},"percent":100},
			{"swapInfo":{"ammKey":"b","label":"Orca","feeAmount":"10","feeMint":"` + testMint + `"},"percent":100}
		]
	}`
	unsigned := []byte{1, 0, 1, 2, 3}

	var gotSwap swapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			q := r.URL.Query()
			if q.Get("amount") != "100000000" || q.Get("slippageBps") != "50" || q.Get("inputMint") != domain.NativeMint {
				t.Errorf("unexpected quote query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, quoteBody)
		case "/swap":
			if err := json.NewDecoder(r.Body).Decode(&gotSwap); err != nil {
				t.Errorf("decode swap body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(swapResponse{SwapTransaction: base64.StdEncoding.EncodeToString(unsigned)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 50, time.Second)
	quote, err := c.GetQuote(context.Background(), domain.QuoteRequest{
		TradeType:    domain.TradeTypeBuy,
		TokenAddress: testMint,
		Price:        decimal.RequireFromString("0.001"),
		Quantity:     decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.OutAmount != 4_200_000 || quote.FeeLamports != 2500 {
		t.Fatalf("quote = %+v", quote)
	}
	if len(quote.RouteLabels) != 2 {
		t.Fatalf("route labels = %v", quote.RouteLabels)
	}

	payload, err := c.GetSwapPayload(context.Background(), quote, "Wallet111")
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if string(payload) != string(unsigned) {
		t.Fatalf("payload = %v", payload)
	}
	if !gotSwap.WrapAndUnwrapSol || gotSwap.UserPublicKey != "Wallet111" {
		t.Fatalf("swap request = %+v", gotSwap)
	}
	var echoed map[string]any
	if err := json.Unmarshal(gotSwap.QuoteResponse, &echoed); err != nil || echoed["outAmount"] != "4200000" {
		t.Fatalf("quote not echoed verbatim: %s", gotSwap.QuoteResponse)
	}
}

func TestGetQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 50, time.Second).GetQuote(context.Background(), domain.QuoteRequest{
		TradeType: domain.TradeTypeSell, TokenAddress: testMint, TokenDecimals: 6, Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, domain.ErrNoRoute) {
		t.Fatalf("want ErrNoRoute, got %v", err)
	}
}

func TestGetQuoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 50, time.Second).GetQuote(context.Background(), domain.QuoteRequest{
		TradeType: domain.TradeTypeSell, TokenAddress: testMint, TokenDecimals: 6, Quantity: decimal.NewFromInt(1),
	})
	if err == nil || errors.Is(err, domain.ErrNoRoute) {
		t.Fatalf("want plain upstream error, got %v", err)
	}
}

func TestGetSwapPayloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, 50, time.Second).GetSwapPayload(context.Background(), domain.Quote{Raw: []byte(`{}`)}, "W")
	if !errors.Is(err, domain.ErrSwapBuildFailed) {
		t.Fatalf("want ErrSwapBuildFailed, got %v", err)
	}
}
