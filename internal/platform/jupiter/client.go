// Package jupiter is the quote provider adapter for the Jupiter v6 swap
// aggregator: it prices a swap route and materializes it into an unsigned
// transaction for the signing wallet.
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const (
	// DefaultBaseURL is the public v6 endpoint.
	DefaultBaseURL     = "https://quote-api.jup.ag/v6"
	DefaultSlippageBps = 50

	maxErrorBody = 512
)

// Client talks to the aggregator's /quote and /swap endpoints.
type Client struct {
	baseURL     string
	slippageBps int
	httpClient  *http.Client
}

// New creates a Client. A zero timeout leaves the default of 15s.
func New(baseURL string, slippageBps int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		slippageBps: slippageBps,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// SwapAmount converts the requested trade into the input amount in smallest
// units: lamports of price*quantity for a buy, token base units of quantity
// for a sell. Fractions below one unit are truncated.
func SwapAmount(req domain.QuoteRequest) (inputMint, outputMint string, amount uint64, err error) {
	var raw decimal.Decimal
	switch req.TradeType {
	case domain.TradeTypeBuy:
		inputMint, outputMint = domain.NativeMint, req.TokenAddress
		raw = req.Price.Mul(req.Quantity).Shift(9)
	case domain.TradeTypeSell:
		inputMint, outputMint = req.TokenAddress, domain.NativeMint
		raw = req.Quantity.Shift(int32(req.TokenDecimals))
	default:
		return "", "", 0, fmt.Errorf("jupiter: unknown trade type %q", req.TradeType)
	}

	raw = raw.Truncate(0)
	if !raw.IsPositive() {
		return "", "", 0, fmt.Errorf("jupiter: swap amount rounds to zero")
	}
	if !raw.BigInt().IsUint64() {
		return "", "", 0, fmt.Errorf("jupiter: swap amount %s overflows", raw)
	}
	return inputMint, outputMint, raw.BigInt().Uint64(), nil
}

// GetQuote prices the swap. A missing route or a 4xx response wraps
// domain.ErrNoRoute; transport and 5xx failures are returned as-is.
func (c *Client) GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	inputMint, outputMint, amount, err := SwapAmount(req)
	if err != nil {
		return domain.Quote{}, err
	}

	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(c.slippageBps))

	status, body, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: quote: %w", err)
	}
	if status >= 400 && status < 500 {
		return domain.Quote{}, fmt.Errorf("jupiter: quote: %w: %s", domain.ErrNoRoute, describeError(body))
	}
	if status >= 500 {
		return domain.Quote{}, fmt.Errorf("jupiter: quote: status %d: %s", status, snippet(body))
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return domain.Quote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}
	out, _ := strconv.ParseUint(qr.OutAmount, 10, 64)
	if out == 0 {
		return domain.Quote{}, fmt.Errorf("jupiter: quote: %w: empty output amount", domain.ErrNoRoute)
	}
	in, _ := strconv.ParseUint(qr.InAmount, 10, 64)

	quote := domain.Quote{
		InputMint:      qr.InputMint,
		OutputMint:     qr.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		SlippageBps:    qr.SlippageBps,
		PriceImpactPct: qr.PriceImpactPct,
		FeeLamports:    nativeFee(qr),
		Raw:            json.RawMessage(body),
	}
	for _, step := range qr.RoutePlan {
		if step.SwapInfo.Label != "" {
			quote.RouteLabels = append(quote.RouteLabels, step.SwapInfo.Label)
		}
	}
	return quote, nil
}

// nativeFee sums route fees charged in the native mint.
func nativeFee(qr quoteResponse) uint64 {
	if qr.FeeAmount != "" {
		if n, err := strconv.ParseUint(qr.FeeAmount.String(), 10, 64); err == nil {
			return n
		}
	}
	var total uint64
	for _, step := range qr.RoutePlan {
		if step.SwapInfo.FeeMint != domain.NativeMint {
			continue
		}
		if n, err := strconv.ParseUint(step.SwapInfo.FeeAmount, 10, 64); err == nil {
			total += n
		}
	}
	return total
}

// GetSwapPayload asks the aggregator to build the unsigned swap transaction
// for signer. Every failure wraps domain.ErrSwapBuildFailed.
func (c *Client) GetSwapPayload(ctx context.Context, quote domain.Quote, signer string) ([]byte, error) {
	if len(quote.Raw) == 0 {
		return nil, fmt.Errorf("jupiter: swap: %w: quote has no route body", domain.ErrSwapBuildFailed)
	}
	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:    quote.Raw,
		UserPublicKey:    signer,
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w: %v", domain.ErrSwapBuildFailed, err)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/swap", reqBody)
	if err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w: %v", domain.ErrSwapBuildFailed, err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("jupiter: swap: %w: status %d: %s", domain.ErrSwapBuildFailed, status, describeError(body))
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w: decode: %v", domain.ErrSwapBuildFailed, err)
	}
	raw, err := base64.StdEncoding.DecodeString(sr.SwapTransaction)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("jupiter: swap: %w: invalid swapTransaction", domain.ErrSwapBuildFailed)
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func describeError(body []byte) string {
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error != "" {
		if ae.ErrorCode != "" {
			return ae.ErrorCode + ": " + ae.Error
		}
		return ae.Error
	}
	return snippet(body)
}

func snippet(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
