package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// NativeMint is the wrapped SOL mint used as the native side of every swap.
const NativeMint = "So11111111111111111111111111111111111111112"

// LamportsPerSOL converts SOL to its smallest unit.
const LamportsPerSOL = 1_000_000_000

// QuoteRequest describes the swap a wallet wants priced.
type QuoteRequest struct {
	TradeType     TradeType
	TokenAddress  string
	TokenDecimals int
	Price         decimal.Decimal
	Quantity      decimal.Decimal
}

// Quote is a priced swap route returned by the aggregator.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	SlippageBps    int
	PriceImpactPct string
	// FeeLamports is the route fee denominated in the native mint, zero when
	// the aggregator did not report one.
	FeeLamports uint64
	RouteLabels []string
	// Raw is the aggregator response, passed back verbatim when building the
	// swap transaction.
	Raw json.RawMessage
}

// Token is a tradable SPL token known to the backend.
type Token struct {
	Address  string
	Name     string
	Symbol   string
	Decimals int
	LogoURL  string
}
