package jupiter

import "encoding/json"

// quoteResponse mirrors the fields of GET /quote that the backend reads. The
// full body is kept separately and echoed back to /swap untouched.
type quoteResponse struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	SlippageBps    int             `json:"slippageBps"`
	PriceImpactPct string          `json:"priceImpactPct"`
	FeeAmount      json.Number     `json:"feeAmount,omitempty"`
	RoutePlan      []routePlanStep `json:"routePlan"`
}

type routePlanStep struct {
	SwapInfo struct {
		AmmKey    string `json:"ammKey"`
		Label     string `json:"label"`
		FeeAmount string `json:"feeAmount"`
		FeeMint   string `json:"feeMint"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// apiError is the error body returned with 4xx responses.
type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}
