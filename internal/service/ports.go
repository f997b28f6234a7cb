package service

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/txbuilder"
)

// QuoteProvider prices swaps and returns the aggregator's unsigned swap
// transaction for a quote.
type QuoteProvider interface {
	GetQuote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, error)
	GetSwapPayload(ctx context.Context, quote domain.Quote, signer string) ([]byte, error)
}

// TransactionBuilder prepares the aggregator payload for wallet signing.
type TransactionBuilder interface {
	Build(ctx context.Context, unsigned []byte, feePayer solana.PublicKey) (*txbuilder.Built, error)
}

// ChainSubmitter forwards signed transactions to the network.
type ChainSubmitter interface {
	SendRaw(ctx context.Context, raw []byte) (string, error)
}

// ChainInspector reports the on-chain outcome of a transaction hash.
type ChainInspector interface {
	TransactionStatus(ctx context.Context, txHash string) (domain.ChainTxStatus, error)
}

// BalanceReader returns a wallet's UI balance of an SPL token.
type BalanceReader interface {
	TokenBalance(ctx context.Context, owner, mint string) (decimal.Decimal, error)
}

// OrderNotifier delivers best-effort operator notifications.
type OrderNotifier interface {
	NotifyOrder(ctx context.Context, evt domain.OrderEvent) error
}
