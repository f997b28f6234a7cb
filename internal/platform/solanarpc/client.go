// Package solanarpc wraps the Solana JSON-RPC calls used by the order
// lifecycle: blockhash lookup, raw submission, confirmation and SPL token
// balances.
package solanarpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// Client is a thin adapter over *rpc.Client.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// New creates a Client for endpoint. commitment applies to reads; an empty
// value means "confirmed".
func New(endpoint, commitment string) *Client {
	c := rpc.CommitmentType(commitment)
	if c == "" {
		c = rpc.CommitmentConfirmed
	}
	return &Client{rpc: rpc.New(endpoint), commitment: c}
}

// LatestBlockhash returns a recent blockhash for legacy transactions.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("solanarpc: latest blockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, errors.New("solanarpc: latest blockhash: empty result")
	}
	return res.Value.Blockhash, nil
}

// SendRaw submits a signed wire transaction with preflight simulation at
// confirmed commitment. A signature-verification rejection wraps
// domain.ErrChainSignatureRejected.
func (c *Client) SendRaw(ctx context.Context, raw []byte) (string, error) {
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "signature verification failure") {
			return "", fmt.Errorf("solanarpc: send transaction: %w: %v", domain.ErrChainSignatureRejected, err)
		}
		return "", fmt.Errorf("solanarpc: send transaction: %w", err)
	}
	return sig.String(), nil
}

var maxTxVersion uint64 = 0

// TransactionStatus looks up a transaction by signature.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (domain.ChainTxStatus, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return domain.ChainTxStatus{}, fmt.Errorf("solanarpc: parse signature %q: %w", txHash, err)
	}

	res, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxTxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return domain.ChainTxStatus{State: domain.ChainTxNotFound}, nil
		}
		return domain.ChainTxStatus{}, fmt.Errorf("solanarpc: get transaction %s: %w", txHash, err)
	}
	if res == nil {
		return domain.ChainTxStatus{State: domain.ChainTxNotFound}, nil
	}

	status := domain.ChainTxStatus{State: domain.ChainTxSucceeded, Slot: res.Slot}
	if res.Meta != nil && res.Meta.Err != nil {
		status.State = domain.ChainTxFailed
		status.Err = fmt.Sprint(res.Meta.Err)
	}
	return status, nil
}

// TokenBalance sums the UI balance of every token account owner holds for
// mint. An owner without accounts has a zero balance.
func (c *Client) TokenBalance(ctx context.Context, owner, mint string) (decimal.Decimal, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solanarpc: parse owner %q: %w", owner, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solanarpc: parse mint %q: %w", mint, err)
	}

	accounts, err := c.rpc.GetTokenAccountsByOwner(ctx, ownerKey,
		&rpc.GetTokenAccountsConfig{Mint: &mintKey},
		&rpc.GetTokenAccountsOpts{Commitment: c.commitment, Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solanarpc: token accounts %s/%s: %w", owner, mint, err)
	}

	total := decimal.Zero
	for _, acc := range accounts.Value {
		bal, err := c.rpc.GetTokenAccountBalance(ctx, acc.Pubkey, c.commitment)
		if err != nil {
			return decimal.Zero, fmt.Errorf("solanarpc: token balance %s: %w", acc.Pubkey, err)
		}
		if bal == nil || bal.Value == nil {
			continue
		}
		amount, err := decimal.NewFromString(bal.Value.UiAmountString)
		if err != nil {
			return decimal.Zero, fmt.Errorf("solanarpc: parse balance %q: %w", bal.Value.UiAmountString, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}
