package txbuilder

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// SwapParams describes a direct swap for a SwapInstructionBuilder.
type SwapParams struct {
	Wallet    solana.PublicKey
	Mint      solana.PublicKey
	InAmount  uint64
	MinOutput uint64
}

// SwapInstructionBuilder produces the instructions of a direct DEX swap.
// Orders normally go through the aggregator, which returns a complete
// transaction; this is the hook for venues that need hand-built instructions.
type SwapInstructionBuilder interface {
	BuyInstructions(ctx context.Context, p SwapParams) ([]solana.Instruction, error)
	SellInstructions(ctx context.Context, p SwapParams) ([]solana.Instruction, error)
}

// AggregatorSwap is the default SwapInstructionBuilder. Swaps are routed by
// the aggregator, so it has no instructions of its own to offer.
type AggregatorSwap struct{}

func (AggregatorSwap) BuyInstructions(context.Context, SwapParams) ([]solana.Instruction, error) {
	return nil, fmt.Errorf("txbuilder: direct buy: %w", domain.ErrNotImplemented)
}

func (AggregatorSwap) SellInstructions(context.Context, SwapParams) ([]solana.Instruction, error) {
	return nil, fmt.Errorf("txbuilder: direct sell: %w", domain.ErrNotImplemented)
}

// Compose assembles a legacy transaction from swap's instructions, paid by
// p.Wallet, and runs it through Build.
func (b *Builder) Compose(ctx context.Context, swap SwapInstructionBuilder, side domain.TradeType, p SwapParams) (*Built, error) {
	var (
		ixs []solana.Instruction
		err error
	)
	switch side {
	case domain.TradeTypeBuy:
		ixs, err = swap.BuyInstructions(ctx, p)
	case domain.TradeTypeSell:
		ixs, err = swap.SellInstructions(ctx, p)
	default:
		return nil, fmt.Errorf("txbuilder: compose: unknown trade type %q", side)
	}
	if err != nil {
		return nil, err
	}

	// The blockhash is replaced by Build.
	tx, err := solana.NewTransaction(ixs, solana.Hash{}, solana.TransactionPayer(p.Wallet))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: compose: %w", err)
	}
	for range tx.Message.Header.NumRequiredSignatures {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: compose: marshal: %w", err)
	}
	return b.Build(ctx, raw, p.Wallet)
}
