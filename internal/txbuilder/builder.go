// Package txbuilder turns the aggregator's unsigned swap bytes into the wire
// transaction handed to the wallet for signing.
package txbuilder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// VersionedBlockhash is reported instead of a blockhash for versioned
// transactions, which carry their own and are never rewritten.
const VersionedBlockhash = "versioned"

var (
	ErrEmptyTransaction     = errors.New("txbuilder: empty transaction bytes")
	ErrTooManySignatures    = errors.New("txbuilder: more signatures than required signers")
	ErrBlockhashUnavailable = errors.New("txbuilder: recent blockhash unavailable")
)

// BlockhashSource supplies a recent blockhash for legacy transactions.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// InstructionSummary is a readable view of a compiled instruction.
type InstructionSummary struct {
	ProgramID string   `json:"program_id"`
	Accounts  []string `json:"accounts"`
	Data      string   `json:"data"`
}

// Built is the result of Build.
type Built struct {
	Transaction *solana.Transaction
	// Serialized is the base64 wire encoding with zeroed signature slots.
	Serialized string
	// Message is the exact byte string each signer must sign.
	Message         []byte
	Versioned       bool
	RecentBlockhash string
	FeePayer        solana.PublicKey
	Signers         []solana.PublicKey
	// Instructions is only populated for legacy transactions; versioned
	// messages may reference lookup-table accounts that are not resolvable
	// here.
	Instructions []InstructionSummary
}

// Builder prepares unsigned transactions. It holds no per-call state.
type Builder struct {
	blockhashes BlockhashSource
}

// New creates a Builder.
func New(blockhashes BlockhashSource) *Builder {
	return &Builder{blockhashes: blockhashes}
}

// Build decodes unsigned, attaches a fresh blockhash when the transaction is
// legacy, and re-serializes it without signatures. A legacy message whose
// first account is not feePayer is recompiled with feePayer paying. Output
// is deterministic for identical input bytes, fee payer and blockhash.
func (b *Builder) Build(ctx context.Context, unsigned []byte, feePayer solana.PublicKey) (*Built, error) {
	if len(unsigned) == 0 {
		return nil, ErrEmptyTransaction
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(unsigned))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: decode transaction: %w", err)
	}
	if len(tx.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("txbuilder: decode transaction: no account keys")
	}

	versioned := tx.Message.IsVersioned()
	if !versioned {
		hash, err := b.blockhashes.LatestBlockhash(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlockhashUnavailable, err)
		}
		if tx.Message.AccountKeys[0].Equals(feePayer) {
			tx.Message.RecentBlockhash = hash
		} else {
			instrs, err := decompile(&tx.Message)
			if err != nil {
				return nil, err
			}
			tx, err = solana.NewTransaction(instrs, hash, solana.TransactionPayer(feePayer))
			if err != nil {
				return nil, fmt.Errorf("txbuilder: set fee payer: %w", err)
			}
		}
		// Any signature over the old message is void now.
		tx.Signatures = nil
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) > required {
		return nil, ErrTooManySignatures
	}
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: marshal message: %w", err)
	}
	wire, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: marshal transaction: %w", err)
	}

	out := &Built{
		Transaction:     tx,
		Serialized:      base64.StdEncoding.EncodeToString(wire),
		Message:         msg,
		Versioned:       versioned,
		RecentBlockhash: VersionedBlockhash,
		FeePayer:        feePayer,
		Signers:         append([]solana.PublicKey(nil), tx.Message.AccountKeys[:required]...),
	}
	if !versioned {
		out.RecentBlockhash = tx.Message.RecentBlockhash.String()
		out.Instructions = summarize(tx)
	}
	return out, nil
}

func summarize(tx *solana.Transaction) []InstructionSummary {
	keys := tx.Message.AccountKeys
	out := make([]InstructionSummary, 0, len(tx.Message.Instructions))
	for _, ci := range tx.Message.Instructions {
		s := InstructionSummary{Data: ci.Data.String()}
		if int(ci.ProgramIDIndex) < len(keys) {
			s.ProgramID = keys[ci.ProgramIDIndex].String()
		}
		for _, idx := range ci.Accounts {
			if int(idx) < len(keys) {
				s.Accounts = append(s.Accounts, keys[idx].String())
			}
		}
		out = append(out, s)
	}
	return out
}

// decompile recovers the instructions of a legacy message. Signer and
// writable flags come from the header layout of the account key list.
func decompile(msg *solana.Message) ([]solana.Instruction, error) {
	keys := msg.AccountKeys
	h := msg.Header
	signers := int(h.NumRequiredSignatures)
	writableSigners := signers - int(h.NumReadonlySignedAccounts)
	writableUnsigned := len(keys) - int(h.NumReadonlyUnsignedAccounts)

	meta := func(i int) *solana.AccountMeta {
		signer := i < signers
		writable := i < writableSigners || (!signer && i < writableUnsigned)
		return solana.NewAccountMeta(keys[i], writable, signer)
	}

	out := make([]solana.Instruction, 0, len(msg.Instructions))
	for n, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("txbuilder: instruction %d: program index %d out of range", n, ci.ProgramIDIndex)
		}
		accounts := make(solana.AccountMetaSlice, 0, len(ci.Accounts))
		for _, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("txbuilder: instruction %d: account index %d out of range", n, idx)
			}
			accounts = append(accounts, meta(int(idx)))
		}
		out = append(out, solana.NewInstruction(keys[ci.ProgramIDIndex], accounts, []byte(ci.Data)))
	}
	return out, nil
}
