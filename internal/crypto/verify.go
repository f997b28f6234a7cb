// Package crypto checks wallet signatures on transactions returned by the
// client before they are forwarded to the chain.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrSignatureFormat   = errors.New("crypto: signature must be 64 base58-encoded bytes")
	ErrTransactionFormat = errors.New("crypto: signed transaction is not valid base64 wire bytes")
	ErrNotSigner         = errors.New("crypto: wallet is not a required signer")
	ErrSignatureMismatch = errors.New("crypto: submitted signature differs from the transaction's")
	ErrBadSignature      = errors.New("crypto: ed25519 verification failed")
	ErrMessageMismatch   = errors.New("crypto: signed message differs from the one issued")
)

// DecodeSignature parses a base58 signature and requires exactly 64 bytes.
func DecodeSignature(s string) (solana.Signature, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.Signature{}, ErrSignatureFormat
	}
	sig, err := solana.SignatureFromBase58(s)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSignatureFormat, err)
	}
	return sig, nil
}

// DecodeTransaction decodes a base64 wire transaction. It returns the raw
// bytes alongside so callers can forward them unchanged.
func DecodeTransaction(b64 string) (*solana.Transaction, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransactionFormat, err)
	}
	if len(raw) == 0 {
		return nil, nil, ErrTransactionFormat
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransactionFormat, err)
	}
	return tx, raw, nil
}

// VerifyWalletSignature checks that tx carries sig in wallet's signer slot
// and that sig is a valid ed25519 signature over the transaction message.
// When issued is non-nil the signed message must also be byte-identical to
// it, which pins the transaction to the one built for the order.
func VerifyWalletSignature(tx *solana.Transaction, wallet solana.PublicKey, sig solana.Signature, issued []byte) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	slot := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(wallet) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return ErrNotSigner
	}
	if slot >= len(tx.Signatures) || tx.Signatures[slot] != sig {
		return ErrSignatureMismatch
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("crypto: marshal message: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(wallet[:]), msg, sig[:]) {
		return ErrBadSignature
	}
	if issued != nil && !bytes.Equal(msg, issued) {
		return ErrMessageMismatch
	}
	return nil
}
