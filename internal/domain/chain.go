package domain

import "errors"

// ErrChainSignatureRejected is returned by the chain client when the network
// refuses a transaction because a signature does not verify.
var ErrChainSignatureRejected = errors.New("transaction signature verification failure")

// ChainTxState is the on-chain outcome of a submitted transaction.
type ChainTxState int

const (
	ChainTxNotFound ChainTxState = iota
	ChainTxFailed
	ChainTxSucceeded
)

// ChainTxStatus is what the reconciler learns about a transaction hash.
type ChainTxStatus struct {
	State ChainTxState
	Slot  uint64
	// Err is the chain's execution error rendered as text, empty on success.
	Err string
}
