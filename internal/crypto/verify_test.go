package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

type fixture struct {
	key     solana.PrivateKey
	tx      *solana.Transaction
	message []byte
	sig     solana.Signature
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	to, _ := solana.NewRandomPrivateKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(5_000, key.PublicKey(), to.PublicKey()).Build()},
		solana.Hash(sha256.Sum256([]byte("blockhash"))),
		solana.TransactionPayer(key.PublicKey()),
	)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	sig, err := key.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}
	tx.Signatures = []solana.Signature{sig}
	return fixture{key: key, tx: tx, message: msg, sig: sig}
}

func (f fixture) encoded(t *testing.T) string {
	t.Helper()
	raw, err := f.tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecodeSignature(t *testing.T) {
	f := newFixture(t)
	got, err := DecodeSignature(f.sig.String())
	if err != nil || got != f.sig {
		t.Fatalf("DecodeSignature = %v, %v", got, err)
	}

	for _, bad := range []string{"", "   ", "abc", "0OIl", solana.Hash{1}.String()} {
		if _, err := DecodeSignature(bad); !errors.Is(err, ErrSignatureFormat) {
			t.Errorf("DecodeSignature(%q) = %v, want ErrSignatureFormat", bad, err)
		}
	}
}

func TestDecodeTransaction(t *testing.T) {
	f := newFixture(t)
	tx, raw, err := DecodeTransaction(f.encoded(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 || tx.Signatures[0] != f.sig {
		t.Fatal("decoded transaction lost its signature")
	}

	for _, bad := range []string{"", "!!notbase64", base64.StdEncoding.EncodeToString([]byte{0x01})} {
		if _, _, err := DecodeTransaction(bad); !errors.Is(err, ErrTransactionFormat) {
			t.Errorf("DecodeTransaction(%q) = %v", bad, err)
		}
	}
}

func TestVerifyWalletSignature(t *testing.T) {
	f := newFixture(t)
	wallet := f.key.PublicKey()

	if err := VerifyWalletSignature(f.tx, wallet, f.sig, f.message); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := VerifyWalletSignature(f.tx, wallet, f.sig, nil); err != nil {
		t.Fatalf("valid signature rejected without message match: %v", err)
	}

	other, _ := solana.NewRandomPrivateKey()
	if err := VerifyWalletSignature(f.tx, other.PublicKey(), f.sig, nil); !errors.Is(err, ErrNotSigner) {
		t.Errorf("foreign wallet: %v", err)
	}

	forged, _ := other.Sign(f.message)
	if err := VerifyWalletSignature(f.tx, wallet, forged, nil); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("mismatched signature: %v", err)
	}
}

func TestVerifyWalletSignatureDetectsTampering(t *testing.T) {
	f := newFixture(t)
	wallet := f.key.PublicKey()

	// Same signature slot, different message.
	f.tx.Message.RecentBlockhash = solana.Hash(sha256.Sum256([]byte("other")))
	if err := VerifyWalletSignature(f.tx, wallet, f.sig, nil); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered message: %v", err)
	}

	g := newFixture(t)
	if err := VerifyWalletSignature(g.tx, g.key.PublicKey(), g.sig, f.message); !errors.Is(err, ErrMessageMismatch) {
		t.Fatalf("message mismatch: %v", err)
	}
}
