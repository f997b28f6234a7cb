package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memOrders mirrors the guarded transitions of the Postgres ledger.
type memOrders struct {
	mu   sync.Mutex
	rows map[string]domain.TradingOrder
}

func newMemOrders() *memOrders { return &memOrders{rows: make(map[string]domain.TradingOrder)} }

func (m *memOrders) Create(_ context.Context, o domain.TradingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[o.OrderID]; ok {
		return domain.ErrAlreadyExists
	}
	m.rows[o.OrderID] = o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id string) (domain.TradingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return domain.TradingOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memOrders) GetByTxHash(_ context.Context, h string) (domain.TradingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.TxHash == h {
			return o, nil
		}
	}
	return domain.TradingOrder{}, domain.ErrNotFound
}

func (m *memOrders) update(id string, allowed func(domain.OrderStatus) bool, fn func(*domain.TradingOrder) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !allowed(o.Status) {
		return domain.ErrInvalidTransition
	}
	if !fn(&o) {
		return domain.ErrInvalidTransition
	}
	o.UpdatedAt = time.Now().UTC()
	m.rows[id] = o
	return nil
}

func isPending(s domain.OrderStatus) bool { return s == domain.OrderStatusPending }

func (m *memOrders) SetTxHash(_ context.Context, id, h string) error {
	return m.update(id, isPending, func(o *domain.TradingOrder) bool {
		if o.TxHash != "" {
			return false
		}
		o.TxHash = h
		return true
	})
}

func (m *memOrders) MarkExecuted(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(s domain.OrderStatus) bool {
		return s == domain.OrderStatusPending || s == domain.OrderStatusExecuted
	}, func(o *domain.TradingOrder) bool {
		o.Status = domain.OrderStatusExecuted
		if o.ExecutedAt == nil {
			o.ExecutedAt = &at
		}
		return true
	})
}

func (m *memOrders) MarkFailed(_ context.Context, id, reason string) error {
	return m.update(id, func(s domain.OrderStatus) bool { return s != domain.OrderStatusCancelled },
		func(o *domain.TradingOrder) bool {
			o.Status = domain.OrderStatusFailed
			o.ErrorMessage = reason
			return true
		})
}

func (m *memOrders) ExpireUnsigned(_ context.Context, id, reason string) error {
	return m.update(id, isPending, func(o *domain.TradingOrder) bool {
		if o.TxHash != "" {
			return false
		}
		o.Status = domain.OrderStatusFailed
		o.ErrorMessage = reason
		return true
	})
}

func (m *memOrders) MarkCancelled(_ context.Context, id, txHash string) error {
	return m.update(id, isPending, func(o *domain.TradingOrder) bool {
		if o.TxHash != txHash {
			return false
		}
		o.Status = domain.OrderStatusCancelled
		return true
	})
}

func (m *memOrders) MarkVerified(_ context.Context, id string, at time.Time) error {
	return m.update(id, func(domain.OrderStatus) bool { return true },
		func(o *domain.TradingOrder) bool {
			o.VerifiedAt = &at
			return true
		})
}

func (m *memOrders) filter(keep func(domain.TradingOrder) bool) []domain.TradingOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TradingOrder
	for _, o := range m.rows {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memOrders) ListByWallet(_ context.Context, w string, opts domain.ListOpts) ([]domain.TradingOrder, int64, error) {
	all := m.filter(func(o domain.TradingOrder) bool { return o.WalletAddress == w && o.TxHash != "" })
	total := int64(len(all))
	if opts.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[opts.Offset:]
	if opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, total, nil
}

func (m *memOrders) ListPendingLimit(context.Context) ([]domain.TradingOrder, error) {
	return m.filter(func(o domain.TradingOrder) bool {
		return o.Status == domain.OrderStatusPending && o.OrderType == domain.OrderTypeLimit && o.TxHash != ""
	}), nil
}

func (m *memOrders) ListStaleUnsigned(_ context.Context, before time.Time, _ int) ([]domain.TradingOrder, error) {
	return m.filter(func(o domain.TradingOrder) bool {
		return o.Status == domain.OrderStatusPending && o.TxHash == "" && o.CreatedAt.Before(before)
	}), nil
}

func (m *memOrders) ListUnverified(_ context.Context, before time.Time, _ int) ([]domain.TradingOrder, error) {
	return m.filter(func(o domain.TradingOrder) bool {
		return o.TxHash != "" && o.VerifiedAt == nil && o.UpdatedAt.Before(before) &&
			(o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusExecuted)
	}), nil
}

func (m *memOrders) ListTerminalBefore(_ context.Context, before time.Time, _ domain.ListOpts) ([]domain.TradingOrder, error) {
	return m.filter(func(o domain.TradingOrder) bool {
		return o.Status != domain.OrderStatusPending && o.UpdatedAt.Before(before)
	}), nil
}

func (m *memOrders) MarkArchived(_ context.Context, ids []string, _ time.Time) (int64, error) {
	return int64(len(ids)), nil
}

func (m *memOrders) put(o domain.TradingOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[o.OrderID] = o
}

func (m *memOrders) get(t *testing.T, id string) domain.TradingOrder {
	t.Helper()
	o, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("order %s: %v", id, err)
	}
	return o
}

type memPending struct {
	mu      sync.Mutex
	entries map[string]domain.PendingOrder
	ttls    map[string]time.Duration
	putErr  error
	// onTake runs after a successful Take removed the entry.
	onTake func()
}

func newMemPending() *memPending {
	return &memPending{entries: map[string]domain.PendingOrder{}, ttls: map[string]time.Duration{}}
}

func (m *memPending) Put(_ context.Context, o domain.PendingOrder, ttl time.Duration) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[o.OrderID] = o
	m.ttls[o.OrderID] = ttl
	return nil
}

func (m *memPending) Get(_ context.Context, id string) (domain.PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.entries[id]
	if !ok {
		return domain.PendingOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memPending) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memPending) Take(_ context.Context, id string) (domain.PendingOrder, error) {
	m.mu.Lock()
	o, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return domain.PendingOrder{}, domain.ErrNotFound
	}
	delete(m.entries, id)
	hook := m.onTake
	m.onTake = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return o, nil
}

type memTokens map[string]domain.Token

func (m memTokens) GetByAddress(_ context.Context, addr string) (domain.Token, error) {
	t, ok := m[addr]
	if !ok {
		return domain.Token{}, domain.ErrNotFound
	}
	return t, nil
}

// fakeQuotes returns a legacy transfer paid by the requesting wallet as the
// swap payload.
type fakeQuotes struct {
	quoteErr error
	swapErr  error
	fee      uint64
	lastReq  domain.QuoteRequest
}

func (f *fakeQuotes) GetQuote(_ context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	f.lastReq = req
	if f.quoteErr != nil {
		return domain.Quote{}, f.quoteErr
	}
	return domain.Quote{
		InputMint:   domain.NativeMint,
		OutputMint:  req.TokenAddress,
		InAmount:    100_000_000,
		OutAmount:   100_000_000,
		FeeLamports: f.fee,
		Raw:         []byte(`{"inAmount":"100000000"}`),
	}, nil
}

func (f *fakeQuotes) GetSwapPayload(_ context.Context, _ domain.Quote, signer string) ([]byte, error) {
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	payer := solana.MustPublicKeyFromBase58(signer)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, payer).Build()},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, err
	}
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)
	return tx.MarshalBinary()
}

type fixedBlockhash struct{}

func (fixedBlockhash) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash(sha256.Sum256([]byte("recent"))), nil
}

type fakeChain struct {
	mu       sync.Mutex
	sent     int
	sendErr  error
	statuses map[string]domain.ChainTxStatus
	balance  decimal.Decimal
	queries  int
}

// SendRaw answers like an RPC node: the transaction id is its first
// signature.
func (f *fakeChain) SendRaw(_ context.Context, raw []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", err
	}
	return tx.Signatures[0].String(), nil
}

func (f *fakeChain) TransactionStatus(_ context.Context, h string) (domain.ChainTxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if st, ok := f.statuses[h]; ok {
		return st, nil
	}
	return domain.ChainTxStatus{State: domain.ChainTxNotFound}, nil
}

func (f *fakeChain) TokenBalance(context.Context, string, string) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	stream    [][]byte
}

func newMemBus() *memBus { return &memBus{published: map[string][][]byte{}} }

func (b *memBus) Publish(_ context.Context, ch string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[ch] = append(b.published[ch], p)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, _ string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, p)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) count(ch string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[ch])
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type chanNotifier chan domain.OrderEvent

func (c chanNotifier) NotifyOrder(_ context.Context, evt domain.OrderEvent) error {
	c <- evt
	return nil
}

// signSerialized signs the base64 transaction handed out at creation the way
// a wallet would and returns the signature and the signed wire form.
func signSerialized(t *testing.T, key solana.PrivateKey, serialized string) (string, string) {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
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
	tx.Signatures[0] = sig
	signed, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return sig.String(), base64.StdEncoding.EncodeToString(signed)
}
