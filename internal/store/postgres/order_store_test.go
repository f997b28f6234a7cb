package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// scriptedDB answers Exec with a fixed affected-row count and QueryRow with
// a fixed existence flag.
type scriptedDB struct {
	affected int64
	exists   bool
	execSQL  []string
}

func (d *scriptedDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.execSQL = append(d.execSQL, sql)
	if d.affected > 0 {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (d *scriptedDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return existsRow(d.exists)
}

type existsRow bool

func (r existsRow) Scan(dest ...any) error {
	*(dest[0].(*bool)) = bool(r)
	return nil
}

func TestTransitionOutcomes(t *testing.T) {
	cases := []struct {
		name string
		db   scriptedDB
		want error
	}{
		{"applied", scriptedDB{affected: 1}, nil},
		{"guard miss", scriptedDB{exists: true}, domain.ErrInvalidTransition},
		{"missing row", scriptedDB{}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &OrderStore{db: &tc.db}
			err := s.MarkCancelled(context.Background(), "o1", "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if len(tc.db.execSQL) != 1 || tc.db.execSQL[0] != markCancelledSQL {
				t.Fatalf("exec = %v", tc.db.execSQL)
			}
		})
	}
}

// testStore connects to PHANTOM_TEST_DATABASE_DSN and applies migrations, or
// skips the test.
func testStore(t *testing.T) *OrderStore {
	t.Helper()
	dsn := os.Getenv("PHANTOM_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("PHANTOM_TEST_DATABASE_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatal(err)
	}
	return NewOrderStore(c.Pool())
}

func newLedgerRow(t *testing.T, s *OrderStore, orderType domain.OrderType) domain.TradingOrder {
	t.Helper()
	o := domain.TradingOrder{
		OrderID:       "phantom_" + uuid.NewString(),
		WalletAddress: "wallet-" + uuid.NewString(),
		TradeType:     domain.TradeTypeBuy,
		OrderType:     orderType,
		TokenAddress:  "mint",
		Quantity:      decimal.NewFromInt(10),
		Price:         decimal.RequireFromString("0.5"),
		TotalValue:    decimal.NewFromInt(5),
		Status:        domain.OrderStatusPending,
	}
	if err := s.Create(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestOrderStoreGuardedTransitions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	o := newLedgerRow(t, s, domain.OrderTypeLimit)
	hash := "sig-" + uuid.NewString()
	if err := s.SetTxHash(ctx, o.OrderID, hash); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.SetTxHash(ctx, o.OrderID, "other"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second claim = %v", err)
	}
	if err := s.MarkCancelled(ctx, o.OrderID, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel with stale hash = %v", err)
	}
	if err := s.ExpireUnsigned(ctx, o.OrderID, "expired"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expire claimed = %v", err)
	}
	if err := s.MarkCancelled(ctx, o.OrderID, hash); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.MarkExecuted(ctx, o.OrderID, time.Now()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("execute cancelled = %v", err)
	}
	if err := s.MarkFailed(ctx, o.OrderID, "boom"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("fail cancelled = %v", err)
	}
	if err := s.MarkCancelled(ctx, "phantom_missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing = %v", err)
	}

	m := newLedgerRow(t, s, domain.OrderTypeMarket)
	at := time.Now().UTC().Truncate(time.Second)
	if err := s.MarkExecuted(ctx, m.OrderID, at); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkExecuted(ctx, m.OrderID, at.Add(time.Hour)); err != nil {
		t.Fatalf("re-execute: %v", err)
	}
	got, err := s.GetByID(ctx, m.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ExecutedAt == nil || !got.ExecutedAt.Equal(at) {
		t.Fatalf("executed_at = %v, want %v", got.ExecutedAt, at)
	}

	u := newLedgerRow(t, s, domain.OrderTypeMarket)
	if err := s.ExpireUnsigned(ctx, u.OrderID, "expired"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := s.SetTxHash(ctx, u.OrderID, "late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("claim expired = %v", err)
	}
}

func TestOrderStoreArchiveWatermark(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	o := newLedgerRow(t, s, domain.OrderTypeMarket)
	if err := s.MarkFailed(ctx, o.OrderID, "boom"); err != nil {
		t.Fatal(err)
	}
	cutoff := time.Now().Add(time.Minute)
	contains := func() bool {
		rows, err := s.ListTerminalBefore(ctx, cutoff, domain.ListOpts{Limit: 10_000})
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range rows {
			if r.OrderID == o.OrderID {
				return true
			}
		}
		return false
	}
	if !contains() {
		t.Fatal("terminal order not listed")
	}
	n, err := s.MarkArchived(ctx, []string{o.OrderID}, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("MarkArchived = %d, %v", n, err)
	}
	if contains() {
		t.Fatal("archived order listed again")
	}
}

func TestOrderStoreListUnverifiedHonoursCutoff(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	o := newLedgerRow(t, s, domain.OrderTypeMarket)
	if err := s.SetTxHash(ctx, o.OrderID, "sig-"+uuid.NewString()); err != nil {
		t.Fatal(err)
	}
	listed := func(before time.Time) bool {
		rows, err := s.ListUnverified(ctx, before, 10_000)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range rows {
			if r.OrderID == o.OrderID {
				return true
			}
		}
		return false
	}
	if listed(time.Now().Add(-time.Hour)) {
		t.Fatal("order updated after the cutoff was listed")
	}
	if !listed(time.Now().Add(time.Minute)) {
		t.Fatal("order updated before the cutoff was not listed")
	}
	if err := s.MarkVerified(ctx, o.OrderID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if listed(time.Now().Add(time.Minute)) {
		t.Fatal("verified order listed again")
	}
}
