package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	multipart int
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type sliceOrders struct {
	rows     []domain.TradingOrder
	archived map[string]time.Time
	calls    int
	err      error
	markErr  error
}

func (s *sliceOrders) ListTerminalBefore(_ context.Context, _ time.Time, opts domain.ListOpts) ([]domain.TradingOrder, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var open []domain.TradingOrder
	for _, o := range s.rows {
		if _, done := s.archived[o.OrderID]; !done {
			open = append(open, o)
		}
	}
	if opts.Offset >= len(open) {
		return nil, nil
	}
	end := min(opts.Offset+opts.Limit, len(open))
	return open[opts.Offset:end], nil
}

func (s *sliceOrders) MarkArchived(_ context.Context, ids []string, at time.Time) (int64, error) {
	if s.markErr != nil {
		return 0, s.markErr
	}
	if s.archived == nil {
		s.archived = map[string]time.Time{}
	}
	var n int64
	for _, id := range ids {
		if _, done := s.archived[id]; !done {
			s.archived[id] = at
			n++
		}
	}
	return n, nil
}

type auditLog struct{ events []string }

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func terminalOrders(n int) []domain.TradingOrder {
	out := make([]domain.TradingOrder, n)
	for i := range out {
		out[i] = domain.TradingOrder{
			OrderID:    fmt.Sprintf("phantom_%03d", i),
			Status:     domain.OrderStatusExecuted,
			Quantity:   decimal.NewFromInt(int64(i + 1)),
			Price:      decimal.RequireFromString("0.5"),
			TotalValue: decimal.RequireFromString("0.5").Mul(decimal.NewFromInt(int64(i + 1))),
			TxHash:     fmt.Sprintf("sig%d", i),
		}
	}
	return out
}

func TestArchiveOrdersPagesAndWritesJSONL(t *testing.T) {
	blobs := newMemBlobs()
	src := &sliceOrders{rows: terminalOrders(5)}
	audit := &auditLog{}
	a := NewOrderArchiver(blobs, blobs, src, audit)
	a.pageSize = 2

	cutoff := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveOrders(context.Background(), cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
	if src.calls != 3 {
		t.Fatalf("queried %d pages, want 3", src.calls)
	}

	body, ok := blobs.objects["archive/orders/2026-07.jsonl"]
	if !ok {
		t.Fatalf("objects = %v", blobs.objects)
	}
	var lines []archivedOrder
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var rec archivedOrder
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 5 || lines[4].OrderID != "phantom_004" || !lines[4].TotalValue.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("lines = %+v", lines)
	}
	if len(audit.events) != 1 || audit.events[0] != "archive.orders" {
		t.Fatalf("audit = %v", audit.events)
	}
	if blobs.multipart != 0 {
		t.Fatal("small archive used multipart")
	}
}

func TestArchiveOrdersOnlyTakesNewRows(t *testing.T) {
	blobs := newMemBlobs()
	src := &sliceOrders{rows: terminalOrders(3)}
	a := NewOrderArchiver(blobs, blobs, src, nil)
	a.now = func() time.Time { return time.Unix(1_800_000_000, 0) }
	cutoff := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	if n, err := a.ArchiveOrders(context.Background(), cutoff); err != nil || n != 3 {
		t.Fatalf("first run n=%d err=%v", n, err)
	}
	if len(src.archived) != 3 {
		t.Fatalf("stamped %d rows, want 3", len(src.archived))
	}

	n, err := a.ArchiveOrders(context.Background(), cutoff)
	if err != nil || n != 0 {
		t.Fatalf("second run n=%d err=%v", n, err)
	}
	if len(blobs.objects) != 1 {
		t.Fatalf("second run wrote an object: %v", blobs.objects)
	}

	src.rows = append(src.rows, domain.TradingOrder{OrderID: "phantom_new", Status: domain.OrderStatusFailed})
	a.now = func() time.Time { return time.Unix(1_800_000_600, 0) }
	if n, err := a.ArchiveOrders(context.Background(), cutoff); err != nil || n != 1 {
		t.Fatalf("third run n=%d err=%v", n, err)
	}
	body := blobs.objects["archive/orders/2026-07-1800000600.jsonl"]
	if bytes.Count(body, []byte("\n")) != 1 || !bytes.Contains(body, []byte("phantom_new")) {
		t.Fatalf("third object = %q", body)
	}
}

func TestArchiveOrdersMarkErrorKeepsRowsEligible(t *testing.T) {
	blobs := newMemBlobs()
	boom := errors.New("ledger down")
	src := &sliceOrders{rows: terminalOrders(2), markErr: boom}
	a := NewOrderArchiver(blobs, nil, src, nil)

	n, err := a.ArchiveOrders(context.Background(), time.Now())
	if !errors.Is(err, boom) || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(src.archived) != 0 {
		t.Fatal("rows stamped despite failure")
	}
}

func TestArchiveOrdersEmptyWritesNothing(t *testing.T) {
	blobs := newMemBlobs()
	a := NewOrderArchiver(blobs, blobs, &sliceOrders{}, &auditLog{})
	n, err := a.ArchiveOrders(context.Background(), time.Now())
	if err != nil || n != 0 || len(blobs.objects) != 0 {
		t.Fatalf("n=%d err=%v objects=%d", n, err, len(blobs.objects))
	}
}

func TestArchiveOrdersKeepsEarlierObject(t *testing.T) {
	blobs := newMemBlobs()
	blobs.objects["archive/orders/2026-07.jsonl"] = []byte("old\n")
	a := NewOrderArchiver(blobs, blobs, &sliceOrders{rows: terminalOrders(1)}, nil)
	a.now = func() time.Time { return time.Unix(1_800_000_000, 0) }

	if _, err := a.ArchiveOrders(context.Background(), time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if string(blobs.objects["archive/orders/2026-07.jsonl"]) != "old\n" {
		t.Fatal("earlier archive overwritten")
	}
	if _, ok := blobs.objects["archive/orders/2026-07-1800000000.jsonl"]; !ok {
		t.Fatalf("objects = %v", blobs.objects)
	}
}

func TestArchiveOrdersQueryError(t *testing.T) {
	boom := errors.New("db down")
	a := NewOrderArchiver(newMemBlobs(), nil, &sliceOrders{err: boom}, nil)
	if _, err := a.ArchiveOrders(context.Background(), time.Now()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestEndpointURL(t *testing.T) {
	cases := map[string]string{
		"http://minio:9000": "http://minio:9000",
		"minio:9000":        "https://minio:9000",
	}
	for in, want := range cases {
		if got := endpointURL(in, true); got != want {
			t.Errorf("endpointURL(%q) = %q, want %q", in, got, want)
		}
	}
	if got := endpointURL("minio:9000", false); got != "http://minio:9000" {
		t.Errorf("got %q", got)
	}
}
