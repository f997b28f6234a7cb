package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	defaultPageSize = 500
	// Archives larger than this go through the multipart uploader.
	multipartThreshold int64 = 16 << 20
)

// OrderSource pages through terminal ledger rows that have not been archived
// yet and stamps the ones that were.
type OrderSource interface {
	ListTerminalBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.TradingOrder, error)
	MarkArchived(ctx context.Context, orderIDs []string, at time.Time) (int64, error)
}

// OrderArchiver copies terminal orders to JSONL objects. Rows stay in the
// ledger; each one is stamped after its upload so later runs skip it.
type OrderArchiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	orders   OrderSource
	audit    domain.AuditStore
	pageSize int
	now      func() time.Time
}

// NewOrderArchiver creates an archiver. reader may be nil, in which case an
// existing object for the same month is overwritten.
func NewOrderArchiver(writer domain.BlobWriter, reader domain.BlobReader, orders OrderSource, audit domain.AuditStore) *OrderArchiver {
	return &OrderArchiver{
		writer:   writer,
		reader:   reader,
		orders:   orders,
		audit:    audit,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

// archivedOrder is one JSONL line.
type archivedOrder struct {
	OrderID       string             `json:"order_id"`
	WalletAddress string             `json:"wallet_address"`
	TradeType     domain.TradeType   `json:"trade_type"`
	OrderType     domain.OrderType   `json:"order_type"`
	TokenName     string             `json:"token_name"`
	TokenAddress  string             `json:"token_address"`
	Quantity      decimal.Decimal    `json:"quantity"`
	Price         decimal.Decimal    `json:"price"`
	TotalValue    decimal.Decimal    `json:"total_value"`
	Status        domain.OrderStatus `json:"status"`
	TxHash        string             `json:"tx_hash,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	ExecutedAt    *time.Time         `json:"executed_at,omitempty"`
	VerifiedAt    *time.Time         `json:"verified_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func toArchived(o domain.TradingOrder) archivedOrder {
	return archivedOrder{
		OrderID:       o.OrderID,
		WalletAddress: o.WalletAddress,
		TradeType:     o.TradeType,
		OrderType:     o.OrderType,
		TokenName:     o.TokenName,
		TokenAddress:  o.TokenAddress,
		Quantity:      o.Quantity,
		Price:         o.Price,
		TotalValue:    o.TotalValue,
		Status:        o.Status,
		TxHash:        o.TxHash,
		ErrorMessage:  o.ErrorMessage,
		ExecutedAt:    o.ExecutedAt,
		VerifiedAt:    o.VerifiedAt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// ArchiveOrders writes every unarchived terminal order last updated before
// the cutoff to archive/orders/YYYY-MM.jsonl, stamps those rows and returns
// the row count.
func (a *OrderArchiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var ids []string
	for offset := 0; ; offset += a.pageSize {
		page, err := a.orders.ListTerminalBefore(ctx, before, domain.ListOpts{Limit: a.pageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
		}
		for _, o := range page {
			if err := enc.Encode(toArchived(o)); err != nil {
				return 0, fmt.Errorf("s3blob: archive orders encode %s: %w", o.OrderID, err)
			}
		}
		for _, o := range page {
			ids = append(ids, o.OrderID)
		}
		if len(page) < a.pageSize {
			break
		}
	}
	count := int64(len(ids))
	if count == 0 {
		return 0, nil
	}

	path, err := a.objectPath(ctx, before)
	if err != nil {
		return 0, err
	}
	if int64(buf.Len()) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}
	// A failed stamp leaves the rows eligible, so the next run repeats them
	// in a new object rather than losing them.
	if _, err := a.orders.MarkArchived(ctx, ids, a.now()); err != nil {
		return count, fmt.Errorf("s3blob: archive orders mark: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.orders", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive orders audit: %w", err)
		}
	}
	return count, nil
}

// objectPath partitions archives by the cutoff month. A second run in the
// same month gets a timestamp suffix instead of replacing the first object.
func (a *OrderArchiver) objectPath(ctx context.Context, before time.Time) (string, error) {
	path := fmt.Sprintf("archive/orders/%s.jsonl", before.UTC().Format("2006-01"))
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive orders: %w", err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/orders/%s-%d.jsonl", before.UTC().Format("2006-01"), a.now().Unix()), nil
}
