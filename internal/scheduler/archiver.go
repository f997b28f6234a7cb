package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// Archiver copies terminal orders past the retention window to cold
// storage.
type Archiver struct {
	blob          domain.Archiver
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(blob domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives orders that reached a terminal state before the cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blob.ArchiveOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiver: orders before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("orders_archived", n))
	return nil
}
