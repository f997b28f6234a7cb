// Package notify forwards order lifecycle events to operator chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans order events out to every sender. Only event kinds listed at
// construction are forwarded; an empty list forwards everything.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Event kinds are matched after
// normalisation, so "transaction_submitted" and "transaction.submitted" are
// the same kind.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if k := kind(e); k != "" {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

func kind(event string) string {
	k := strings.ToLower(strings.TrimSpace(event))
	k = strings.ReplaceAll(k, ".", "_")
	// orderbook.matched is configured as order_matched.
	if rest, ok := strings.CutPrefix(k, "orderbook_"); ok {
		return "order_" + rest
	}
	return k
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// NotifyOrder renders evt and sends it to every sender.
func (n *Notifier) NotifyOrder(ctx context.Context, evt domain.OrderEvent) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.allowed) > 0 && !n.allowed[kind(evt.Event)] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", evt.Event))
		return nil
	}
	title, body := render(evt)
	return n.dispatch(ctx, title, body)
}

func render(evt domain.OrderEvent) (string, string) {
	var title string
	switch evt.Event {
	case domain.EventTransactionSubmitted:
		title = "Transaction submitted"
	case domain.EventOrderExecuted:
		title = "Order executed"
	case domain.EventOrderFailed:
		title = "Order failed"
	case domain.EventOrderCancelled:
		title = "Order cancelled"
	case domain.EventOrderMatched:
		title = "Order matched"
	default:
		title = evt.Event
	}

	lines := []string{"Order: " + evt.OrderID}
	if evt.WalletAddress != "" {
		lines = append(lines, "Wallet: "+evt.WalletAddress)
	}
	if evt.TransactionHash != "" {
		lines = append(lines, "Tx: "+evt.TransactionHash)
	}
	if evt.Status != "" {
		lines = append(lines, "Status: "+evt.Status)
	}
	if evt.Reason != "" {
		lines = append(lines, "Reason: "+evt.Reason)
	}
	return title, strings.Join(lines, "\n")
}

// dispatch delivers to every sender even when some fail.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
