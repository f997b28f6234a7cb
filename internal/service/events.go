package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const notifyTimeout = 10 * time.Second

// emitter fans lifecycle side effects out to the signal bus, the audit log
// and the notifier. Every failure is logged and swallowed.
type emitter struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier OrderNotifier
	logger   *slog.Logger
}

// publish sends payload on channel and appends it to the durable orders
// stream.
func (e emitter) publish(ctx context.Context, channel string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, channel, data); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := e.bus.StreamAppend(ctx, domain.StreamOrders, data); err != nil {
		e.logger.WarnContext(ctx, "stream append failed",
			slog.String("stream", domain.StreamOrders),
			slog.String("error", err.Error()),
		)
	}
}

func (e emitter) record(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notify runs in its own goroutine detached from the request so a slow
// sender never holds up the response.
func (e emitter) notify(ctx context.Context, evt domain.OrderEvent) {
	if e.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	go func() {
		defer cancel()
		if err := e.notifier.NotifyOrder(ctx, evt); err != nil {
			e.logger.WarnContext(ctx, "notification failed",
				slog.String("order_id", evt.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// orderEvent publishes evt on the orders channel and notifies operators.
func (e emitter) orderEvent(ctx context.Context, evt domain.OrderEvent) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	e.publish(ctx, domain.ChannelOrders, evt)
	e.notify(ctx, evt)
}
