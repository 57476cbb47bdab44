// Package events carries the observable notifications emitted by the offline
// queue and the batch ledger.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Kind enumerates published event types.
type Kind string

const (
	// KindMutationQueued fires when a mutation is deferred to the durable queue.
	KindMutationQueued Kind = "mutation.queued"
	// KindMutationRejected fires when the server refuses a replayed mutation.
	KindMutationRejected Kind = "mutation.rejected"
	// KindQueueDrained fires after every replay pass.
	KindQueueDrained Kind = "queue.drained"
	// KindQueueDropped fires when entries fall outside the retention window.
	KindQueueDropped Kind = "queue.dropped"
	// KindLedgerHealed fires when reconciliation materialises a legacy batch.
	KindLedgerHealed Kind = "ledger.healed"
)

// Event is a single notification.
type Event struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	StoreID   int64          `json:"store_id,omitempty"`
	ProductID int64          `json:"product_id,omitempty"`
	Quantity  int64          `json:"quantity,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives events. Implementations must not block for long.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

var printer = message.NewPrinter(language.English)

// MutationQueued builds the notice shown when a request is stored for later.
func MutationQueued(description, entryID string, pending int) Event {
	return Event{
		Kind:    KindMutationQueued,
		Message: printer.Sprintf("Offline: %s saved and will sync when the connection returns (%d pending)", description, pending),
		Attrs:   map[string]any{"entry_id": entryID, "pending": pending},
		At:      time.Now().UTC(),
	}
}

// MutationRejected builds the notice for a replayed request the server refused.
func MutationRejected(description string, status int, entryID string) Event {
	return Event{
		Kind:    KindMutationRejected,
		Message: printer.Sprintf("Sync rejected: %s (HTTP %d), please re-enter", description, status),
		Attrs:   map[string]any{"entry_id": entryID, "status": status},
		At:      time.Now().UTC(),
	}
}

// QueueDrained reports the remaining queue length after a pass.
func QueueDrained(remaining, acked int) Event {
	return Event{
		Kind:     KindQueueDrained,
		Message:  printer.Sprintf("Queue drained to %d (%d synced)", remaining, acked),
		Quantity: int64(remaining),
		Attrs:    map[string]any{"remaining": remaining, "acked": acked},
		At:       time.Now().UTC(),
	}
}

// QueueDropped reports entries discarded after the retention window.
func QueueDropped(count int, retention time.Duration) Event {
	return Event{
		Kind:     KindQueueDropped,
		Message:  printer.Sprintf("%d offline transactions expired after %v and were dropped, please re-enter", count, retention),
		Quantity: int64(count),
		Attrs:    map[string]any{"dropped": count},
		At:       time.Now().UTC(),
	}
}

// LedgerHealed reports a reconciliation of orphan stock.
func LedgerHealed(storeID, productID int64, name string, qty int64) Event {
	return Event{
		Kind:      KindLedgerHealed,
		Message:   printer.Sprintf("Ledger healed for product %s (#%d) by %d units", name, productID, qty),
		StoreID:   storeID,
		ProductID: productID,
		Quantity:  qty,
		At:        time.Now().UTC(),
	}
}

// LogSink writes events to slog.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink. A nil logger falls back to slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs the event at info level.
func (s *LogSink) Publish(ctx context.Context, evt Event) error {
	s.logger.InfoContext(ctx, evt.Message,
		slog.String("event", string(evt.Kind)),
		slog.Int64("store_id", evt.StoreID),
		slog.Int64("product_id", evt.ProductID),
		slog.Int64("quantity", evt.Quantity))
	return nil
}

// Multi fans an event out to several sinks, joining their errors.
type Multi []Sink

// Publish delivers evt to every sink.
func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, Event) error { return nil }
