package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-pos/internal/events"
)

// Doer executes a request and returns the server response.
type Doer interface {
	Send(ctx context.Context, method, target string, headers map[string]string, body []byte) (*Result, error)
}

// Enqueuer is the part of the queue the interceptor writes to.
type Enqueuer interface {
	Enqueue(ctx context.Context, e Entry) (Entry, error)
	Count(ctx context.Context) (int, error)
}

// Interceptor runs mutations directly when possible and defers them to the
// durable queue when the server cannot be reached.
type Interceptor struct {
	sender Doer
	queue  Enqueuer
	signal Connectivity
	status *Status
	sink   events.Sink
	logger *slog.Logger
}

// NewInterceptor wires an Interceptor. status and sink may be nil.
func NewInterceptor(sender Doer, queue Enqueuer, signal Connectivity, status *Status, sink events.Sink, logger *slog.Logger) *Interceptor {
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{sender: sender, queue: queue, signal: signal, status: status, sink: sink, logger: logger}
}

// Do executes m. Any server response, including 4xx and 5xx, is returned
// unmodified. Only a transport failure, or a known offline state, queues the
// mutation; the caller then receives Result{Queued: true}.
func (i *Interceptor) Do(ctx context.Context, m Mutation) (*Result, error) {
	m.Method = strings.ToUpper(strings.TrimSpace(m.Method))
	if !isMutatingMethod(m.Method) {
		return nil, fmt.Errorf("%w: method %q", ErrInvalidMutation, m.Method)
	}
	if !strings.HasPrefix(m.Target, "/") {
		return nil, fmt.Errorf("%w: target must be a path", ErrInvalidMutation)
	}
	if m.IdempotencyKey == "" {
		m.IdempotencyKey = uuid.NewString()
	}
	headers := make(map[string]string, len(m.Headers)+1)
	maps.Copy(headers, m.Headers)
	headers[HeaderIdempotencyKey] = m.IdempotencyKey

	if i.signal == nil || i.signal.Online() {
		res, err := i.sender.Send(ctx, m.Method, m.Target, headers, m.Body)
		if err == nil {
			if i.signal != nil {
				i.signal.ReportSuccess()
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, ErrTransport) {
			return nil, err
		}
		i.logger.Info("mutation deferred", slog.String("target", m.Target), slog.Any("error", err))
		if i.signal != nil {
			i.signal.ReportFailure()
		}
	}
	return i.enqueue(ctx, m, headers)
}

func (i *Interceptor) enqueue(ctx context.Context, m Mutation, headers map[string]string) (*Result, error) {
	entry, err := i.queue.Enqueue(ctx, Entry{
		Method:         m.Method,
		Target:         m.Target,
		Headers:        headers,
		Body:           m.Body,
		IdempotencyKey: m.IdempotencyKey,
		Description:    describe(m.Description, m.Method, m.Target),
	})
	if err != nil {
		return nil, err
	}
	pending, err := i.queue.Count(ctx)
	if err != nil {
		i.logger.Warn("count queue", slog.Any("error", err))
	} else {
		i.status.SetPending(pending)
	}
	if err := i.sink.Publish(ctx, events.MutationQueued(entry.Description, entry.ID, pending)); err != nil {
		i.logger.Warn("publish mutation queued", slog.Any("error", err))
	}
	return &Result{Queued: true, EntryID: entry.ID}, nil
}

func describe(description, method, target string) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	return method + " " + target
}
