package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-pos/internal/events"
)

const (
	DefaultPollInterval = 30 * time.Second
	MinPollInterval     = time.Second
	MaxPollInterval     = 5 * time.Minute
	DefaultRetention    = 7 * 24 * time.Hour
	defaultBatchSize    = 50
)

// Queue is the store surface the replayer drives.
type Queue interface {
	Pending(ctx context.Context, limit int) ([]Entry, error)
	MarkInFlight(ctx context.Context, id string) error
	Requeue(ctx context.Context, id, lastErr string) error
	Remove(ctx context.Context, id string) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	DroppedCount(ctx context.Context) (int, error)
}

// ReplayConfig tunes the replayer.
type ReplayConfig struct {
	PollInterval time.Duration
	Retention    time.Duration
	BatchSize    int
}

// ClampPollInterval bounds d to [MinPollInterval, MaxPollInterval]; zero
// selects the default.
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// DrainResult summarises one replay pass.
type DrainResult struct {
	Acked     int  `json:"acked"`
	Rejected  int  `json:"rejected"`
	Dropped   int  `json:"dropped"`
	Remaining int  `json:"remaining"`
	Halted    bool `json:"halted"`
}

// Replayer drains the queue strictly in order, one entry at a time.
type Replayer struct {
	queue  Queue
	sender Doer
	signal Connectivity
	status *Status
	sink   events.Sink
	logger *slog.Logger
	cfg    ReplayConfig
	kick   chan struct{}
	mu     sync.Mutex
	now    func() time.Time
}

// NewReplayer wires a Replayer. signal, status and sink may be nil.
func NewReplayer(queue Queue, sender Doer, signal Connectivity, status *Status, sink events.Sink, logger *slog.Logger, cfg ReplayConfig) *Replayer {
	cfg.PollInterval = ClampPollInterval(cfg.PollInterval)
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if sink == nil {
		sink = events.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		queue:  queue,
		sender: sender,
		signal: signal,
		status: status,
		sink:   sink,
		logger: logger,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Kick requests a pass as soon as possible.
func (r *Replayer) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run drains on every poll tick, kick and restored signal until ctx is done.
func (r *Replayer) Run(ctx context.Context, restored <-chan struct{}) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	r.runPass(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runPass(ctx, "poll")
		case <-r.kick:
			r.runPass(ctx, "kick")
		case <-restored:
			r.runPass(ctx, "restored")
		}
	}
}

func (r *Replayer) runPass(ctx context.Context, trigger string) {
	res, err := r.Drain(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("replay pass", slog.String("trigger", trigger), slog.Any("error", err))
		return
	}
	if res.Acked > 0 || res.Rejected > 0 || res.Dropped > 0 {
		r.logger.Info("replay pass",
			slog.String("trigger", trigger),
			slog.Int("acked", res.Acked),
			slog.Int("rejected", res.Rejected),
			slog.Int("dropped", res.Dropped),
			slog.Int("remaining", res.Remaining))
	}
}

// Drain runs one pass: prune expired entries, then replay in FIFO order until
// the queue is empty or an entry must be retried. Cancellation is observed
// between entries; an entry already sent is always settled.
func (r *Replayer) Drain(ctx context.Context) (DrainResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Queue bookkeeping must finish even when ctx is cancelled mid-pass.
	bg := context.WithoutCancel(ctx)
	var res DrainResult

	dropped, err := r.queue.PruneOlderThan(bg, r.now().Add(-r.cfg.Retention))
	if err != nil {
		return res, err
	}
	res.Dropped = dropped
	if dropped > 0 {
		r.publish(bg, events.QueueDropped(dropped, r.cfg.Retention))
	}

loop:
	for {
		if ctx.Err() != nil {
			break
		}
		entries, err := r.queue.Pending(bg, r.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				break loop
			}
			outcome, err := r.replay(bg, e)
			if err != nil {
				return res, err
			}
			switch outcome {
			case outcomeAcked:
				res.Acked++
			case outcomeRejected:
				res.Rejected++
			case outcomeRetry:
				res.Halted = true
				break loop
			}
		}
	}

	if res.Remaining, err = r.queue.Count(bg); err != nil {
		return res, err
	}
	totalDropped, err := r.queue.DroppedCount(bg)
	if err != nil {
		return res, err
	}
	r.status.RecordDrain(res.Remaining, totalDropped, res.Rejected, r.now())
	r.publish(bg, events.QueueDrained(res.Remaining, res.Acked))
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

type outcome int

const (
	outcomeAcked outcome = iota
	outcomeRejected
	outcomeRetry
)

func (r *Replayer) replay(ctx context.Context, e Entry) (outcome, error) {
	if err := r.queue.MarkInFlight(ctx, e.ID); err != nil {
		return 0, err
	}
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headers[HeaderIdempotencyKey] = e.IdempotencyKey

	resp, err := r.sender.Send(ctx, e.Method, e.Target, headers, e.Body)
	if err != nil {
		if r.signal != nil && errors.Is(err, ErrTransport) {
			r.signal.ReportFailure()
		}
		return outcomeRetry, r.queue.Requeue(ctx, e.ID, err.Error())
	}
	if r.signal != nil {
		r.signal.ReportSuccess()
	}

	switch classify(resp) {
	case outcomeAcked:
		return outcomeAcked, r.queue.Remove(ctx, e.ID)
	case outcomeRetry:
		return outcomeRetry, r.queue.Requeue(ctx, e.ID, fmt.Sprintf("server responded %d", resp.StatusCode))
	default:
		r.logger.Warn("mutation rejected",
			slog.String("entry_id", e.ID),
			slog.String("target", e.Target),
			slog.Int("status", resp.StatusCode))
		if err := r.queue.Remove(ctx, e.ID); err != nil {
			return 0, err
		}
		r.publish(ctx, events.MutationRejected(describe(e.Description, e.Method, e.Target), resp.StatusCode, e.ID))
		return outcomeRejected, nil
	}
}

func classify(resp *Result) outcome {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return outcomeAcked
	case code == http.StatusConflict && isDuplicate(resp.Body):
		return outcomeAcked
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests, code >= 500:
		return outcomeRetry
	case code >= 400:
		return outcomeRejected
	}
	// 1xx and 3xx never settle a mutation.
	return outcomeRetry
}

func isDuplicate(body []byte) bool {
	var payload struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	return payload.Duplicate
}

func (r *Replayer) publish(ctx context.Context, evt events.Event) {
	if err := r.sink.Publish(ctx, evt); err != nil {
		r.logger.Warn("publish event", slog.String("kind", string(evt.Kind)), slog.Any("error", err))
	}
}
