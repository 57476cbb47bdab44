package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-pos/internal/events"
)

// Agent owns every component of the device side and their lifecycle.
type Agent struct {
	cfg         *AgentConfig
	logger      *slog.Logger
	Store       *Store
	Monitor     *Monitor
	Status      *Status
	Interceptor *Interceptor
	Replayer    *Replayer
	server      *http.Server
}

// NewAgent opens the queue and wires the components. Close must be called.
func NewAgent(ctx context.Context, cfg *AgentConfig, sink events.Sink, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(ctx, cfg.QueuePath)
	if err != nil {
		return nil, err
	}
	sender := NewSender(cfg.ServerURL, cfg.RequestTimeout, cfg.IdentityHeaders())
	monitor := NewMonitor(cfg.ProbeURL(), cfg.ProbeInterval, logger)
	status := NewStatus()
	monitor.OnChange(status.SetOnline)

	a := &Agent{
		cfg:         cfg,
		logger:      logger,
		Store:       store,
		Monitor:     monitor,
		Status:      status,
		Interceptor: NewInterceptor(sender, store, monitor, status, sink, logger),
		Replayer:    NewReplayer(store, sender, monitor, status, sink, logger, cfg.Replay()),
	}
	a.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewAPI(a.Interceptor, a.Replayer, status, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a, nil
}

// Run serves the loopback API and runs the background loops until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	initial, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Status.Run(ctx, initial)
		return nil
	})
	g.Go(func() error {
		a.Monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		err := a.Replayer.Run(ctx, a.Monitor.Restored())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.logger.Info("posagent listening", slog.String("addr", a.cfg.ListenAddr), slog.String("server", a.cfg.ServerURL))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("loopback api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the queue.
func (a *Agent) Close() error {
	return a.Store.Close()
}

func (a *Agent) snapshot(ctx context.Context) (Snapshot, error) {
	pending, err := a.Store.Count(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	dropped, err := a.Store.DroppedCount(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Pending: pending, Dropped: dropped, Online: a.Monitor.Online()}, nil
}
