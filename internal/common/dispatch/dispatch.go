// internal/common/dispatch/dispatch.go

// Package dispatch runs the stage workers. Each worker polls its stage of
// the application backlog on an interval and processes one claimed batch
// per tick; the dispatcher owns the goroutines and the shutdown sequence.
package dispatch

import (
	"context"
	"sync"
	"time"

	"civigo/internal/common/config"
	"civigo/internal/common/logger"
	"civigo/internal/common/metrics"
)

// Handler processes one polling tick. Implementations claim their own batch
// and must honor the context deadline.
type Handler interface {
	Name() string
	ProcessBatch(ctx context.Context) error
}

type registered struct {
	handler Handler
	cfg     config.WorkerConfig
}

type Dispatcher struct {
	workers []registered
	logger  logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    sync.WaitGroup
	started bool
}

func New(log logger.Logger) *Dispatcher {
	return &Dispatcher{
		logger: log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
}

// Register adds a worker. Disabled workers are recorded and skipped at
// start so an operator can see what is off.
func (d *Dispatcher) Register(handler Handler, cfg config.WorkerConfig) {
	d.workers = append(d.workers, registered{handler: handler, cfg: cfg})
}

// Start launches one polling goroutine per enabled worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, reg := range d.workers {
		if !reg.cfg.Enabled {
			d.logger.Info("worker disabled", map[string]interface{}{
				"worker": reg.handler.Name(),
			})
			continue
		}
		d.done.Add(1)
		go d.run(runCtx, reg)
	}
}

// Stop cancels every polling loop and waits for in-flight batches, bounded
// by the given context.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	finished := make(chan struct{})
	go func() {
		d.done.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.logger.Info("all workers stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, reg registered) {
	defer d.done.Done()

	name := reg.handler.Name()
	interval := config.GetDuration(reg.cfg.PollInterval)
	d.logger.Info("worker started", map[string]interface{}{
		"worker":       name,
		"pollInterval": interval,
		"batchSize":    reg.cfg.BatchSize,
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("worker stopping", map[string]interface{}{"worker": name})
			return
		case <-ticker.C:
			d.tick(ctx, reg, name)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, reg registered, name string) {
	batchCtx := ctx
	var cancel context.CancelFunc
	if reg.cfg.Timeout > 0 {
		batchCtx, cancel = context.WithTimeout(ctx, config.GetDuration(reg.cfg.Timeout))
		defer cancel()
	}

	start := time.Now()
	err := reg.handler.ProcessBatch(batchCtx)
	metrics.WorkerBatchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil && ctx.Err() == nil {
		d.logger.Error("batch processing failed", map[string]interface{}{
			"worker": name,
			"error":  err,
		})
	}
}
