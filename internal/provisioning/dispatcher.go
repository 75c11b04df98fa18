package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/novafi/novafi/internal/domain"
	"github.com/novafi/novafi/internal/repository"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultSchedule  = "@every 1m"
	defaultBatchSize = 100
	stopGrace        = 5 * time.Second
)

// Provisioner is what the dispatcher drives.
type Provisioner interface {
	Provision(ctx context.Context, userID string) (Outcome, error)
}

// DispatcherConfig tunes the worker pool and the sweeper.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Schedule  string
	BatchSize int
}

// Dispatcher runs provisioning on a worker pool. User keys arrive from the
// webhook right after approval and from a cron sweep over persisted pending
// markers and expired leases, which covers anything lost in a crash.
type Dispatcher struct {
	provisioner Provisioner
	store       repository.Store
	logger      *slog.Logger
	cfg         DispatcherConfig
	now         func() time.Time

	queue chan string
	done  chan struct{}
	cron  *cron.Cron
	wg    sync.WaitGroup
	// cancelRuns interrupts in-flight runs. Only Stop calls it, after its
	// deadline passes.
	cancelRuns context.CancelFunc

	mu       sync.Mutex
	inflight map[string]bool
	started  bool
	stopped  bool
}

// NewDispatcher builds a dispatcher; call Start to run it.
func NewDispatcher(provisioner Provisioner, store repository.Store, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		provisioner: provisioner,
		store:       store,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		queue:       make(chan string, cfg.QueueSize),
		done:        make(chan struct{}),
		inflight:    make(map[string]bool),
	}
}

// Start launches the workers and the sweeper schedule. Cancelling ctx stops
// workers from taking new users; a run already under way keeps going until
// Stop interrupts it.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("dispatcher already started")
	}

	c := cron.New()
	if err := c.AddFunc(d.cfg.Schedule, func() {
		if _, err := d.Sweep(ctx); err != nil {
			d.logger.Error("provisioning sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", d.cfg.Schedule, err)
	}
	d.cron = c

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancelRuns = cancel
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, runCtx)
	}
	c.Start()
	d.started = true
	d.logger.Info("provisioning dispatcher started", "workers", d.cfg.Workers, "schedule", d.cfg.Schedule)
	return nil
}

// Stop halts the sweeper and waits for running jobs. When ctx expires first the
// runs are cancelled; they hand their leases back with the pending marker kept.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.cron.Stop()
	close(d.done)
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	defer d.cancelRuns()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
	}

	d.cancelRuns()
	select {
	case <-finished:
	case <-time.After(stopGrace):
		d.logger.Error("provisioning workers did not stop after cancellation")
	}
	return ctx.Err()
}

// Enqueue schedules userID without blocking. It returns false when the user is
// already queued or the queue is full; the persisted marker keeps the work for
// the next sweep in that case.
func (d *Dispatcher) Enqueue(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.inflight[userID] {
		return false
	}
	select {
	case d.queue <- userID:
		d.inflight[userID] = true
		return true
	default:
		d.logger.Warn("provisioning queue full", "user_id", userID)
		return false
	}
}

// Sweep enqueues users with a pending marker or an expired lease.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	ids, err := d.store.PendingProvisioning(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, id := range ids {
		if d.Enqueue(id) {
			queued++
		}
	}
	if len(ids) > 0 {
		d.logger.Info("provisioning sweep", "pending", len(ids), "queued", queued)
	}
	return queued, nil
}

// RunPending provisions every pending user synchronously. The operator CLI
// uses it for a one-off pass without starting workers.
func (d *Dispatcher) RunPending(ctx context.Context) ([]Outcome, error) {
	ids, err := d.store.PendingProvisioning(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		if out, ok := d.handle(ctx, id); ok {
			outcomes = append(outcomes, out)
		}
	}
	return outcomes, nil
}

func (d *Dispatcher) work(ctx, runCtx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.handle(runCtx, id)
			d.mu.Lock()
			delete(d.inflight, id)
			d.mu.Unlock()
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, userID string) (Outcome, bool) {
	out, err := d.provisioner.Provision(ctx, userID)
	switch {
	case err == nil:
		return out, true
	case errors.Is(err, domain.ErrProvisioningInProgress):
		d.logger.Debug("provisioning lease held elsewhere", "user_id", userID)
	case errors.Is(err, domain.ErrLeaseLost):
		d.logger.Warn("provisioning run outlived its lease", "user_id", userID, "error", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.logger.Info("provisioning interrupted", "user_id", userID)
	case errors.Is(err, domain.ErrNotEligible), errors.Is(err, domain.ErrUserNotFound):
		d.logger.Warn("dropping pending provisioning", "user_id", userID, "error", err)
		if clearErr := d.store.ClearPending(ctx, userID); clearErr != nil {
			d.logger.Error("clear pending marker", "user_id", userID, "error", clearErr)
		}
	default:
		d.logger.Error("provisioning run failed", "user_id", userID, "error", err)
	}
	return Outcome{}, false
}
