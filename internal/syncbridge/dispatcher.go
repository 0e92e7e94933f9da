package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crmsync/internal/models"
	"crmsync/internal/repositories"
)

type Config struct {
	Workers      int
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// Lease hides a claimed entry from other dispatchers while it is being
	// pushed. It must exceed the bridge timeout.
	Lease   time.Duration
	Backoff Backoff
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.Lease <= 0 {
		c.Lease = 2 * time.Minute
	}
	return c
}

type Dispatcher struct {
	store   repositories.OutboxRepository
	bridge  Bridge
	alerter Alerter
	cfg     Config
	logger  *zap.Logger
	wake    chan struct{}
	now     func() time.Time
}

func NewDispatcher(store repositories.OutboxRepository, bridge Bridge, alerter Alerter, cfg Config, logger *zap.Logger) *Dispatcher {
	if bridge == nil {
		bridge = NopBridge{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		bridge:  bridge,
		alerter: alerter,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		wake:    make(chan struct{}, 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Notify wakes Run without waiting for the next poll.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("[sync][dispatcher] started",
		zap.Int("workers", d.cfg.Workers), zap.Duration("poll", d.cfg.PollInterval))
	for {
		for {
			n, err := d.ProcessOnce(ctx)
			if err != nil && ctx.Err() == nil {
				d.logger.Error("[sync][dispatcher] batch failed", zap.Error(err))
			}
			// a full batch means more may be due
			if err != nil || n < d.cfg.BatchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			d.logger.Info("[sync][dispatcher] stopped")
			return nil
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// ProcessOnce claims one batch of due entries and pushes them. It returns
// the number of entries claimed.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	now := d.now()
	entries, err := d.store.ClaimOutbox(ctx, now, now.Add(d.cfg.Lease), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, e := range entries {
		g.Go(func() error {
			return d.handle(gctx, e)
		})
	}
	return len(entries), g.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, e *models.OutboxEntry) error {
	log := d.logger.With(
		zap.String("entry", e.ID.String()),
		zap.String("action", string(e.Payload.Action)),
		zap.String("owner", e.OwnerID.String()))

	res, err := dispatch(ctx, d.bridge, e)
	if err == nil && res.Success {
		warning := strings.Join(res.Warnings, "; ")
		if warning != "" {
			log.Warn("[sync][push] done with warnings", zap.String("warnings", warning))
		} else {
			log.Debug("[sync][push] done", zap.String("message", res.Message))
		}
		if err := d.store.MarkOutboxDone(ctx, e.ID, warning); err != nil {
			return fmt.Errorf("mark outbox done: %w", err)
		}
		return nil
	}

	reason := failureReason(res, err)
	attempts := e.Attempts + 1
	if errors.Is(err, ErrPermanent) || attempts >= d.cfg.MaxAttempts {
		log.Error("[sync][push] dead letter", zap.Int("attempts", attempts), zap.String("reason", reason))
		if err := d.store.MarkOutboxDead(ctx, e.ID, attempts, reason); err != nil {
			return fmt.Errorf("mark outbox dead: %w", err)
		}
		e.Status, e.Attempts, e.LastError = models.OutboxDead, attempts, reason
		d.alert(ctx, e)
		return nil
	}

	next := d.now().Add(d.cfg.Backoff.Delay(attempts))
	log.Warn("[sync][push] retry scheduled",
		zap.Int("attempts", attempts), zap.Time("next", next), zap.String("reason", reason))
	if err := d.store.MarkOutboxFailed(ctx, e.ID, attempts, next, reason); err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (d *Dispatcher) alert(ctx context.Context, e *models.OutboxEntry) {
	if d.alerter == nil {
		return
	}
	if err := d.alerter.DeadLetter(ctx, e); err != nil {
		d.logger.Warn("[sync][alert] failed", zap.String("entry", e.ID.String()), zap.Error(err))
	}
}

func failureReason(res Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Message != "" {
		return res.Message
	}
	return "platform reported failure"
}

// Retry re-arms an entry (usually a dead letter) for immediate delivery.
// uuid.Nil as owner matches any owner.
func (d *Dispatcher) Retry(ctx context.Context, owner, id uuid.UUID) error {
	if err := d.store.RequeueOutbox(ctx, owner, id, d.now()); err != nil {
		return fmt.Errorf("requeue outbox entry: %w", err)
	}
	d.Notify()
	return nil
}
