package outbox

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/event"
	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/logging"
)

// Processor periodically drains the outbox store to the broker. One Processor
// owns one logical drain loop: cycles never overlap, so per-record state
// transitions stay free of races with ourselves. Failures are isolated per
// record; one bad record never blocks the batch.
type Processor struct {
	store      Store
	broker     Broker
	serializer event.Serializer
	cfg        ProcessorConfig
	logger     logging.Logger

	deadLetter DeadLetterStore
	metrics    *Metrics
	now        func() time.Time
}

type ProcessorOption func(*Processor)

// WithDeadLetterStore copies records that exhaust the retry budget to the
// given store for manual inspection.
func WithDeadLetterStore(store DeadLetterStore) ProcessorOption {
	return func(p *Processor) {
		p.deadLetter = store
	}
}

func WithMetrics(metrics *Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = metrics
	}
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(
	store Store,
	broker Broker,
	serializer event.Serializer,
	cfg ProcessorConfig,
	logger logging.Logger,
	opts ...ProcessorOption,
) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		store:      store,
		broker:     broker,
		serializer: serializer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run drives drain cycles on the configured interval until ctx is cancelled,
// then makes one final best-effort pass. At-least-once delivery is only
// approximate across shutdown.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), p.cfg.Interval)
			defer cancel()
			if err := p.ProcessOnce(drainCtx); err != nil {
				p.logger.Warning(err, "final outbox drain failed")
			}
			return nil
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error(err, "outbox drain cycle failed")
			}
		}
	}
}

// ProcessOnce runs a single drain cycle: first the pending pass over records
// that were never attempted, then the retry pass over records whose cool-down
// has elapsed. Records that exhausted the retry budget are excluded from both.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	pending, err := p.store.ListPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if err = p.processRecords(ctx, pending); err != nil {
		return err
	}

	cooledDownBefore := p.now().Add(-p.cfg.RetryCooldown)
	retryable, err := p.store.ListRetryable(ctx, p.cfg.BatchSize, cooledDownBefore, p.cfg.MaxRetryCount)
	if err != nil {
		return err
	}
	return p.processRecords(ctx, retryable)
}

// CleanupOldEvents purges published records delivered longer than retention
// ago. Unpublished records survive regardless of age.
func (p *Processor) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return p.store.CleanupOldEvents(ctx, p.now().Add(-retention))
}

func (p *Processor) Statistics(ctx context.Context) (Statistics, error) {
	return p.store.Statistics(ctx, p.cfg.MaxRetryCount)
}

func (p *Processor) processRecords(ctx context.Context, records []Record) error {
	for _, record := range records {
		// Cancellation must leave persisted state unchanged, so stop before
		// touching the next record.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.processRecord(ctx, record)
	}
	return nil
}

func (p *Processor) processRecord(ctx context.Context, record Record) {
	started := p.now()

	err := p.publish(ctx, record)
	if err == nil {
		if markErr := p.store.MarkPublished(ctx, record.ID, p.now()); markErr != nil {
			p.logger.Error(markErr, fmt.Sprintf("failed to mark outbox record %d published", record.ID))
			return
		}
		p.metrics.observePublished(p.now().Sub(started))
		return
	}

	if ctx.Err() != nil {
		// Cancelled mid-publish: no partial state transition.
		return
	}
	p.fail(ctx, record, err)
}

func (p *Processor) publish(ctx context.Context, record Record) error {
	decoded, err := p.serializer.Deserialize(record.Payload, record.EventType)
	if err != nil {
		return err
	}
	integrationEvent, ok := decoded.(event.IntegrationEvent)
	if !ok {
		return pkgerrors.Wrapf(event.ErrSerialization, "event type %q is not an integration event", record.EventType)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	return p.broker.Publish(publishCtx, integrationEvent, record.RoutingKey)
}

func (p *Processor) fail(ctx context.Context, record Record, cause error) {
	p.logger.Warning(cause, fmt.Sprintf("outbox record %d delivery failed", record.ID))

	if err := p.store.MarkFailed(ctx, record.ID, cause.Error(), p.now()); err != nil {
		p.logger.Error(err, fmt.Sprintf("failed to mark outbox record %d failed", record.ID))
		return
	}
	p.metrics.observeFailed()

	if record.RetryCount+1 >= p.cfg.MaxRetryCount {
		p.deadLetterRecord(ctx, record, cause)
	}
}

func (p *Processor) deadLetterRecord(ctx context.Context, record Record, cause error) {
	now := p.now()
	record.RetryCount++
	record.LastError = cause.Error()
	record.LastRetryAt = &now

	if p.deadLetter == nil {
		p.logger.Warning(cause, fmt.Sprintf(
			"outbox record %d exhausted %d retries and no dead-letter store is configured",
			record.ID, p.cfg.MaxRetryCount,
		))
		return
	}

	letter := DeadLetter{
		Record:         record,
		Reason:         cause.Error(),
		DeadLetteredAt: now,
	}
	if err := p.deadLetter.Add(ctx, letter); err != nil {
		p.logger.Error(err, fmt.Sprintf("failed to dead-letter outbox record %d", record.ID))
		return
	}
	p.metrics.observeDeadLettered()
	p.logger.WithField("record_id", record.ID).Info("outbox record moved to dead letter store")
}
