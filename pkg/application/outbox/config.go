package outbox

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ErrConfiguration reports invalid processor tunables. Construction fails
// fast; nothing is validated again at runtime.
var ErrConfiguration = errors.New("invalid outbox configuration")

const (
	defaultBatchSize      = 50
	defaultMaxRetryCount  = 5
	defaultInterval       = 5 * time.Second
	defaultRetryCooldown  = 5 * time.Minute
	defaultPublishTimeout = 2 * time.Second
)

// ProcessorConfig holds the drain loop tunables. All values are fixed at
// construction.
type ProcessorConfig struct {
	// BatchSize caps how many records each pass selects.
	BatchSize int
	// MaxRetryCount is the retry budget per record; a record reaching it is
	// excluded from further automatic attempts.
	MaxRetryCount int
	// Interval is the period between drain cycles.
	Interval time.Duration
	// RetryCooldown is the minimum age of a failed attempt before the record
	// becomes retry-eligible, so a persistently failing downstream is not
	// hot-looped.
	RetryCooldown time.Duration
	// PublishTimeout bounds each broker publish call. It must stay below
	// Interval so one hang cannot stall the next cycle.
	PublishTimeout time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:      defaultBatchSize,
		MaxRetryCount:  defaultMaxRetryCount,
		Interval:       defaultInterval,
		RetryCooldown:  defaultRetryCooldown,
		PublishTimeout: defaultPublishTimeout,
	}
}

func (c ProcessorConfig) Validate() error {
	if c.BatchSize <= 0 {
		return pkgerrors.Wrapf(ErrConfiguration, "batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxRetryCount <= 0 {
		return pkgerrors.Wrapf(ErrConfiguration, "max retry count must be positive, got %d", c.MaxRetryCount)
	}
	if c.Interval <= 0 {
		return pkgerrors.Wrapf(ErrConfiguration, "interval must be positive, got %s", c.Interval)
	}
	if c.RetryCooldown < 0 {
		return pkgerrors.Wrapf(ErrConfiguration, "retry cooldown must not be negative, got %s", c.RetryCooldown)
	}
	if c.PublishTimeout <= 0 {
		return pkgerrors.Wrapf(ErrConfiguration, "publish timeout must be positive, got %s", c.PublishTimeout)
	}
	if c.PublishTimeout >= c.Interval {
		return pkgerrors.Wrapf(
			ErrConfiguration,
			"publish timeout %s must be shorter than interval %s",
			c.PublishTimeout, c.Interval,
		)
	}
	return nil
}
