package outbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
)

func TestProcessorConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *outbox.ProcessorConfig)
		valid  bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(*outbox.ProcessorConfig) {},
			valid:  true,
		},
		{
			name:   "zero batch size",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.BatchSize = 0 },
		},
		{
			name:   "negative max retry count",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.MaxRetryCount = -1 },
		},
		{
			name:   "zero interval",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.Interval = 0 },
		},
		{
			name:   "negative retry cooldown",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.RetryCooldown = -time.Second },
		},
		{
			name:   "zero retry cooldown is allowed",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.RetryCooldown = 0 },
			valid:  true,
		},
		{
			name:   "zero publish timeout",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.PublishTimeout = 0 },
		},
		{
			name:   "publish timeout not below interval",
			mutate: func(cfg *outbox.ProcessorConfig) { cfg.PublishTimeout = cfg.Interval },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := outbox.DefaultProcessorConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, outbox.ErrConfiguration)
			}
		})
	}
}

func TestNewProcessorRejectsInvalidConfig(t *testing.T) {
	cfg := outbox.DefaultProcessorConfig()
	cfg.BatchSize = 0

	_, err := outbox.NewProcessor(nil, nil, nil, cfg, nopLogger{})
	assert.ErrorIs(t, err, outbox.ErrConfiguration)
}
