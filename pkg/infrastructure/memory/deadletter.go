package memory

import (
	"context"
	"sync"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/outbox"
)

// DeadLetterStore is an in-memory outbox.DeadLetterStore.
type DeadLetterStore struct {
	mu      sync.Mutex
	letters []outbox.DeadLetter
}

func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{}
}

func (s *DeadLetterStore) Add(ctx context.Context, letter outbox.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.letters = append(s.letters, letter)
	s.mu.Unlock()
	return nil
}

func (s *DeadLetterStore) List(ctx context.Context, limit int) ([]outbox.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.letters) {
		limit = len(s.letters)
	}
	result := make([]outbox.DeadLetter, limit)
	copy(result, s.letters)
	return result, nil
}
