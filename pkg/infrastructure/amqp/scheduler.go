package amqp

import (
	"container/heap"
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"gitea.xscloud.ru/xscloud/eventkit/pkg/application/logging"
)

type scheduledDelivery struct {
	dueAt    time.Time
	delivery Delivery
}

type deliveryHeap []*scheduledDelivery

func (h deliveryHeap) Len() int            { return len(h) }
func (h deliveryHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h deliveryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deliveryHeap) Push(x interface{}) { *h = append(*h, x.(*scheduledDelivery)) }
func (h *deliveryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// scheduler delivers deliveries no earlier than their due time. One goroutine
// sleeps until the nearest due item; schedule wakes it when an earlier item
// arrives.
type scheduler struct {
	publish        func(ctx context.Context, delivery Delivery) error
	publishTimeout time.Duration
	logger         logging.Logger
	now            func() time.Time

	mu      sync.Mutex
	items   deliveryHeap
	stopped bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newScheduler(
	publish func(ctx context.Context, delivery Delivery) error,
	publishTimeout time.Duration,
	logger logging.Logger,
) *scheduler {
	s := &scheduler{
		publish:        publish,
		publishTimeout: publishTimeout,
		logger:         logger,
		now:            time.Now,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *scheduler) schedule(delivery Delivery, dueAt time.Time) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return stderrors.New("delayed publish scheduler is stopped")
	}
	heap.Push(&s.items, &scheduledDelivery{dueAt: dueAt, delivery: delivery})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *scheduler) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		due, wait := s.collectDue()
		for _, item := range due {
			s.deliver(item)
		}

		if wait < 0 {
			select {
			case <-s.done:
				s.reportDropped()
				return
			case <-s.wake:
			}
			continue
		}

		timer.Reset(wait)
		select {
		case <-s.done:
			if !timer.Stop() {
				<-timer.C
			}
			s.reportDropped()
			return
		case <-s.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}

// collectDue pops every item that is due and reports how long to sleep until
// the next one; a negative wait means nothing is scheduled.
func (s *scheduler) collectDue() ([]*scheduledDelivery, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*scheduledDelivery
	now := s.now()
	for len(s.items) > 0 {
		next := s.items[0]
		if next.dueAt.After(now) {
			return due, next.dueAt.Sub(now)
		}
		due = append(due, heap.Pop(&s.items).(*scheduledDelivery))
	}
	return due, -1
}

func (s *scheduler) deliver(item *scheduledDelivery) {
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()

	if err := s.publish(ctx, item.delivery); err != nil {
		s.logger.Error(err, fmt.Sprintf("delayed publish of %q failed", item.delivery.Type))
	}
}

func (s *scheduler) reportDropped() {
	s.mu.Lock()
	dropped := len(s.items)
	s.items = nil
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warning(
			stderrors.New("scheduler stopped with undelivered deliveries"),
			fmt.Sprintf("dropping %d delayed deliveries not yet due", dropped),
		)
	}
}
