package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// timelineRepositoryInMemory хранит события заказа в порядке добавления.
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{
		events: make(map[string][]domain.TimelineEvent),
	}
}

// Append добавляет событие в хронику заказа.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[event.OrderID] = append(r.events[event.OrderID], event)
	return nil
}

// List возвращает события заказа в порядке их добавления.
func (r *timelineRepositoryInMemory) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[orderID]
	return append([]domain.TimelineEvent(nil), events...), nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
