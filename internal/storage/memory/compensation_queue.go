package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// compensationQueueInMemory хранит отложенные компенсации с де-дупликацией по токену.
type compensationQueueInMemory struct {
	mu      sync.RWMutex
	pending map[string]domain.CompensationTask
	dead    map[string]domain.CompensationTask
	byToken map[string]string
}

// NewCompensationQueue создаёт in-memory реализацию CompensationQueue.
func NewCompensationQueue() domain.CompensationQueue {
	return &compensationQueueInMemory{
		pending: make(map[string]domain.CompensationTask),
		dead:    make(map[string]domain.CompensationTask),
		byToken: make(map[string]string),
	}
}

// Enqueue ставит задачу в очередь. Повторная постановка с тем же токеном
// возвращает существующую задачу без изменений.
func (q *compensationQueueInMemory) Enqueue(task domain.CompensationTask) (domain.CompensationTask, error) {
	if task.OrderID == "" {
		return domain.CompensationTask{}, domain.ErrOrderIDRequired
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if task.Token != "" {
		if id, ok := q.byToken[task.Token]; ok {
			if existing, ok := q.pending[id]; ok {
				return existing, nil
			}
			if existing, ok := q.dead[id]; ok {
				return existing, nil
			}
		}
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.NotBefore.IsZero() {
		task.NotBefore = now
	}

	q.pending[task.ID] = task
	if task.Token != "" {
		q.byToken[task.Token] = task.ID
	}
	return task, nil
}

// PullDue возвращает до limit задач, срок которых наступил, старые первыми.
func (q *compensationQueueInMemory) PullDue(now time.Time, limit int) ([]domain.CompensationTask, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 100
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	due := make([]domain.CompensationTask, 0, len(q.pending))
	for _, task := range q.pending {
		if task.NotBefore.After(now) {
			continue
		}
		due = append(due, task)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NotBefore.Before(due[j].NotBefore)
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkDone удаляет выполненную задачу из очереди.
func (q *compensationQueueInMemory) MarkDone(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.pending[id]
	if !ok {
		return domain.ErrCompensationNotFound
	}
	delete(q.pending, id)
	if task.Token != "" {
		delete(q.byToken, task.Token)
	}
	return nil
}

// Reschedule откладывает задачу и увеличивает счётчик попыток.
func (q *compensationQueueInMemory) Reschedule(id string, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.pending[id]
	if !ok {
		return domain.ErrCompensationNotFound
	}
	task.Attempts++
	task.NotBefore = notBefore
	q.pending[id] = task
	return nil
}

// MarkDead переносит задачу в мёртвую очередь для ручного разбора.
func (q *compensationQueueInMemory) MarkDead(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.pending[id]
	if !ok {
		return domain.ErrCompensationNotFound
	}
	delete(q.pending, id)
	q.dead[id] = task
	return nil
}

// Stats возвращает размеры активной и мёртвой частей очереди.
func (q *compensationQueueInMemory) Stats() (domain.CompensationStats, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return domain.CompensationStats{
		PendingCount: len(q.pending),
		DeadCount:    len(q.dead),
	}, nil
}

var _ domain.CompensationQueue = (*compensationQueueInMemory)(nil)
