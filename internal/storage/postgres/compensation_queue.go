package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type compensationQueue struct {
	db *sql.DB
}

// NewCompensationQueue создаёт PostgreSQL-реализацию CompensationQueue.
func NewCompensationQueue(store *Store) domain.CompensationQueue {
	return &compensationQueue{db: store.DB()}
}

func (q *compensationQueue) Enqueue(task domain.CompensationTask) (domain.CompensationTask, error) {
	if task.OrderID == "" {
		return domain.CompensationTask{}, domain.ErrOrderIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

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

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO compensation_tasks (
			id, token, order_id, user_id, product_id, action,
			qty, amount_minor, attempts, status, not_before, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,'pending',$9,$10)
	`,
		task.ID, task.Token, task.OrderID, task.UserID, task.ProductID,
		string(task.Action), task.Qty, task.AmountMinor, task.NotBefore, task.CreatedAt,
	)
	if err != nil {
		// Токен уникален: повторная постановка возвращает существующую задачу.
		if isUniqueViolation(err) {
			return q.getByToken(ctx, task.Token)
		}
		return domain.CompensationTask{}, fmt.Errorf("enqueue compensation task: %w", err)
	}

	return task, nil
}

func (q *compensationQueue) PullDue(now time.Time, limit int) ([]domain.CompensationTask, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, token, order_id, user_id, product_id, action,
		       qty, amount_minor, attempts, not_before, created_at
		FROM compensation_tasks
		WHERE status = 'pending'
		  AND not_before <= $1
		ORDER BY not_before ASC, id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("pull due compensation tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.CompensationTask, 0, limit)
	for rows.Next() {
		task, err := scanCompensationTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compensation tasks: %w", err)
	}

	return tasks, nil
}

func (q *compensationQueue) MarkDone(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM compensation_tasks
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("delete compensation task: %w", err)
	}
	return checkAffected(res)
}

func (q *compensationQueue) Reschedule(id string, notBefore time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := q.db.ExecContext(ctx, `
		UPDATE compensation_tasks
		SET attempts = attempts + 1,
		    not_before = $2
		WHERE id = $1 AND status = 'pending'
	`, id, notBefore)
	if err != nil {
		return fmt.Errorf("reschedule compensation task: %w", err)
	}
	return checkAffected(res)
}

func (q *compensationQueue) MarkDead(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := q.db.ExecContext(ctx, `
		UPDATE compensation_tasks
		SET status = 'dead'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("mark compensation task dead: %w", err)
	}
	return checkAffected(res)
}

func (q *compensationQueue) Stats() (domain.CompensationStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var stats domain.CompensationStats
	if err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM compensation_tasks
	`).Scan(&stats.PendingCount, &stats.DeadCount); err != nil {
		return domain.CompensationStats{}, fmt.Errorf("compensation stats query failed: %w", err)
	}

	return stats, nil
}

func (q *compensationQueue) getByToken(ctx context.Context, token string) (domain.CompensationTask, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, token, order_id, user_id, product_id, action,
		       qty, amount_minor, attempts, not_before, created_at
		FROM compensation_tasks
		WHERE token = $1
	`, token)

	task, err := scanCompensationTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CompensationTask{}, domain.ErrCompensationNotFound
		}
		return domain.CompensationTask{}, err
	}
	return task, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompensationTask(row rowScanner) (domain.CompensationTask, error) {
	var (
		task   domain.CompensationTask
		action string
	)
	if err := row.Scan(
		&task.ID, &task.Token, &task.OrderID, &task.UserID, &task.ProductID,
		&action, &task.Qty, &task.AmountMinor, &task.Attempts, &task.NotBefore, &task.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CompensationTask{}, err
		}
		return domain.CompensationTask{}, fmt.Errorf("scan compensation task: %w", err)
	}
	task.Action = domain.CompensationAction(action)
	return task, nil
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCompensationNotFound
	}
	return nil
}

var _ domain.CompensationQueue = (*compensationQueue)(nil)
