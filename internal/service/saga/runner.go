package saga

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// step — один шаг саги. run выполняет прямое действие, compensate откатывает
// его последствия. Компенсация не возвращает ошибку: её сбои логируются и
// уходят в очередь компенсаций, исход саги они не меняют.
type step struct {
	name       domain.SagaStep
	run        func(ctx context.Context) error
	compensate func(ctx context.Context)
}

// executeSteps выполняет шаги по порядку. Первый сбой останавливает проход,
// после чего компенсации выполненных шагов запускаются в обратном порядке.
func (o *Orchestrator) executeSteps(ctx context.Context, orderID string, steps []step) error {
	completed := make([]step, 0, len(steps))

	for _, s := range steps {
		start := time.Now()
		err := s.run(ctx)
		if o.metrics != nil {
			o.metrics.RecordStepDuration(string(s.name), time.Since(start))
		}
		if err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"step":     s.name,
			}).Warn("saga step failed, compensating")
			o.compensateSteps(ctx, orderID, completed)
			return fmt.Errorf("step %s: %w", s.name, err)
		}
		completed = append(completed, s)
	}

	return nil
}

// compensateSteps откатывает выполненные шаги в обратном порядке.
func (o *Orchestrator) compensateSteps(ctx context.Context, orderID string, completed []step) {
	for i := len(completed) - 1; i >= 0; i-- {
		s := completed[i]
		if s.compensate == nil {
			continue
		}
		o.logger.WithFields(log.Fields{
			"order_id": orderID,
			"step":     s.name,
		}).Debug("running compensation")
		s.compensate(ctx)
	}
}
