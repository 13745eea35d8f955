package sweep

import (
	"context"
	"time"

	"tally/internal/lifecycle"
	"tally/internal/logs"
)

// Sweeper периодически переводит просроченные SENT-КП в EXPIRED.
// Единственный переход, который инициируется не действием человека.
type Sweeper struct {
	orch     *lifecycle.Orchestrator
	interval time.Duration
}

func New(orch *lifecycle.Orchestrator, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{orch: orch, interval: interval}
}

// Run крутит цикл до отмены контекста. Запускать горутиной из server.App.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	// первый прогон сразу после старта, не ждём первый тик
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			logs.Logger.Info("sweeper stopped")
			return
		case <-t.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.orch.ExpireOldQuotes(ctx)
	if err != nil {
		logs.Logger.Errorf("expire sweep failed: %v", err)
		return
	}
	if n > 0 {
		logs.Logger.Infof("expire sweep: %d quotes expired", n)
	}
}
