/*
janitor.go - Stale conference cleanup

PURPOSE:
  Periodically discards conferences that were opened and then abandoned, so
  they stop blocking new conferences for their location.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Selects PENDENTE / EM_ANDAMENTO conferences created before now - MaxAge
  - Discards each through Engine.Discard, so the usual lock and state checks
    apply; a conference that moved on in the meantime is left alone
  - CONCLUIDA and FINALIZADA conferences are never touched

CONFIGURATION:
  - Interval: How often to check (default: 1 hour)
  - MaxAge:   Age after which an open conference is stale (default: 72 hours)
  - Enabled:  Whether the janitor runs (default: false)

USAGE:
  janitor := conference.NewJanitor(engine, logger)
  janitor.Enabled = true
  janitor.Start()
  // ... later
  janitor.Stop()

SEE ALSO:
  - engine.go: Discard
*/
package conference

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Janitor discards stale open conferences.
type Janitor struct {
	Engine   *Engine
	Interval time.Duration
	MaxAge   time.Duration
	Enabled  bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// JanitorRun reports one sweep.
type JanitorRun struct {
	Discarded []ConferenceID
	Skipped   int
	Failed    int
}

func NewJanitor(engine *Engine, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		Engine:   engine,
		Interval: 1 * time.Hour,
		MaxAge:   72 * time.Hour,
		logger:   logger.Named("janitor"),
	}
}

// Start begins the periodic sweep.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.Enabled {
		j.logger.Info("disabled, not starting")
		return
	}
	if j.ticker != nil {
		return
	}

	j.ticker = time.NewTicker(j.Interval)
	j.stop = make(chan struct{})
	j.wg.Add(1)

	go j.run()

	j.logger.Info("started",
		zap.Duration("interval", j.Interval),
		zap.Duration("max_age", j.MaxAge),
	)
}

// Stop stops the sweep and waits for a running one to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker != nil {
		j.ticker.Stop()
		close(j.stop)
		j.wg.Wait()
		j.ticker = nil
		j.logger.Info("stopped")
	}
}

func (j *Janitor) run() {
	defer j.wg.Done()

	j.RunNow(context.Background())

	for {
		select {
		case <-j.ticker.C:
			j.RunNow(context.Background())
		case <-j.stop:
			return
		}
	}
}

// RunNow performs one sweep immediately.
func (j *Janitor) RunNow(ctx context.Context) JanitorRun {
	var run JanitorRun

	cutoff := j.Engine.now().Add(-j.MaxAge)
	stale, err := j.Engine.List(ctx, ListFilter{
		Statuses:      []Status{StatusPending, StatusInProgress},
		CreatedBefore: &cutoff,
	})
	if err != nil {
		j.logger.Error("failed to list stale conferences", zap.Error(err))
		return run
	}

	for _, rec := range stale {
		err := j.Engine.Discard(ctx, rec.ID)
		switch {
		case err == nil:
			run.Discarded = append(run.Discarded, rec.ID)
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConferenceNotFound):
			run.Skipped++
		default:
			run.Failed++
			j.logger.Warn("failed to discard stale conference",
				zap.String("conference_id", string(rec.ID)),
				zap.Error(err),
			)
		}
	}

	if len(run.Discarded) > 0 || run.Failed > 0 {
		j.logger.Info("sweep completed",
			zap.Int("discarded", len(run.Discarded)),
			zap.Int("skipped", run.Skipped),
			zap.Int("failed", run.Failed),
		)
	}
	return run
}
