// Package worker runs background jobs against the database.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/taskstar/internal/identity"
)

// Janitor deletes expired auth sessions and tells their clients they were
// signed out. Several workers may run against one database.
type Janitor struct {
	pool     *pgxpool.Pool
	events   identity.Publisher
	logger   *zap.Logger
	count    int
	interval time.Duration
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

func NewJanitor(pool *pgxpool.Pool, events identity.Publisher, logger *zap.Logger, count int, interval time.Duration) *Janitor {
	if count < 1 {
		count = 1
	}
	return &Janitor{
		pool:     pool,
		events:   events,
		logger:   logger,
		count:    count,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Starting session janitor", zap.Int("workers", j.count), zap.Duration("interval", j.interval))

	for i := 0; i < j.count; i++ {
		j.wg.Add(1)
		go j.worker(ctx, i)
	}
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		j.logger.Info("Stopping session janitor...")
		close(j.stop)
		j.wg.Wait()
		j.logger.Info("Session janitor stopped")
	})
}

func (j *Janitor) worker(ctx context.Context, id int) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.drain(ctx, id); err != nil {
				j.logger.Error("janitor error", zap.Int("worker", id), zap.Error(err))
			}
		}
	}
}

// drain expires sessions until none are left or the janitor stops.
func (j *Janitor) drain(ctx context.Context, workerID int) error {
	for {
		select {
		case <-j.stop:
			return nil
		default:
		}

		err := j.processNext(ctx, workerID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (j *Janitor) processNext(ctx context.Context, workerID int) error {
	sessionID, err := j.claimExpired(ctx)
	if err != nil {
		return err
	}

	j.logger.Info("Session expired",
		zap.Int("worker", workerID),
		zap.String("session_id", sessionID),
	)

	// the row is gone either way; a failed push is only logged
	if err := j.events.Publish(ctx, sessionID, identity.EventSignedOut); err != nil {
		j.logger.Warn("failed to publish sign-out", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

func (j *Janitor) claimExpired(ctx context.Context) (string, error) {
	var id string
	err := j.pool.QueryRow(ctx, `
		WITH claimed AS (
			SELECT id
			FROM auth_sessions
			WHERE expires_at < now()
			ORDER BY expires_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		DELETE FROM auth_sessions
		USING claimed
		WHERE auth_sessions.id = claimed.id
		RETURNING auth_sessions.id::text
	`).Scan(&id)
	return id, err
}
