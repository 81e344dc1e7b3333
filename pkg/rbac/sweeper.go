package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/girderhq/girder/pkg/observability"
)

// DefaultSweepSchedule runs the expiry sweep every 10 minutes. Correctness
// does not depend on it: expiry is always enforced at read time, the sweep
// just keeps the active flags and indexes honest.
const DefaultSweepSchedule = "*/10 * * * *"

// Sweeper physically deactivates expired assignment and grant rows on a
// cron schedule.
type Sweeper struct {
	db     *sql.DB
	cache  SnapshotCache
	logger *observability.Logger
	cron   *cron.Cron
}

// NewSweeper creates a sweeper. The cache receives invalidations for every
// user whose assignment gets deactivated.
func NewSweeper(db *sql.DB, cache SnapshotCache, logger *observability.Logger) *Sweeper {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Sweeper{db: db, cache: cache, logger: logger}
}

// Start schedules the sweep. An empty schedule uses DefaultSweepSchedule.
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.logger, "expiry sweep")

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		swept, err := s.SweepExpired(ctx)
		if err != nil {
			s.logger.WithError(err).Error("expiry sweep failed")
			return
		}
		if swept > 0 {
			s.logger.WithField("rows", swept).Info("deactivated expired rows")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepExpired deactivates every assignment and rule grant whose expiry has
// passed, and drops the affected users' cached snapshots. Returns the total
// number of rows deactivated.
func (s *Sweeper) SweepExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()

	keys, err := s.expiredAssignmentKeys(ctx, now)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE company_user_assignments
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep assignments: %w", err)
	}
	sweptAssignments, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept assignments: %w", err)
	}

	result, err = s.db.ExecContext(ctx, `
		UPDATE role_permission_grants
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep grants: %w", err)
	}
	sweptGrants, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept grants: %w", err)
	}

	if len(keys) > 0 {
		if err := s.cache.InvalidateMany(ctx, keys); err != nil {
			s.logger.WithError(err).WithField("keys", len(keys)).Warn("sweep invalidation failed")
		}
	}
	return sweptAssignments + sweptGrants, nil
}

func (s *Sweeper) expiredAssignmentKeys(ctx context.Context, now time.Time) ([]SnapshotKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT company_id, user_id
		FROM company_user_assignments
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate expired assignments: %w", err)
	}
	defer rows.Close()

	var keys []SnapshotKey
	for rows.Next() {
		var key SnapshotKey
		if err := rows.Scan(&key.CompanyID, &key.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan expired assignment: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
