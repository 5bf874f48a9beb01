package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// Connections are acquired per operation; probers and escalators of one
	// shard share this pool.
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Job operations ---

func (s *PostgresStore) SaveJob(ctx context.Context, job *Job, shardIndex int) (int64, error) {
	query := `
		INSERT INTO jobs (url, primary_email, secondary_email, period_ms, alerting_window_ms, response_time_ms, shard_index, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING job_id
	`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		job.URL, job.PrimaryEmail, job.SecondaryEmail,
		job.PeriodMS, job.WindowMS, job.ResponseTimeMS,
		shardIndex, job.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	job.ID = id
	job.ShardIndex = shardIndex
	return id, nil
}

func (s *PostgresStore) SetJobInactive(ctx context.Context, jobID int64) error {
	// Idempotent: deactivating an unknown or already-inactive job is a no-op.
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET is_active = FALSE WHERE job_id = $1`, jobID)
	return err
}

func (s *PostgresStore) GetJobsByPrimaryEmail(ctx context.Context, email string) ([]*Job, error) {
	query := selectJobs + ` WHERE primary_email = $1 ORDER BY job_id`
	rows, err := s.pool.Query(ctx, query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) GetJobsForShard(ctx context.Context, shardIndex int) ([]*Job, error) {
	query := selectJobs + ` WHERE shard_index = $1 ORDER BY job_id`
	rows, err := s.pool.Query(ctx, query, shardIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *PostgresStore) GetActiveJobIDs(ctx context.Context, shardIndex int) (map[int64]struct{}, error) {
	query := `SELECT job_id FROM jobs WHERE shard_index = $1 AND is_active`
	rows, err := s.pool.Query(ctx, query, shardIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

const selectJobs = `
	SELECT job_id, url, primary_email, secondary_email, period_ms, alerting_window_ms, response_time_ms, shard_index, is_active
	FROM jobs`

func scanJobs(rows pgx.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.URL, &j.PrimaryEmail, &j.SecondaryEmail,
			&j.PeriodMS, &j.WindowMS, &j.ResponseTimeMS,
			&j.ShardIndex, &j.IsActive,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// --- Notification operations ---

func (s *PostgresStore) SaveNotification(ctx context.Context, n *Notification) (int64, error) {
	query := `
		INSERT INTO notifications (job_id, time_sent, stage, acknowledged)
		VALUES ($1, $2, $3, $4)
		RETURNING notification_id
	`
	var id int64
	err := s.pool.QueryRow(ctx, query, n.JobID, n.TimeSent, n.Stage, n.Acknowledged).Scan(&id)
	if err != nil {
		return 0, err
	}
	n.ID = id
	return id, nil
}

func (s *PostgresStore) GetNotificationByID(ctx context.Context, id int64) (*Notification, error) {
	query := `
		SELECT notification_id, job_id, time_sent, stage, acknowledged
		FROM notifications WHERE notification_id = $1
	`
	var n Notification
	err := s.pool.QueryRow(ctx, query, id).Scan(&n.ID, &n.JobID, &n.TimeSent, &n.Stage, &n.Acknowledged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *PostgresStore) GetNotificationsForJobs(ctx context.Context, jobIDs []int64) (map[int64][]*Notification, error) {
	query := `
		SELECT notification_id, job_id, time_sent, stage, acknowledged
		FROM notifications WHERE job_id = ANY($1)
		ORDER BY time_sent, notification_id
	`
	rows, err := s.pool.Query(ctx, query, jobIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byJob := make(map[int64][]*Notification)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.JobID, &n.TimeSent, &n.Stage, &n.Acknowledged); err != nil {
			return nil, err
		}
		byJob[n.JobID] = append(byJob[n.JobID], &n)
	}
	return byJob, rows.Err()
}

func (s *PostgresStore) AcknowledgeNotification(ctx context.Context, id int64) (bool, error) {
	// The guard on acknowledged makes the second click, and an unknown id,
	// report false rather than silently succeeding.
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET acknowledged = TRUE WHERE notification_id = $1 AND NOT acknowledged`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
