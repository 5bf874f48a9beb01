package store

import (
	"context"
)

// Store defines the durable operations the platform needs. Lookups that find
// nothing return (nil, nil); errors are reserved for transport and constraint
// failures.
type Store interface {
	// Job operations
	SaveJob(ctx context.Context, job *Job, shardIndex int) (int64, error)
	SetJobInactive(ctx context.Context, jobID int64) error
	GetJobsByPrimaryEmail(ctx context.Context, email string) ([]*Job, error)
	GetJobsForShard(ctx context.Context, shardIndex int) ([]*Job, error)
	GetActiveJobIDs(ctx context.Context, shardIndex int) (map[int64]struct{}, error)

	// Notification operations
	SaveNotification(ctx context.Context, n *Notification) (int64, error)
	GetNotificationByID(ctx context.Context, id int64) (*Notification, error)
	GetNotificationsForJobs(ctx context.Context, jobIDs []int64) (map[int64][]*Notification, error)
	// AcknowledgeNotification marks the notification as acknowledged and
	// reports whether exactly one unacknowledged row was updated.
	AcknowledgeNotification(ctx context.Context, id int64) (bool, error)

	Close()
}
