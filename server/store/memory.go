package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-process maps. It backs tests and
// single-node development runs; semantics mirror PostgresStore, including
// returning copies so callers never share row memory.
type MemoryStore struct {
	mu                 sync.RWMutex
	jobs               map[int64]*Job
	notifications      map[int64]*Notification
	nextJobID          int64
	nextNotificationID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:               make(map[int64]*Job),
		notifications:      make(map[int64]*Notification),
		nextJobID:          1,
		nextNotificationID: 1,
	}
}

func (s *MemoryStore) Close() {}

// --- Job operations ---

func (s *MemoryStore) SaveJob(ctx context.Context, job *Job, shardIndex int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextJobID
	s.nextJobID++

	stored := *job
	stored.ID = id
	stored.ShardIndex = shardIndex
	s.jobs[id] = &stored

	job.ID = id
	job.ShardIndex = shardIndex
	return id, nil
}

func (s *MemoryStore) SetJobInactive(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.IsActive = false
	}
	return nil
}

func (s *MemoryStore) GetJobsByPrimaryEmail(ctx context.Context, email string) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, j := range s.jobs {
		if j.PrimaryEmail == email {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *MemoryStore) GetJobsForShard(ctx context.Context, shardIndex int) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, j := range s.jobs {
		if j.ShardIndex == shardIndex {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	sortJobs(jobs)
	return jobs, nil
}

func (s *MemoryStore) GetActiveJobIDs(ctx context.Context, shardIndex int) (map[int64]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[int64]struct{})
	for _, j := range s.jobs {
		if j.ShardIndex == shardIndex && j.IsActive {
			ids[j.ID] = struct{}{}
		}
	}
	return ids, nil
}

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
}

// --- Notification operations ---

func (s *MemoryStore) SaveNotification(ctx context.Context, n *Notification) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextNotificationID
	s.nextNotificationID++

	stored := *n
	stored.ID = id
	s.notifications[id] = &stored

	n.ID = id
	return id, nil
}

func (s *MemoryStore) GetNotificationByID(ctx context.Context, id int64) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (s *MemoryStore) GetNotificationsForJobs(ctx context.Context, jobIDs []int64) (map[int64][]*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		wanted[id] = struct{}{}
	}

	byJob := make(map[int64][]*Notification)
	for _, n := range s.notifications {
		if _, ok := wanted[n.JobID]; ok {
			cp := *n
			byJob[n.JobID] = append(byJob[n.JobID], &cp)
		}
	}
	for _, ns := range byJob {
		sort.Slice(ns, func(i, k int) bool {
			if ns[i].TimeSent.Equal(ns[k].TimeSent) {
				return ns[i].ID < ns[k].ID
			}
			return ns[i].TimeSent.Before(ns[k].TimeSent)
		})
	}
	return byJob, nil
}

func (s *MemoryStore) AcknowledgeNotification(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.Acknowledged {
		return false, nil
	}
	n.Acknowledged = true
	return true, nil
}
