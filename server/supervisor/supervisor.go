// Package supervisor owns the per-job goroutines on one shard: it spawns
// probers for active jobs, hands unreachable verdicts to escalators, and
// rebuilds both sets from the database after a restart.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SzymonKozl/irio-alerting-platform/server/alert"
	"github.com/SzymonKozl/irio-alerting-platform/server/events"
	"github.com/SzymonKozl/irio-alerting-platform/server/mailer"
	"github.com/SzymonKozl/irio-alerting-platform/server/observability"
	"github.com/SzymonKozl/irio-alerting-platform/server/owner"
	"github.com/SzymonKozl/irio-alerting-platform/server/probe"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

// Supervisor tracks which jobs on this shard currently have a prober or an
// escalator running and guarantees at most one of each per job.
type Supervisor struct {
	ctx        context.Context
	st         store.Store
	mail       mailer.Mailer
	owned      *owner.Set
	hub        *events.Hub
	shardIndex int
	log        *zap.Logger

	mu         sync.Mutex
	probers    map[int64]struct{}
	escalators map[int64]struct{}
}

// New creates a supervisor. Goroutines it spawns run under ctx, not under
// the context of whichever API request triggered them.
func New(ctx context.Context, st store.Store, mail mailer.Mailer, owned *owner.Set, hub *events.Hub, shardIndex int, log *zap.Logger) *Supervisor {
	return &Supervisor{
		ctx:        ctx,
		st:         st,
		mail:       mail,
		owned:      owned,
		hub:        hub,
		shardIndex: shardIndex,
		log:        log,
		probers:    make(map[int64]struct{}),
		escalators: make(map[int64]struct{}),
	}
}

// SpawnProber starts the probing loop for the job unless one is already
// running.
func (s *Supervisor) SpawnProber(job *store.Job) {
	s.mu.Lock()
	if _, running := s.probers[job.ID]; running {
		s.mu.Unlock()
		s.log.Debug("prober already running", zap.Int64("job_id", job.ID))
		return
	}
	s.probers[job.ID] = struct{}{}
	s.mu.Unlock()

	observability.JobsActive.Inc()
	p := probe.New(job, s.owned, s.onDown, s.log)
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.probers, job.ID)
			s.mu.Unlock()
			observability.JobsActive.Dec()
		}()
		p.Run(s.ctx)
	}()
}

// SpawnEscalator starts the escalation for the job unless one is already
// running. A non-nil seed resumes a first stage persisted before a crash.
func (s *Supervisor) SpawnEscalator(job *store.Job, seed *store.Notification) {
	s.mu.Lock()
	if _, running := s.escalators[job.ID]; running {
		s.mu.Unlock()
		s.log.Debug("escalator already running", zap.Int64("job_id", job.ID))
		return
	}
	s.escalators[job.ID] = struct{}{}
	s.mu.Unlock()

	var esc *alert.Escalator
	if seed != nil {
		esc = alert.NewRecovered(job, s.st, s.mail, s.hub, seed, s.log)
	} else {
		esc = alert.New(job, s.st, s.mail, s.hub, s.log)
	}
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.escalators, job.ID)
			s.mu.Unlock()
		}()
		esc.Run(s.ctx)
	}()
}

// onDown receives a prober's unreachable verdict.
func (s *Supervisor) onDown(job *store.Job) {
	if s.hub != nil {
		s.hub.Publish(events.Event{
			Type:  events.TypeServiceUnreachable,
			JobID: job.ID,
			URL:   job.URL,
			Time:  time.Now(),
		})
	}
	s.SpawnEscalator(job, nil)
}

// Recover rebuilds the shard's goroutines from the database after a restart.
// Active jobs get probers. Inactive jobs whose notification history is all
// unacknowledged first stages are mid-escalation: the previous instance died
// between mailing the primary admin and deciding on the second stage, so the
// newest of those notifications seeds a resumed escalator. Anything else is
// settled and left alone.
func (s *Supervisor) Recover(ctx context.Context) error {
	jobs, err := s.st.GetJobsForShard(ctx, s.shardIndex)
	if err != nil {
		return fmt.Errorf("loading shard jobs: %w", err)
	}

	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	notifications, err := s.st.GetNotificationsForJobs(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading shard notifications: %w", err)
	}

	var probers, escalators int
	for _, job := range jobs {
		ns := notifications[job.ID]
		switch {
		case !job.IsActive && stalledStageOne(ns):
			// Rows are ordered by time sent, the last one is newest.
			s.SpawnEscalator(job, ns[len(ns)-1])
			escalators++
		case job.IsActive:
			s.SpawnProber(job)
			probers++
		}
	}

	s.log.Info("recovery complete",
		zap.Int("jobs", len(jobs)),
		zap.Int("probers", probers),
		zap.Int("escalators", escalators))
	return nil
}

// Counts reports how many probers and escalators are currently running.
func (s *Supervisor) Counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.probers), len(s.escalators)
}

// stalledStageOne reports whether the notification history shows an
// escalation that never got past its first stage: at least one notification,
// every one a first stage, none acknowledged.
func stalledStageOne(ns []*store.Notification) bool {
	if len(ns) == 0 {
		return false
	}
	for _, n := range ns {
		if n.Stage != store.StagePrimary || n.Acknowledged {
			return false
		}
	}
	return true
}
