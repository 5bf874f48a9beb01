// Package alert escalates an unreachable-service verdict through two
// notification stages: mail the primary admin, wait out their response
// window, then mail the secondary admin unless the alert was acknowledged.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SzymonKozl/irio-alerting-platform/server/events"
	"github.com/SzymonKozl/irio-alerting-platform/server/mailer"
	"github.com/SzymonKozl/irio-alerting-platform/server/observability"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

// Escalator drives the escalation for one down job. Store failures abandon
// the escalation; mail failures do not, recipients can still follow the ack
// link from another channel or the dashboard.
type Escalator struct {
	job  *store.Job
	st   store.Store
	mail mailer.Mailer
	hub  *events.Hub
	seed *store.Notification
	log  *zap.Logger
}

// New creates an escalator for a freshly detected down job.
func New(job *store.Job, st store.Store, mail mailer.Mailer, hub *events.Hub, log *zap.Logger) *Escalator {
	return &Escalator{job: job, st: st, mail: mail, hub: hub, log: log}
}

// NewRecovered creates an escalator resuming after a crash, seeded with the
// already-persisted first-stage notification. The first-stage mail is not
// repeated; the wait picks up where the dead instance left off.
func NewRecovered(job *store.Job, st store.Store, mail mailer.Mailer, hub *events.Hub, seed *store.Notification, log *zap.Logger) *Escalator {
	return &Escalator{job: job, st: st, mail: mail, hub: hub, seed: seed, log: log}
}

// Run executes the escalation until it completes or the context ends.
func (e *Escalator) Run(ctx context.Context) {
	responseTime := e.job.ResponseTime()

	var first *store.Notification
	if e.seed != nil {
		first = e.seed
		remaining := responseTime - time.Since(first.TimeSent)
		if remaining < 0 {
			remaining = 0
		}
		e.log.Info("resuming escalation",
			zap.Int64("job_id", e.job.ID),
			zap.Int64("notification_id", first.ID),
			zap.Duration("remaining", remaining))
		if !e.sleep(ctx, remaining) {
			return
		}
	} else {
		n := &store.Notification{
			JobID:    e.job.ID,
			TimeSent: time.Now(),
			Stage:    store.StagePrimary,
		}
		if _, err := e.st.SaveNotification(ctx, n); err != nil {
			e.log.Error("persisting first-stage alert failed, abandoning escalation",
				zap.Int64("job_id", e.job.ID), zap.Error(err))
			return
		}
		first = n

		// Deactivate only after the notification is durable. A crash between
		// the two writes leaves the job active, and recovery restarts probing
		// instead of stranding it.
		if err := e.st.SetJobInactive(ctx, e.job.ID); err != nil {
			e.log.Error("deactivating down job failed, abandoning escalation",
				zap.Int64("job_id", e.job.ID), zap.Error(err))
			return
		}

		observability.NotificationsSent.WithLabelValues("primary").Inc()
		e.publish(events.Event{
			Type:           events.TypeAlertSent,
			JobID:          e.job.ID,
			NotificationID: n.ID,
			Stage:          store.StagePrimary,
			URL:            e.job.URL,
			Time:           time.Now(),
		})
		e.sendMail(ctx, e.job.PrimaryEmail, n.ID, true)

		if !e.sleep(ctx, responseTime) {
			return
		}
	}

	fresh, err := e.st.GetNotificationByID(ctx, first.ID)
	if err != nil {
		e.log.Error("re-reading alert acknowledgement failed, abandoning escalation",
			zap.Int64("job_id", e.job.ID),
			zap.Int64("notification_id", first.ID), zap.Error(err))
		return
	}
	if fresh != nil && fresh.Acknowledged {
		e.log.Info("alert acknowledged in time, escalation stops",
			zap.Int64("job_id", e.job.ID),
			zap.Int64("notification_id", first.ID))
		return
	}

	second := &store.Notification{
		JobID:    e.job.ID,
		TimeSent: time.Now(),
		Stage:    store.StageSecondary,
	}
	if _, err := e.st.SaveNotification(ctx, second); err != nil {
		e.log.Error("persisting second-stage alert failed, abandoning escalation",
			zap.Int64("job_id", e.job.ID), zap.Error(err))
		return
	}

	observability.NotificationsSent.WithLabelValues("secondary").Inc()
	e.publish(events.Event{
		Type:           events.TypeAlertSent,
		JobID:          e.job.ID,
		NotificationID: second.ID,
		Stage:          store.StageSecondary,
		URL:            e.job.URL,
		Time:           time.Now(),
	})
	e.sendMail(ctx, e.job.SecondaryEmail, second.ID, false)

	// The secondary admin gets the same response window before the
	// escalation winds down.
	e.sleep(ctx, responseTime)
}

func (e *Escalator) sendMail(ctx context.Context, recipient string, notificationID int64, primary bool) {
	if err := e.mail.SendAlert(ctx, recipient, e.job, notificationID, primary); err != nil {
		observability.MailFailures.Inc()
		e.log.Warn("alert mail delivery failed",
			zap.Int64("job_id", e.job.ID),
			zap.Int64("notification_id", notificationID),
			zap.String("recipient", recipient),
			zap.Error(err))
	}
}

func (e *Escalator) publish(ev events.Event) {
	if e.hub != nil {
		e.hub.Publish(ev)
	}
}

// sleep waits d unless the context ends first; reports whether the full
// wait elapsed.
func (e *Escalator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
