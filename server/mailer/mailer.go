// Package mailer delivers alert mails. Delivery is best-effort: callers log
// failures and continue, they never retry.
package mailer

import (
	"context"
	"fmt"

	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

// Mailer sends a single alert mail for one notification.
type Mailer interface {
	SendAlert(ctx context.Context, recipient string, job *store.Job, notificationID int64, primary bool) error
}

// AckURL builds the acknowledgement link embedded in alert mails. The
// primary_admin flag is informational; the acknowledge endpoint treats both
// values the same.
func AckURL(baseURL string, notificationID int64, primary bool) string {
	return fmt.Sprintf("%s/receive_alert?notification_id=%d&primary_admin=%t", baseURL, notificationID, primary)
}

func alertSubject(job *store.Job, primary bool) string {
	if primary {
		return fmt.Sprintf("[alert] service %s is not responding", job.URL)
	}
	return fmt.Sprintf("[alert] unacknowledged outage of service %s", job.URL)
}

func alertBody(job *store.Job, ackURL string, primary bool) string {
	if primary {
		return fmt.Sprintf(
			"The monitored service %s has not responded within its alerting window of %d ms.\n\n"+
				"Please acknowledge this alert within %d ms:\n%s\n",
			job.URL, job.WindowMS, job.ResponseTimeMS, ackURL)
	}
	return fmt.Sprintf(
		"The monitored service %s is down and the primary administrator (%s) did not "+
			"acknowledge the alert within %d ms.\n\n"+
			"You can acknowledge it here:\n%s\n",
		job.URL, job.PrimaryEmail, job.ResponseTimeMS, ackURL)
}
