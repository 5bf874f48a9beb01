package store

import (
	"time"
)

// Job represents a monitored service endpoint together with its alerting
// parameters. Durations are stored in milliseconds, matching the admin API
// payloads; components convert them to time.Duration once at start.
type Job struct {
	ID             int64  `json:"job_id" db:"job_id"`
	URL            string `json:"url" db:"url"`
	PrimaryEmail   string `json:"primary_email" db:"primary_email"`
	SecondaryEmail string `json:"secondary_email" db:"secondary_email"`
	PeriodMS       int64  `json:"period" db:"period_ms"`
	WindowMS       int64  `json:"alerting_window" db:"alerting_window_ms"`
	ResponseTimeMS int64  `json:"response_time" db:"response_time_ms"`
	ShardIndex     int    `json:"shard_index" db:"shard_index"`
	IsActive       bool   `json:"is_active" db:"is_active"`
}

// Period returns the probe launch spacing.
func (j *Job) Period() time.Duration {
	return time.Duration(j.PeriodMS) * time.Millisecond
}

// Window returns the sliding alerting window.
func (j *Job) Window() time.Duration {
	return time.Duration(j.WindowMS) * time.Millisecond
}

// ResponseTime returns the acknowledgement deadline for one alert stage.
func (j *Job) ResponseTime() time.Duration {
	return time.Duration(j.ResponseTimeMS) * time.Millisecond
}

// Notification stages.
const (
	StagePrimary   = 1
	StageSecondary = 2
)

// Notification represents one emitted alert. Rows are never deleted; the
// acknowledge endpoint may flip Acknowledged exactly once.
type Notification struct {
	ID           int64     `json:"notification_id" db:"notification_id"`
	JobID        int64     `json:"job_id" db:"job_id"`
	TimeSent     time.Time `json:"time_sent" db:"time_sent"`
	Stage        int       `json:"stage" db:"stage"`
	Acknowledged bool      `json:"acknowledged" db:"acknowledged"`
}
