package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SzymonKozl/irio-alerting-platform/server/events"
	"github.com/SzymonKozl/irio-alerting-platform/server/idempotency"
	"github.com/SzymonKozl/irio-alerting-platform/server/observability"
	"github.com/SzymonKozl/irio-alerting-platform/server/owner"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
	"github.com/SzymonKozl/irio-alerting-platform/server/supervisor"
)

// errPositiveInts is part of the API contract; clients match on the exact
// text.
const errPositiveInts = "fields 'period', 'alerting_window' and 'response_time' should be positive integers"

// API serves the admin endpoints.
type API struct {
	st         store.Store
	sup        *supervisor.Supervisor
	owned      *owner.Set
	hub        *events.Hub
	idem       idempotency.Cache
	shardIndex int
	log        *zap.Logger

	// Storm protection
	addLimiter *rate.Limiter
	ackLimiter *rate.Limiter
}

func NewAPI(st store.Store, sup *supervisor.Supervisor, owned *owner.Set, hub *events.Hub, idem idempotency.Cache, shardIndex int, log *zap.Logger) *API {
	return &API{
		st:         st,
		sup:        sup,
		owned:      owned,
		hub:        hub,
		idem:       idem,
		shardIndex: shardIndex,
		log:        log,
		// Allow 50 service additions/sec, burst 100
		addLimiter: rate.NewLimiter(rate.Limit(50), 100),
		// Allow 100 acknowledgements/sec, burst 200
		ackLimiter: rate.NewLimiter(rate.Limit(100), 200),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRateLimitError writes a 429 with a jittered Retry-After.
func (a *API) writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	// Jitter: 1s base + 0-1000ms random
	retryAfterMS := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterMS/1000))
	writeError(w, http.StatusTooManyRequests, "too many requests")
}

// Wrapper for capturing responses so they can be replayed.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// withIdempotency replays the recorded response when a request repeats an
// X-Idempotency-Key, so a retried add does not register a second job.
func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Idempotency-Key")
		if key == "" {
			next(w, r)
			return
		}

		if resp, found := a.idem.Get(r.Context(), key); found {
			for k, vals := range resp.Headers {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idem.Set(r.Context(), key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}

// Pointer fields distinguish a key that is absent from one that is zero.
type addServiceRequest struct {
	URL            *string `json:"url"`
	PrimaryEmail   *string `json:"primary_email"`
	SecondaryEmail *string `json:"secondary_email"`
	Period         *int64  `json:"period"`
	AlertingWindow *int64  `json:"alerting_window"`
	ResponseTime   *int64  `json:"response_time"`
}

func (a *API) handleAddService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.addLimiter.Allow() {
		a.writeRateLimitError(w, "add_service")
		return
	}

	var req addServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.log.Error("malformed add_service body", zap.Error(err))
		writeError(w, http.StatusBadRequest, errPositiveInts)
		return
	}
	for key, val := range map[string]*string{
		"url":             req.URL,
		"primary_email":   req.PrimaryEmail,
		"secondary_email": req.SecondaryEmail,
	} {
		if val == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing key: '%s'", key))
			return
		}
	}
	if req.Period == nil || req.AlertingWindow == nil || req.ResponseTime == nil ||
		*req.Period <= 0 || *req.AlertingWindow <= 0 || *req.ResponseTime <= 0 {
		writeError(w, http.StatusBadRequest, errPositiveInts)
		return
	}

	job := &store.Job{
		URL:            *req.URL,
		PrimaryEmail:   *req.PrimaryEmail,
		SecondaryEmail: *req.SecondaryEmail,
		PeriodMS:       *req.Period,
		WindowMS:       *req.AlertingWindow,
		ResponseTimeMS: *req.ResponseTime,
		IsActive:       true,
	}
	id, err := a.st.SaveJob(r.Context(), job, a.shardIndex)
	if err != nil {
		a.log.Error("saving job failed", zap.Error(err))
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	}

	// Write through to the owned set so the new prober survives its first
	// tick; the reconciler confirms ownership within a second.
	a.owned.Add(id)
	a.sup.SpawnProber(job)

	a.publish(events.Event{Type: events.TypeServiceAdded, JobID: id, URL: job.URL, Time: time.Now()})
	a.log.Info("service added",
		zap.Int64("job_id", id),
		zap.String("url", job.URL),
		zap.Int64("period_ms", job.PeriodMS))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": id})
}

func (a *API) handleReceiveAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.ackLimiter.Allow() {
		a.writeRateLimitError(w, "receive_alert")
		return
	}

	raw := r.URL.Query().Get("notification_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing key: 'notification_id'")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'notification_id' should be an integer")
		return
	}
	// primary_admin is informational; either admin settles the same row.

	acked, err := a.st.AcknowledgeNotification(r.Context(), id)
	if err != nil {
		a.log.Error("acknowledging notification failed",
			zap.Int64("notification_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !acked {
		writeError(w, http.StatusBadRequest, "unknown or already acknowledged notification")
		return
	}

	a.publish(events.Event{Type: events.TypeAlertAcknowledged, NotificationID: id, Time: time.Now()})
	a.log.Info("alert acknowledged", zap.Int64("notification_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleAlertingJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	email := r.URL.Query().Get("primary_email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "missing key: 'primary_email'")
		return
	}

	jobs, err := a.st.GetJobsByPrimaryEmail(r.Context(), email)
	if err != nil {
		a.log.Error("listing jobs failed", zap.String("primary_email", email), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *API) handleDelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := r.URL.Query().Get("job_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing key: 'job_id'")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'job_id' should be an integer")
		return
	}

	// The prober notices within one refresh interval plus one period, once
	// the reconciler drops the id from the owned set.
	if err := a.st.SetJobInactive(r.Context(), id); err != nil {
		a.log.Error("deleting job failed", zap.Int64("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.publish(events.Event{Type: events.TypeServiceDeleted, JobID: id, Time: time.Now()})
	a.log.Info("job deleted", zap.Int64("job_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) publish(ev events.Event) {
	if a.hub != nil {
		a.hub.Publish(ev)
	}
}
