// Package probe implements the per-job probing loop. Each prober issues
// overlapping HTTP GETs against its job's URL and fires a single
// "unreachable" verdict when no probe launched within the sliding alerting
// window has come back with a 2xx.
package probe

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SzymonKozl/irio-alerting-platform/server/observability"
	"github.com/SzymonKozl/irio-alerting-platform/server/owner"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

const (
	statusPending int32 = iota
	statusSuccess
	statusFailed
)

// attempt is one launched probe. The prober goroutine owns the bookkeeping;
// the probe goroutine only ever stores the final status.
type attempt struct {
	launch time.Time
	status atomic.Int32
}

// Prober runs one job's probing loop until the job leaves the owned set, the
// verdict fires, or the context is cancelled. Verdicts are delivered by
// calling onDown exactly once, right before Run returns.
type Prober struct {
	job    *store.Job
	owned  *owner.Set
	onDown func(*store.Job)
	client *http.Client
	log    *zap.Logger
}

// New creates a prober for the given job.
func New(job *store.Job, owned *owner.Set, onDown func(*store.Job), log *zap.Logger) *Prober {
	return &Prober{
		job:    job,
		owned:  owned,
		onDown: onDown,
		// No client-side timeout: a hung probe is evidence of silence and
		// must stay pending until the window closes over it.
		client: &http.Client{},
		log:    log,
	}
}

// Run executes the probing loop. Each tick: consult the owned set, launch a
// probe, evaluate the in-flight set, then sleep the remainder of the period.
func (p *Prober) Run(ctx context.Context) {
	period := p.job.Period()
	window := p.job.Window()

	// Probes still in flight when the loop exits are abandoned; cancelling
	// their context reaps the goroutines.
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var inflight []*attempt
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !p.owned.Contains(p.job.ID) {
			p.log.Info("job no longer owned, prober exiting",
				zap.Int64("job_id", p.job.ID))
			return
		}

		tickStart := time.Now()
		inflight = append(inflight, p.launch(probeCtx))
		inflight = prune(inflight)

		if len(inflight) > 0 {
			silentFor := time.Since(inflight[0].launch)
			if silentFor >= window {
				p.log.Warn("service unreachable",
					zap.Int64("job_id", p.job.ID),
					zap.String("url", p.job.URL),
					zap.Duration("silent_for", silentFor))
				p.onDown(p.job)
				return
			}
		}

		delay := period - time.Since(tickStart)
		if delay < 0 {
			p.log.Warn("probe bookkeeping exceeded period",
				zap.Int64("job_id", p.job.ID),
				zap.Duration("period", period),
				zap.Duration("overrun", -delay))
			delay = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// launch starts one probe in its own goroutine and returns its bookkeeping
// entry immediately.
func (p *Prober) launch(ctx context.Context) *attempt {
	a := &attempt{launch: time.Now()}
	observability.PingsSent.Inc()

	go func() {
		observability.HTTPConnsActive.Inc()
		defer observability.HTTPConnsActive.Dec()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.job.URL, nil)
		if err != nil {
			a.status.Store(statusFailed)
			return
		}
		resp, err := p.client.Do(req)
		if err != nil {
			a.status.Store(statusFailed)
			return
		}
		// Read to EOF before classifying: a 2xx header followed by a hung
		// body is not proof of life.
		_, copyErr := io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if copyErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			observability.SuccessfulPings.Inc()
			a.status.Store(statusSuccess)
			return
		}
		a.status.Store(statusFailed)
	}()

	return a
}

// prune removes every attempt dominated by a newer success: a 2xx launched
// at time t proves the service was alive then, so nothing launched at or
// before t can be evidence of silence. Attempts that completed without a 2xx
// stay — they prove nothing about liveness and keep counting toward the
// window until a later success covers them. The slice stays ordered by
// launch time, so the oldest surviving launch is always at the front.
func prune(inflight []*attempt) []*attempt {
	var latestOK time.Time
	ok := false
	for _, a := range inflight {
		if a.status.Load() == statusSuccess && (!ok || a.launch.After(latestOK)) {
			latestOK = a.launch
			ok = true
		}
	}
	if !ok {
		return inflight
	}

	kept := inflight[:0]
	for _, a := range inflight {
		if a.launch.After(latestOK) {
			kept = append(kept, a)
		}
	}
	return kept
}
