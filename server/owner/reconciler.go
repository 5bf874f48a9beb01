package owner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/SzymonKozl/irio-alerting-platform/server/observability"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

// Reconciler periodically rebuilds the owned set from the store. On a failed
// refresh the previous set stays published, so a database hiccup never
// cancels every prober at once.
type Reconciler struct {
	store      store.Store
	set        *Set
	shardIndex int
	interval   time.Duration
	log        *zap.Logger
}

// NewReconciler creates a reconciler for this replica's shard.
func NewReconciler(st store.Store, set *Set, shardIndex int, interval time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store:      st,
		set:        set,
		shardIndex: shardIndex,
		interval:   interval,
		log:        log,
	}
}

// Refresh queries the store once and replaces the owned set. Called
// synchronously at startup so recovered probers observe a populated set on
// their first tick, then periodically from the loop.
func (r *Reconciler) Refresh(ctx context.Context) error {
	ids, err := r.store.GetActiveJobIDs(ctx, r.shardIndex)
	if err != nil {
		return err
	}
	r.set.Replace(ids)
	observability.OwnedJobs.Set(float64(len(ids)))
	return nil
}

// Start launches the refresh loop.
func (r *Reconciler) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.log.Warn("owned set refresh failed, keeping previous set",
					zap.Int("shard_index", r.shardIndex),
					zap.Error(err))
			}
		}
	}
}
