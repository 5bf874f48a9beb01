package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SzymonKozl/irio-alerting-platform/server/owner"
	"github.com/SzymonKozl/irio-alerting-platform/server/store"
)

type sentMail struct {
	recipient string
	primary   bool
}

type MockMailer struct {
	mu    sync.Mutex
	sends []sentMail
}

func (m *MockMailer) SendAlert(_ context.Context, recipient string, _ *store.Job, _ int64, primary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sentMail{recipient, primary})
	return nil
}

func (m *MockMailer) snapshot() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sends...)
}

func okServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func notFoundServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func saveJob(t *testing.T, st store.Store, url string, active bool, responseTimeMS int64) *store.Job {
	t.Helper()
	job := &store.Job{
		URL:            url,
		PrimaryEmail:   "primary@example.com",
		SecondaryEmail: "secondary@example.com",
		PeriodMS:       50,
		WindowMS:       10000,
		ResponseTimeMS: responseTimeMS,
		IsActive:       active,
	}
	if _, err := st.SaveJob(context.Background(), job, 0); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}
	return job
}

func TestRecoverPartitionsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()
	m := &MockMailer{}
	target := okServer(t)

	activeJob := saveJob(t, st, target.URL, true, 60)
	stalled := saveJob(t, st, target.URL, false, 60)
	ackedRound := saveJob(t, st, target.URL, false, 60)
	finishedRound := saveJob(t, st, target.URL, false, 60)
	saveJob(t, st, target.URL, false, 60) // deleted, no notifications

	st.SaveNotification(ctx, &store.Notification{JobID: stalled.ID, TimeSent: time.Now(), Stage: store.StagePrimary})

	acked := &store.Notification{JobID: ackedRound.ID, TimeSent: time.Now(), Stage: store.StagePrimary}
	st.SaveNotification(ctx, acked)
	st.AcknowledgeNotification(ctx, acked.ID)

	st.SaveNotification(ctx, &store.Notification{JobID: finishedRound.ID, TimeSent: time.Now(), Stage: store.StagePrimary})
	st.SaveNotification(ctx, &store.Notification{JobID: finishedRound.ID, TimeSent: time.Now(), Stage: store.StageSecondary})

	owned := owner.NewSet()
	owned.Add(activeJob.ID)

	sup := New(ctx, st, m, owned, nil, 0, zap.NewNop())
	if err := sup.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	probers, escalators := sup.Counts()
	if probers != 1 || escalators != 1 {
		t.Fatalf("Expected 1 prober and 1 escalator, got %d and %d", probers, escalators)
	}

	// The resumed escalator finishes the stalled round: no repeated primary
	// mail, a second stage for the stalled job only.
	time.Sleep(150 * time.Millisecond)
	ns, _ := st.GetNotificationsForJobs(ctx, []int64{stalled.ID})
	if len(ns[stalled.ID]) != 2 || ns[stalled.ID][1].Stage != store.StageSecondary {
		t.Errorf("Expected the stalled job to reach stage two, got %v", ns[stalled.ID])
	}
	sends := m.snapshot()
	if len(sends) != 1 || sends[0].primary {
		t.Errorf("Expected exactly one secondary mail, got %v", sends)
	}
}

func TestSpawnProberDeduplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()
	target := okServer(t)
	job := saveJob(t, st, target.URL, true, 60)

	owned := owner.NewSet()
	owned.Add(job.ID)
	sup := New(ctx, st, &MockMailer{}, owned, nil, 0, zap.NewNop())

	sup.SpawnProber(job)
	sup.SpawnProber(job)

	probers, _ := sup.Counts()
	if probers != 1 {
		t.Errorf("Expected a single prober for the job, got %d", probers)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()
	target := okServer(t)
	job := saveJob(t, st, target.URL, true, 60)

	owned := owner.NewSet()
	owned.Add(job.ID)
	sup := New(ctx, st, &MockMailer{}, owned, nil, 0, zap.NewNop())

	if err := sup.Recover(ctx); err != nil {
		t.Fatalf("first Recover failed: %v", err)
	}
	if err := sup.Recover(ctx); err != nil {
		t.Fatalf("second Recover failed: %v", err)
	}

	probers, escalators := sup.Counts()
	if probers != 1 || escalators != 0 {
		t.Errorf("Expected 1 prober and 0 escalators after repeated recovery, got %d and %d", probers, escalators)
	}
}

func TestVerdictHandsJobToEscalator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.NewMemoryStore()
	m := &MockMailer{}
	target := notFoundServer(t)

	job := &store.Job{
		URL:            target.URL,
		PrimaryEmail:   "primary@example.com",
		SecondaryEmail: "secondary@example.com",
		PeriodMS:       20,
		WindowMS:       80,
		ResponseTimeMS: 200,
		IsActive:       true,
	}
	st.SaveJob(ctx, job, 0)

	owned := owner.NewSet()
	owned.Add(job.ID)
	sup := New(ctx, st, m, owned, nil, 0, zap.NewNop())
	sup.SpawnProber(job)

	// The window passes with nothing but 404s: the verdict fires, the job is
	// deactivated and the primary admin is alerted.
	deadline := time.After(500 * time.Millisecond)
	for {
		ns, _ := st.GetNotificationsForJobs(ctx, []int64{job.ID})
		if len(ns[job.ID]) == 1 && ns[job.ID][0].Stage == store.StagePrimary {
			break
		}
		select {
		case <-deadline:
			t.Fatal("verdict did not produce a first-stage notification in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The mail goes out right after the notification is durable.
	time.Sleep(30 * time.Millisecond)
	active, _ := st.GetActiveJobIDs(ctx, 0)
	if _, ok := active[job.ID]; ok {
		t.Error("Expected the job to be deactivated after the verdict")
	}
	sends := m.snapshot()
	if len(sends) != 1 || !sends[0].primary {
		t.Errorf("Expected one primary mail after the verdict, got %v", sends)
	}
}
