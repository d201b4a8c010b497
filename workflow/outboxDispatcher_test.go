package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

// fakeOutbox mimics LedgerOutboxStore's state machine without a database.
type fakeOutbox struct {
	mu      sync.Mutex
	records map[int]*models.LedgerOutboxRecord
}

func newFakeOutbox(records ...*models.LedgerOutboxRecord) *fakeOutbox {
	f := &fakeOutbox{records: map[int]*models.LedgerOutboxRecord{}}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeOutbox) ClaimBatch(_ context.Context, workerId string, now time.Time, staleBefore time.Time, limit int) ([]*models.LedgerOutboxRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.LedgerOutboxRecord
	for id := 1; id <= len(f.records) && len(out) < limit; id++ {
		r, ok := f.records[id]
		if !ok {
			continue
		}
		due := (r.Status == models.LedgerOutboxStatusPending || r.Status == models.LedgerOutboxStatusFailed) &&
			(r.NextAttemptAt == nil || !r.NextAttemptAt.After(now))
		stale := r.Status == models.LedgerOutboxStatusInFlight && r.LockedAt != nil && r.LockedAt.Before(staleBefore)
		if !due && !stale {
			continue
		}
		r.Status = models.LedgerOutboxStatusInFlight
		at := now
		r.LockedAt = &at
		w := workerId
		r.LockedBy = &w
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeOutbox) MarkAcknowledged(_ context.Context, id int, workerId string, remoteId string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.records[id]
	if r.Status != models.LedgerOutboxStatusInFlight || r.LockedBy == nil || *r.LockedBy != workerId {
		return nil
	}
	r.Status = models.LedgerOutboxStatusAcknowledged
	r.RemoteId = &remoteId
	r.AcknowledgedAt = &at
	r.LockedAt, r.LockedBy = nil, nil
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, id int, workerId string, attempts int, nextAttemptAt time.Time, dead bool, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.records[id]
	if r.Status != models.LedgerOutboxStatusInFlight || r.LockedBy == nil || *r.LockedBy != workerId {
		return nil
	}
	r.Status = models.LedgerOutboxStatusFailed
	if dead {
		r.Status = models.LedgerOutboxStatusDead
	}
	r.Attempts = attempts
	r.NextAttemptAt = &nextAttemptAt
	r.LastError = &lastErr
	r.LockedAt, r.LockedBy = nil, nil
	return nil
}

func (f *fakeOutbox) get(id int) models.LedgerOutboxRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[id]
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []config.LedgerSyncMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg config.LedgerSyncMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, msg)
	return "remote-" + msg.EventUid, nil
}

func outboxRecord(t *testing.T, id int, uid string) *models.LedgerOutboxRecord {
	t.Helper()
	rec, err := models.NewLedgerOutboxRecord(&models.LedgerEvent{
		EventUid:   uid,
		BusinessId: "biz-1",
		RegisterId: 3,
		OperatorId: "A",
		Kind:       models.LedgerEventKindDeposit,
		Amount:     decimal.NewFromInt(25),
		OccurredAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewLedgerOutboxRecord: %v", err)
	}
	rec.ID = id
	rec.NextAttemptAt = nil
	return rec
}

func newTestDispatcher(repo OutboxRepository, pub Publisher, clock *time.Time) *OutboxDispatcher {
	return &OutboxDispatcher{
		Repo:           repo,
		Publisher:      pub,
		DispatcherID:   "worker-1",
		Now:            func() time.Time { return *clock },
		BatchSize:      10,
		PollInterval:   time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
	}
}

func TestOutboxDispatcher_AcknowledgesPublishedRecords(t *testing.T) {
	repo := newFakeOutbox(outboxRecord(t, 1, "ev-1"), outboxRecord(t, 2, "ev-2"))
	pub := &fakePublisher{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDispatcher(repo, pub, &now)
	d.Metrics = NewOutboxMetrics(prometheus.NewRegistry())

	acked, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if acked != 2 || len(pub.sent) != 2 {
		t.Fatalf("acked=%d sent=%d, want 2/2", acked, len(pub.sent))
	}
	rec := repo.get(1)
	if rec.Status != models.LedgerOutboxStatusAcknowledged || rec.RemoteId == nil || *rec.RemoteId != "remote-ev-1" {
		t.Fatalf("record 1 = %+v", rec)
	}
	if got := testutil.ToFloat64(d.Metrics.publishes.WithLabelValues("acknowledged")); got != 2 {
		t.Fatalf("acknowledged counter = %v", got)
	}

	var ev models.LedgerEvent
	if err := json.Unmarshal(pub.sent[0].Event, &ev); err != nil {
		t.Fatalf("payload is not a ledger event: %v", err)
	}
	if ev.EventUid != "ev-1" || !ev.Amount.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("payload = %+v", ev)
	}

	acked, _ = d.DispatchOnce(context.Background())
	if acked != 0 || len(pub.sent) != 2 {
		t.Fatalf("acknowledged records must not be published again")
	}
}

func TestOutboxDispatcher_BacksOffThenGoesDead(t *testing.T) {
	repo := newFakeOutbox(outboxRecord(t, 1, "ev-1"))
	pub := &fakePublisher{err: errors.New("topic unavailable")}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDispatcher(repo, pub, &now)

	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	rec := repo.get(1)
	if rec.Status != models.LedgerOutboxStatusFailed || rec.Attempts != 1 {
		t.Fatalf("after first failure: status=%s attempts=%d", rec.Status, rec.Attempts)
	}
	if want := now.Add(5 * time.Second); !rec.NextAttemptAt.Equal(want) {
		t.Fatalf("next attempt = %s, want %s", rec.NextAttemptAt, want)
	}

	// Not due yet.
	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if repo.get(1).Attempts != 1 {
		t.Fatalf("record retried before its backoff elapsed")
	}

	now = now.Add(5 * time.Second)
	d.DispatchOnce(context.Background())
	rec = repo.get(1)
	if rec.Attempts != 2 || !rec.NextAttemptAt.Equal(now.Add(10*time.Second)) {
		t.Fatalf("after second failure: attempts=%d next=%s", rec.Attempts, rec.NextAttemptAt)
	}

	now = now.Add(10 * time.Second)
	d.DispatchOnce(context.Background())
	rec = repo.get(1)
	if rec.Status != models.LedgerOutboxStatusDead || rec.Attempts != 3 {
		t.Fatalf("after max attempts: status=%s attempts=%d", rec.Status, rec.Attempts)
	}
	if rec.LastError == nil || *rec.LastError != "topic unavailable" {
		t.Fatalf("last error = %v", rec.LastError)
	}

	pub.err = nil
	now = now.Add(time.Hour)
	d.DispatchOnce(context.Background())
	if repo.get(1).Status != models.LedgerOutboxStatusDead || len(pub.sent) != 0 {
		t.Fatalf("DEAD records stay parked until requeued")
	}
}

func TestOutboxDispatcher_ReclaimsStaleInFlightRows(t *testing.T) {
	rec := outboxRecord(t, 1, "ev-1")
	rec.Status = models.LedgerOutboxStatusInFlight
	crashedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec.LockedAt = &crashedAt
	other := "crashed-worker"
	rec.LockedBy = &other
	repo := newFakeOutbox(rec)
	pub := &fakePublisher{}

	now := crashedAt.Add(10 * time.Second)
	d := newTestDispatcher(repo, pub, &now)
	d.DispatchOnce(context.Background())
	if len(pub.sent) != 0 {
		t.Fatalf("row locked by a live worker must not be reclaimed")
	}

	now = crashedAt.Add(31 * time.Second)
	d.DispatchOnce(context.Background())
	if len(pub.sent) != 1 || repo.get(1).Status != models.LedgerOutboxStatusAcknowledged {
		t.Fatalf("stale row not reclaimed: sent=%d status=%s", len(pub.sent), repo.get(1).Status)
	}
}

func TestOutboxDispatcher_RunStopsOnCancel(t *testing.T) {
	repo := newFakeOutbox(outboxRecord(t, 1, "ev-1"))
	pub := &fakePublisher{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := newTestDispatcher(repo, pub, &now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	deadline := time.After(2 * time.Second)
	for repo.get(1).Status != models.LedgerOutboxStatusAcknowledged {
		select {
		case <-deadline:
			t.Fatalf("Run never dispatched the record")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestOutboxBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{4, 40 * time.Second},
		{10, 10 * time.Minute},
		{200, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := OutboxBackoff(tt.attempt, 5*time.Second, 10*time.Minute); got != tt.want {
			t.Errorf("OutboxBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
