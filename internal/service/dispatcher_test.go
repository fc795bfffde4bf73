package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventdelivery/internal/entity"
	"eventdelivery/pkg/metric"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
	"github.com/wb-go/wbf/logger"
)

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZapAdapter("test", "local")
	if err != nil {
		t.Fatalf("logger init: %v", err)
	}
	return log
}

func testMetrics() *metric.Delivery {
	return metric.NewDelivery(prometheus.NewRegistry())
}

type fakeTxManager struct{}

func (fakeTxManager) ExecuteInTransaction(_ context.Context, _ string, fn func(pgxdriver.QueryExecuter) error) error {
	return fn(nil)
}

type fakeSubRepo struct {
	mu          sync.Mutex
	deliverable []entity.WebhookSubscription
	byID        map[uuid.UUID]*entity.WebhookSubscription
	created     []entity.WebhookSubscription
	deleted     []uuid.UUID
}

func (f *fakeSubRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, sub entity.WebhookSubscription) (*entity.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = uuid.New()
	f.created = append(f.created, sub)
	return &sub, nil
}

func (f *fakeSubRepo) GetByID(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID) (*entity.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.byID[id]
	if !ok {
		return nil, entity.ErrDataNotFound
	}
	return sub, nil
}

func (f *fakeSubRepo) ListDeliverable(_ context.Context, _ pgxdriver.QueryExecuter, _ uuid.UUID, eventType string) ([]entity.WebhookSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []entity.WebhookSubscription
	for _, sub := range f.deliverable {
		if sub.Deliverable() && sub.SubscribedTo(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

func (f *fakeSubRepo) Update(_ context.Context, _ pgxdriver.QueryExecuter, _ uuid.UUID, _ entity.SubscriptionPatch) error {
	return nil
}

func (f *fakeSubRepo) SoftDelete(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type markedFailure struct {
	id         uuid.UUID
	statusCode int
	lastErr    string
	terminal   bool
}

type markedSuccess struct {
	id         uuid.UUID
	statusCode int
	body       string
}

type fakeDeliveryRepo struct {
	mu        sync.Mutex
	due       []entity.DueDelivery
	created   []entity.DeliveryAttempt
	succeeded []markedSuccess
	failed    []markedFailure
	terminal  []uuid.UUID
	exhausted int64
}

func (f *fakeDeliveryRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, attempt entity.DeliveryAttempt) (*entity.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt.ID = uuid.New()
	f.created = append(f.created, attempt)
	return &attempt, nil
}

func (f *fakeDeliveryRepo) GetDue(_ context.Context, _ pgxdriver.QueryExecuter, _ uint64, _ int) ([]entity.DueDelivery, error) {
	return f.due, nil
}

func (f *fakeDeliveryRepo) MarkSuccess(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID, statusCode int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, markedSuccess{id: id, statusCode: statusCode, body: body})
	return nil
}

func (f *fakeDeliveryRepo) MarkFailedAttempt(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID, statusCode int, lastErr string, terminal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, markedFailure{id: id, statusCode: statusCode, lastErr: lastErr, terminal: terminal})
	return nil
}

func (f *fakeDeliveryRepo) FailTerminal(_ context.Context, _ pgxdriver.QueryExecuter, id uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = append(f.terminal, id)
	return nil
}

func (f *fakeDeliveryRepo) FailExhausted(_ context.Context, _ pgxdriver.QueryExecuter, _ int) (int64, error) {
	return f.exhausted, nil
}

type fakeSender struct {
	mu     sync.Mutex
	result entity.WebhookResult
	calls  []entity.DeliveryAttempt
}

func (f *fakeSender) Deliver(_ context.Context, _ entity.WebhookSubscription, attempt entity.DeliveryAttempt) entity.WebhookResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, attempt)
	return f.result
}

func activeSubscription(events ...string) entity.WebhookSubscription {
	return entity.WebhookSubscription{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		URL:            "https://hooks.example.com/endpoint",
		Secret:         "s3cr3t",
		Events:         events,
		Active:         true,
	}
}

func TestQueueWebhook_FanOut(t *testing.T) {
	subs := &fakeSubRepo{deliverable: []entity.WebhookSubscription{
		activeSubscription("employee.created"),
		activeSubscription("employee.created"),
	}}
	deliveries := &fakeDeliveryRepo{}
	d := NewDispatcher(subs, deliveries, fakeTxManager{}, &fakeSender{}, testMetrics(), testLogger(t))

	queued, err := d.QueueWebhook(context.Background(), uuid.New(), "employee.created", []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("QueueWebhook: %v", err)
	}
	if queued != 2 {
		t.Fatalf("queued: got %d, want 2", queued)
	}
	if len(deliveries.created) != 2 {
		t.Fatalf("created rows: got %d, want 2", len(deliveries.created))
	}
	for _, row := range deliveries.created {
		if row.Status != entity.DeliveryPending {
			t.Fatalf("new row status: %v", row.Status)
		}
		if row.EventType != "employee.created" {
			t.Fatalf("event type: %v", row.EventType)
		}
	}
}

func TestQueueWebhook_EventTypeFilter(t *testing.T) {
	created := activeSubscription("employee.created")
	expired := activeSubscription("training.expired")
	subs := &fakeSubRepo{deliverable: []entity.WebhookSubscription{created, expired}}
	deliveries := &fakeDeliveryRepo{}
	d := NewDispatcher(subs, deliveries, fakeTxManager{}, &fakeSender{}, testMetrics(), testLogger(t))

	queued, err := d.QueueWebhook(context.Background(), uuid.New(), "employee.created", []byte(`{"id":1}`))
	if err != nil {
		t.Fatalf("QueueWebhook: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued: got %d, want 1", queued)
	}
	if len(deliveries.created) != 1 {
		t.Fatalf("created rows: got %d, want 1", len(deliveries.created))
	}
	if deliveries.created[0].SubscriptionID != created.ID {
		t.Fatalf("row targets subscription %v, want %v", deliveries.created[0].SubscriptionID, created.ID)
	}
}

func TestQueueWebhook_NoMatch(t *testing.T) {
	deliveries := &fakeDeliveryRepo{}
	d := NewDispatcher(&fakeSubRepo{}, deliveries, fakeTxManager{}, &fakeSender{}, testMetrics(), testLogger(t))

	queued, err := d.QueueWebhook(context.Background(), uuid.New(), "noop.event", []byte(`{}`))
	if err != nil {
		t.Fatalf("QueueWebhook: %v", err)
	}
	if queued != 0 || len(deliveries.created) != 0 {
		t.Fatalf("expected a no-op, got queued=%d created=%d", queued, len(deliveries.created))
	}
}

func TestProcessQueue_Success(t *testing.T) {
	sub := activeSubscription("training.expired")
	deliveries := &fakeDeliveryRepo{due: []entity.DueDelivery{{
		Attempt:      entity.DeliveryAttempt{ID: uuid.New(), SubscriptionID: sub.ID, Status: entity.DeliveryPending},
		Subscription: sub,
	}}}
	sender := &fakeSender{result: entity.WebhookResult{StatusCode: 200, Body: "ok"}}
	d := NewDispatcher(&fakeSubRepo{}, deliveries, fakeTxManager{}, sender, testMetrics(), testLogger(t))

	stats, err := d.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if stats.Processed != 1 || stats.Succeeded != 1 || stats.Failed != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	if len(deliveries.succeeded) != 1 {
		t.Fatalf("success marks: got %d, want 1", len(deliveries.succeeded))
	}
	if mark := deliveries.succeeded[0]; mark.statusCode != 200 || mark.body != "ok" {
		t.Fatalf("success mark: %+v", mark)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("sender calls: got %d, want 1", len(sender.calls))
	}
}

func TestProcessQueue_RetryThenDeadLetter(t *testing.T) {
	sub := activeSubscription("training.expired")
	fresh := entity.DueDelivery{
		Attempt:      entity.DeliveryAttempt{ID: uuid.New(), SubscriptionID: sub.ID, Status: entity.DeliveryPending},
		Subscription: sub,
	}
	lastChance := entity.DueDelivery{
		Attempt:      entity.DeliveryAttempt{ID: uuid.New(), SubscriptionID: sub.ID, Status: entity.DeliveryPending, AttemptCount: 2},
		Subscription: sub,
	}
	deliveries := &fakeDeliveryRepo{due: []entity.DueDelivery{fresh, lastChance}}
	sender := &fakeSender{result: entity.WebhookResult{StatusCode: 503, Body: "unavailable"}}
	d := NewDispatcher(&fakeSubRepo{}, deliveries, fakeTxManager{}, sender, testMetrics(), testLogger(t),
		WithMaxRetries(3),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
	)

	stats, err := d.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if stats.Processed != 2 || stats.Failed != 2 {
		t.Fatalf("stats: %+v", stats)
	}
	if len(deliveries.failed) != 2 {
		t.Fatalf("failed marks: got %d, want 2", len(deliveries.failed))
	}

	marks := map[uuid.UUID]markedFailure{}
	for _, m := range deliveries.failed {
		marks[m.id] = m
	}
	if marks[fresh.Attempt.ID].terminal {
		t.Fatal("first failure should stay retryable")
	}
	if !marks[lastChance.Attempt.ID].terminal {
		t.Fatal("final attempt should dead-letter")
	}
	if marks[lastChance.Attempt.ID].statusCode != 503 {
		t.Fatalf("status code: %d", marks[lastChance.Attempt.ID].statusCode)
	}
}

func TestProcessQueue_InactiveSubscription(t *testing.T) {
	sub := activeSubscription("training.expired")
	sub.Active = false
	deliveries := &fakeDeliveryRepo{due: []entity.DueDelivery{{
		Attempt:      entity.DeliveryAttempt{ID: uuid.New(), SubscriptionID: sub.ID, Status: entity.DeliveryPending},
		Subscription: sub,
	}}}
	sender := &fakeSender{result: entity.WebhookResult{StatusCode: 200}}
	d := NewDispatcher(&fakeSubRepo{}, deliveries, fakeTxManager{}, sender, testMetrics(), testLogger(t))

	stats, err := d.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if len(sender.calls) != 0 {
		t.Fatal("dead subscription must not hit the network")
	}
	if len(deliveries.terminal) != 1 {
		t.Fatalf("terminal marks: got %d, want 1", len(deliveries.terminal))
	}
}

func TestProcessQueue_TransportError(t *testing.T) {
	sub := activeSubscription("training.expired")
	deliveries := &fakeDeliveryRepo{due: []entity.DueDelivery{{
		Attempt:      entity.DeliveryAttempt{ID: uuid.New(), SubscriptionID: sub.ID, Status: entity.DeliveryPending},
		Subscription: sub,
	}}}
	sender := &fakeSender{result: entity.WebhookResult{Err: errors.New("dial tcp: connection refused")}}
	d := NewDispatcher(&fakeSubRepo{}, deliveries, fakeTxManager{}, sender, testMetrics(), testLogger(t))

	stats, err := d.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if len(deliveries.failed) != 1 || deliveries.failed[0].lastErr == "" {
		t.Fatalf("failure record: %+v", deliveries.failed)
	}
}

func TestSweepDeadLetters(t *testing.T) {
	deliveries := &fakeDeliveryRepo{exhausted: 4}
	d := NewDispatcher(&fakeSubRepo{}, deliveries, fakeTxManager{}, &fakeSender{}, testMetrics(), testLogger(t))

	swept, err := d.SweepDeadLetters(context.Background())
	if err != nil {
		t.Fatalf("SweepDeadLetters: %v", err)
	}
	if swept != 4 {
		t.Fatalf("swept: got %d, want 4", swept)
	}
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	d := NewDispatcher(&fakeSubRepo{}, &fakeDeliveryRepo{}, fakeTxManager{}, &fakeSender{}, testMetrics(), testLogger(t),
		WithBackoff(time.Second, 8*time.Second),
	)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := d.backoff(tc.attempts); got != tc.want {
			t.Fatalf("backoff(%d): got %v, want %v", tc.attempts, got, tc.want)
		}
	}
}
