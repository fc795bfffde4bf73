package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"eventdelivery/internal/entity"

	"github.com/google/uuid"
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

type fakePrefRepo struct {
	mu      sync.Mutex
	byUser  map[uuid.UUID]*entity.UserNotificationPreferences
	upserts int
}

func (f *fakePrefRepo) Get(_ context.Context, _ pgxdriver.QueryExecuter, userID uuid.UUID) (*entity.UserNotificationPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefs, ok := f.byUser[userID]
	if !ok {
		return nil, entity.ErrDataNotFound
	}
	return prefs, nil
}

func (f *fakePrefRepo) Upsert(_ context.Context, _ pgxdriver.QueryExecuter, prefs *entity.UserNotificationPreferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byUser == nil {
		f.byUser = make(map[uuid.UUID]*entity.UserNotificationPreferences)
	}
	f.byUser[prefs.UserID] = prefs
	f.upserts++
	return nil
}

type fakeLogRepo struct {
	mu   sync.Mutex
	rows []entity.NotificationDelivery
}

func (f *fakeLogRepo) Create(_ context.Context, _ pgxdriver.QueryExecuter, row entity.NotificationDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

type sentMessage struct {
	contact string
	payload entity.NotificationPayload
}

type fakeAdapter struct {
	mu     sync.Mutex
	result entity.ChannelResult
	sent   []sentMessage
}

func (f *fakeAdapter) Send(_ context.Context, contact string, n entity.NotificationPayload) entity.ChannelResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{contact: contact, payload: n})
	return f.result
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func daytimePrefs(userID uuid.UUID) *entity.UserNotificationPreferences {
	return &entity.UserNotificationPreferences{
		UserID:  userID,
		Enabled: true,
		Channels: map[entity.Channel]entity.ChannelSetting{
			entity.ChannelEmail: {Enabled: true, Address: "user@example.com"},
			entity.ChannelPush:  {Enabled: true},
		},
		Quiet:  entity.QuietHours{Enabled: false},
		Digest: entity.DigestSettings{Enabled: false, Frequency: entity.DigestDaily, TimeOfDay: "09:00"},
	}
}

func warningPayload(userID uuid.UUID) entity.NotificationPayload {
	return entity.NotificationPayload{
		OrganizationID: uuid.New(),
		UserID:         userID,
		Type:           "training.expired",
		Priority:       entity.PriorityWarning,
		Category:       "compliance",
		Message:        "Forklift certification expires in 14 days",
	}
}

type orchestratorFixture struct {
	orch  *Orchestrator
	prefs *fakePrefRepo
	logs  *fakeLogRepo
	email *fakeAdapter
	push  *fakeAdapter
	clock *fakeClock
}

func newOrchestratorFixture(t *testing.T, userID uuid.UUID, prefs *entity.UserNotificationPreferences) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		prefs: &fakePrefRepo{byUser: map[uuid.UUID]*entity.UserNotificationPreferences{}},
		logs:  &fakeLogRepo{},
		email: &fakeAdapter{result: entity.ChannelResult{Success: true, MessageID: "smtp-1"}},
		push:  &fakeAdapter{result: entity.ChannelResult{Success: true, MessageID: "ws-1"}},
		clock: &fakeClock{t: time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)},
	}
	if prefs != nil {
		f.prefs.byUser[userID] = prefs
	}

	f.orch = NewOrchestrator(
		f.prefs,
		f.logs,
		NewMemoryDedupStore(time.Hour),
		map[entity.Channel]ChannelAdapter{
			entity.ChannelEmail: f.email,
			entity.ChannelPush:  f.push,
		},
		testMetrics(),
		testLogger(t),
		WithClock(f.clock.Now),
	)
	return f
}

func TestSendNotification_DeliversAndLogs(t *testing.T) {
	userID := uuid.New()
	f := newOrchestratorFixture(t, userID, daytimePrefs(userID))

	result, err := f.orch.SendNotification(context.Background(), warningPayload(userID))
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success {
		t.Fatalf("result: %+v", result)
	}
	if len(result.ChannelsUsed) != 1 || result.ChannelsUsed[0] != entity.ChannelEmail {
		t.Fatalf("channels used: %v", result.ChannelsUsed)
	}
	if len(f.email.sent) != 1 || f.email.sent[0].contact != "user@example.com" {
		t.Fatalf("email sends: %+v", f.email.sent)
	}
	if len(f.logs.rows) != 1 || !f.logs.rows[0].Success {
		t.Fatalf("log rows: %+v", f.logs.rows)
	}
}

func TestSendNotification_Deduplication(t *testing.T) {
	userID := uuid.New()
	f := newOrchestratorFixture(t, userID, daytimePrefs(userID))
	payload := warningPayload(userID)

	first, err := f.orch.SendNotification(context.Background(), payload)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	// Different wording, same semantic identity.
	payload.Message = "Reminder: forklift certification expires soon"
	second, err := f.orch.SendNotification(context.Background(), payload)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	if !second.DeduplicationApplied {
		t.Fatal("second send should be suppressed")
	}
	if second.NotificationID != first.NotificationID {
		t.Fatal("suppressed send should report the original notification id")
	}
	if len(f.email.sent) != 1 {
		t.Fatalf("email sends: got %d, want 1", len(f.email.sent))
	}
}

func TestSendNotification_OptOut(t *testing.T) {
	userID := uuid.New()
	prefs := daytimePrefs(userID)
	prefs.Enabled = false
	f := newOrchestratorFixture(t, userID, prefs)

	result, err := f.orch.SendNotification(context.Background(), warningPayload(userID))
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success || len(result.ChannelsUsed) != 0 {
		t.Fatalf("result: %+v", result)
	}
	if len(f.email.sent)+len(f.push.sent) != 0 {
		t.Fatal("opted-out user received a send")
	}
}

func TestSendNotification_DefaultsOnFirstContact(t *testing.T) {
	userID := uuid.New()
	f := newOrchestratorFixture(t, userID, nil)

	result, err := f.orch.SendNotification(context.Background(), warningPayload(userID))
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success {
		t.Fatalf("result: %+v", result)
	}
	if f.prefs.upserts != 1 {
		t.Fatalf("default preferences upserts: got %d, want 1", f.prefs.upserts)
	}
}

func TestSendNotification_InvalidPayload(t *testing.T) {
	userID := uuid.New()
	f := newOrchestratorFixture(t, userID, daytimePrefs(userID))

	payload := warningPayload(userID)
	payload.Message = ""
	if _, err := f.orch.SendNotification(context.Background(), payload); !errors.Is(err, entity.ErrInvalidData) {
		t.Fatalf("empty message: got %v, want ErrInvalidData", err)
	}

	payload = warningPayload(userID)
	payload.Priority = "catastrophic"
	if _, err := f.orch.SendNotification(context.Background(), payload); !errors.Is(err, entity.ErrInvalidData) {
		t.Fatalf("bad priority: got %v, want ErrInvalidData", err)
	}
}

func TestSendNotification_ChannelFallback(t *testing.T) {
	userID := uuid.New()
	f := newOrchestratorFixture(t, userID, daytimePrefs(userID))
	f.email.result = entity.ChannelResult{Success: false, Error: "smtp: connection refused"}

	payload := warningPayload(userID)
	payload.Priority = entity.PriorityCritical

	result, err := f.orch.SendNotification(context.Background(), payload)
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success {
		t.Fatal("one delivered channel should make the send a success")
	}
	if len(result.ChannelsUsed) != 1 || result.ChannelsUsed[0] != entity.ChannelPush {
		t.Fatalf("channels used: %v", result.ChannelsUsed)
	}
	if len(result.Failures) != 1 || result.Failures[0].Channel != entity.ChannelEmail {
		t.Fatalf("failures: %+v", result.Failures)
	}
	// Push targets the user id, not a configured address.
	if len(f.push.sent) != 1 || f.push.sent[0].contact != userID.String() {
		t.Fatalf("push sends: %+v", f.push.sent)
	}
	if len(f.logs.rows) != 2 {
		t.Fatalf("log rows: got %d, want 2", len(f.logs.rows))
	}
}

func TestSendNotification_QuietHoursEmailOnly(t *testing.T) {
	userID := uuid.New()
	prefs := daytimePrefs(userID)
	prefs.Quiet = entity.QuietHours{Enabled: true, Start: "22:00", End: "06:00", AllowUrgent: true}
	f := newOrchestratorFixture(t, userID, prefs)
	f.clock.t = time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)

	payload := warningPayload(userID)
	payload.Priority = entity.PriorityCritical

	result, err := f.orch.SendNotification(context.Background(), payload)
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if len(result.ChannelsUsed) != 1 || result.ChannelsUsed[0] != entity.ChannelEmail {
		t.Fatalf("channels used: %v", result.ChannelsUsed)
	}
	if len(f.push.sent) != 0 {
		t.Fatal("push should be muted during quiet hours")
	}
}

func TestSendNotification_QuietHoursUrgentBypass(t *testing.T) {
	userID := uuid.New()
	prefs := daytimePrefs(userID)
	prefs.Quiet = entity.QuietHours{Enabled: true, Start: "22:00", End: "06:00", AllowUrgent: true}
	f := newOrchestratorFixture(t, userID, prefs)
	f.clock.t = time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)

	payload := warningPayload(userID)
	payload.Priority = entity.PriorityUrgent

	result, err := f.orch.SendNotification(context.Background(), payload)
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if len(result.ChannelsUsed) != 2 {
		t.Fatalf("urgent should reach every enabled channel, got %v", result.ChannelsUsed)
	}
}

func TestSendNotification_QuietHoursDigestRedirect(t *testing.T) {
	userID := uuid.New()
	prefs := daytimePrefs(userID)
	prefs.Channels[entity.ChannelEmail] = entity.ChannelSetting{Enabled: false}
	prefs.Overrides = map[string]entity.CategoryOverride{
		"compliance": {Channels: []entity.Channel{entity.ChannelPush}},
	}
	prefs.Quiet = entity.QuietHours{Enabled: true, Start: "22:00", End: "06:00", AllowUrgent: true}
	f := newOrchestratorFixture(t, userID, prefs)
	f.clock.t = time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)

	first := warningPayload(userID)
	result, err := f.orch.SendNotification(context.Background(), first)
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success || result.BatchedWith != 1 {
		t.Fatalf("result: %+v", result)
	}
	if len(f.push.sent) != 0 {
		t.Fatal("redirected notification must not hit a channel")
	}
	if f.orch.digests.Len() != 1 {
		t.Fatalf("digest batches: got %d, want 1", f.orch.digests.Len())
	}

	// A second redirect joins the same batch and reports the running size.
	second := first
	second.Type = "policy.updated"
	result, err = f.orch.SendNotification(context.Background(), second)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if result.BatchedWith != 2 {
		t.Fatalf("second batch size: got %d, want 2", result.BatchedWith)
	}
}

type failingDedupStore struct{}

func (failingDedupStore) Lookup(context.Context, string) (*DedupEntry, error) {
	return nil, errors.New("redis: connection refused")
}

func (failingDedupStore) Remember(context.Context, string, DedupEntry) error {
	return errors.New("redis: connection refused")
}

func TestSendNotification_DedupStoreDown(t *testing.T) {
	userID := uuid.New()
	email := &fakeAdapter{result: entity.ChannelResult{Success: true, MessageID: "smtp-1"}}
	prefRepo := &fakePrefRepo{byUser: map[uuid.UUID]*entity.UserNotificationPreferences{
		userID: daytimePrefs(userID),
	}}

	orch := NewOrchestrator(
		prefRepo,
		&fakeLogRepo{},
		failingDedupStore{},
		map[entity.Channel]ChannelAdapter{entity.ChannelEmail: email},
		testMetrics(),
		testLogger(t),
		WithClock(func() time.Time { return time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC) }),
	)

	// An unreachable store degrades to "no duplicate"; delivery goes through.
	result, err := orch.SendNotification(context.Background(), warningPayload(userID))
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success || result.DeduplicationApplied {
		t.Fatalf("result: %+v", result)
	}
	if len(email.sent) != 1 {
		t.Fatalf("email sends: got %d, want 1", len(email.sent))
	}
}

func TestSendNotification_DigestBatchingAndFlush(t *testing.T) {
	userID := uuid.New()
	prefs := daytimePrefs(userID)
	prefs.Digest = entity.DigestSettings{Enabled: true, Frequency: entity.DigestDaily, TimeOfDay: "09:00"}
	f := newOrchestratorFixture(t, userID, prefs)

	first := warningPayload(userID)
	result, err := f.orch.SendNotification(context.Background(), first)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if result.BatchedWith != 1 {
		t.Fatalf("first batch size: got %d, want 1", result.BatchedWith)
	}

	second := first
	second.Type = "policy.updated"
	second.Message = "Safety policy v3 published"
	result, err = f.orch.SendNotification(context.Background(), second)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if result.BatchedWith != 2 {
		t.Fatalf("second batch size: got %d, want 2", result.BatchedWith)
	}
	if len(f.email.sent) != 0 {
		t.Fatal("batched notifications must not be sent immediately")
	}

	// Not yet due.
	stats, err := f.orch.FlushDigests(context.Background())
	if err != nil {
		t.Fatalf("FlushDigests: %v", err)
	}
	if stats.Flushed != 0 {
		t.Fatalf("premature flush: %+v", stats)
	}

	f.clock.Advance(24 * time.Hour)
	stats, err = f.orch.FlushDigests(context.Background())
	if err != nil {
		t.Fatalf("FlushDigests: %v", err)
	}
	if stats.Flushed != 1 || stats.Dropped != 0 {
		t.Fatalf("flush stats: %+v", stats)
	}
	if len(f.email.sent) != 1 {
		t.Fatalf("digest sends: got %d, want 1", len(f.email.sent))
	}

	digest := f.email.sent[0].payload
	if digest.Type != "digest" || digest.Priority != entity.PriorityInfo {
		t.Fatalf("digest payload: %+v", digest)
	}
	if !strings.Contains(digest.Message, "2 pending notifications") {
		t.Fatalf("digest message: %q", digest.Message)
	}
	if !strings.Contains(digest.Message, "Safety policy v3 published") {
		t.Fatalf("digest message missing entry: %q", digest.Message)
	}
	if f.orch.digests.Len() != 0 {
		t.Fatal("flushed batch should be cleared")
	}
}

func TestSendNotification_NoUsableChannels(t *testing.T) {
	userID := uuid.New()
	prefs := daytimePrefs(userID)
	// Email enabled but missing contact info; push disabled.
	prefs.Channels[entity.ChannelEmail] = entity.ChannelSetting{Enabled: true}
	prefs.Channels[entity.ChannelPush] = entity.ChannelSetting{Enabled: false}
	f := newOrchestratorFixture(t, userID, prefs)

	result, err := f.orch.SendNotification(context.Background(), warningPayload(userID))
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if !result.Success || len(result.ChannelsUsed) != 0 {
		t.Fatalf("result: %+v", result)
	}
}
