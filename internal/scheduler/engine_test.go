package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amparo-care/amparo/internal/models"
	"github.com/amparo-care/amparo/internal/notify"
	"github.com/amparo-care/amparo/internal/store"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newTestEngine() (*Engine, *store.InMemoryRoutineStore, *notify.MemoryNotifier) {
	s := store.NewInMemoryRoutineStore()
	n := notify.NewMemoryNotifier()
	return NewEngine(s, n), s, n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// seedActivity inserts a pending activity scheduled at the given time and
// returns it alongside its routine.
func seedActivity(t *testing.T, s *store.InMemoryRoutineStore, dependentID, caregiverID, title string, schedule time.Time) (models.Routine, models.Activity) {
	t.Helper()
	activity := models.Activity{
		ID:       primitive.NewObjectID(),
		Title:    title,
		Kind:     models.ActivityKindFeeding,
		Schedule: schedule,
		Status:   models.ActivityStatusPending,
	}
	err := s.UpsertAppendActivity(context.Background(), dependentID, caregiverID, activity, models.LogEntry{
		Action:     models.LogActionActivityCreated,
		ActivityID: activity.ID.Hex(),
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to seed activity: %v", err)
	}
	routine, err := s.FindByDependent(context.Background(), dependentID)
	if err != nil || routine == nil {
		t.Fatalf("failed to read back routine: %v", err)
	}
	return *routine, activity
}

func TestEngineImmediateAlarm(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	_, activity := seedActivity(t, s, "dep-1", "care-1", "Lunch", base)

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	events := n.EventsFor("dep-1")
	if len(events) != 1 || events[0].Event != models.EventAlarm {
		t.Fatalf("expected one alarm on the dependent channel, got %+v", events)
	}
	alert, ok := events[0].Payload.(models.Alert)
	if !ok || alert.Type != models.AlertTypeImmediateAlarm {
		t.Errorf("unexpected alarm payload: %+v", events[0].Payload)
	}

	got, _ := s.FindActivityByID(ctx, "dep-1", activity.ID.Hex())
	if got == nil || !got.ImmediateAlarmSent {
		t.Error("expected immediate alarm flag persisted after publish")
	}
}

func TestEngineTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	seedActivity(t, s, "dep-1", "care-1", "Lunch", base)

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)
	engine.RunTick(ctx)
	engine.SetClock(fixedClock(base.Add(45 * time.Second)))
	engine.RunTick(ctx)

	if got := n.CountByEvent(models.EventAlarm); got != 1 {
		t.Errorf("expected exactly one alarm across repeated ticks, got %d", got)
	}
}

func TestEngineWindowEdges(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		tick     time.Time
		schedule time.Time
		fires    bool
	}{
		{"at schedule time", base, base, true},
		{"sixty seconds after", base.Add(time.Minute), base, true},
		{"two minutes after", base.Add(2 * time.Minute), base, false},
		{"before schedule", base.Add(-time.Second), base, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine, s, n := newTestEngine()
			seedActivity(t, s, "dep-1", "care-1", "Lunch", tc.schedule)
			engine.SetClock(fixedClock(tc.tick))
			engine.RunTick(ctx)
			fired := n.CountByEvent(models.EventAlarm) == 1
			if fired != tc.fires {
				t.Errorf("tick at %v for schedule %v: fired=%v, want %v", tc.tick, tc.schedule, fired, tc.fires)
			}
		})
	}
}

func TestEnginePreNotification(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	// Due in 14.5 minutes, inside the [T+14m, T+15m] reminder window.
	_, activity := seedActivity(t, s, "dep-1", "care-1", "Lunch", base.Add(14*time.Minute+30*time.Second))

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	if got := n.CountByEvent(models.EventPreNotification); got != 1 {
		t.Fatalf("expected one pre-notification, got %d", got)
	}
	got, _ := s.FindActivityByID(ctx, "dep-1", activity.ID.Hex())
	if got == nil || !got.PreNotificationSent {
		t.Error("expected pre-notification flag persisted")
	}

	// The next tick still has the activity in window, but it is flagged.
	engine.SetClock(fixedClock(base.Add(15 * time.Second)))
	engine.RunTick(ctx)
	if got := n.CountByEvent(models.EventPreNotification); got != 1 {
		t.Errorf("expected no duplicate pre-notification, got %d", got)
	}
}

func TestEnginePreNotificationOutsideLead(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	seedActivity(t, s, "dep-1", "care-1", "Lunch", base.Add(20*time.Minute))

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	if got := n.CountByEvent(models.EventPreNotification); got != 0 {
		t.Errorf("activity due in 20 minutes must not trigger a reminder, got %d", got)
	}
}

func TestEngineFailureAlertGoesToCaregiver(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	// Scheduled 30.5 minutes ago, inside the [T-31m, T-30m] overdue window.
	_, activity := seedActivity(t, s, "dep-1", "care-1", "Medication", base.Add(-30*time.Minute-30*time.Second))

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	events := n.EventsFor("care-1")
	if len(events) != 1 || events[0].Event != models.EventFailureAlert {
		t.Fatalf("expected one failure alert on the caregiver channel, got %+v", events)
	}
	alert, ok := events[0].Payload.(models.Alert)
	if !ok || alert.Type != models.AlertTypeFailureAlert || alert.DependentID != "dep-1" {
		t.Errorf("unexpected failure alert payload: %+v", events[0].Payload)
	}
	if len(n.EventsFor("dep-1")) != 0 {
		t.Error("failure alerts must not reach the dependent channel")
	}

	got, _ := s.FindActivityByID(ctx, "dep-1", activity.ID.Hex())
	if got == nil || !got.FailureAlertSent {
		t.Error("expected failure alert flag persisted")
	}
}

func TestEngineFailureAlertWithoutCaregiver(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	seedActivity(t, s, "dep-1", "", "Medication", base.Add(-30*time.Minute-30*time.Second))

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	if got := len(n.Events()); got != 0 {
		t.Errorf("routine without caregiver must be skipped quietly, got %d events", got)
	}
}

func TestEngineCompletedActivityNotAlerted(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	_, activity := seedActivity(t, s, "dep-1", "care-1", "Lunch", base)
	if _, err := s.UpdateMatchedActivityFields(ctx, "dep-1", activity.ID.Hex(), map[string]interface{}{
		"status": models.ActivityStatusCompleted,
	}); err != nil {
		t.Fatalf("failed to complete activity: %v", err)
	}

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	if got := len(n.Events()); got != 0 {
		t.Errorf("completed activity must not be alerted, got %d events", got)
	}
}

func TestEnginePublishFailureLeavesFlagUnset(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	_, activity := seedActivity(t, s, "dep-1", "care-1", "Lunch", base)

	n.FailErr = errors.New("channel down")
	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	got, _ := s.FindActivityByID(ctx, "dep-1", activity.ID.Hex())
	if got == nil || got.ImmediateAlarmSent {
		t.Fatal("publish failure must leave the sent flag unset")
	}

	// The channel recovers; a later tick inside the window retries.
	n.FailErr = nil
	engine.SetClock(fixedClock(base.Add(30 * time.Second)))
	engine.RunTick(ctx)

	if got := n.CountByEvent(models.EventAlarm); got != 1 {
		t.Errorf("expected the retry tick to deliver the alarm once, got %d", got)
	}
	got2, _ := s.FindActivityByID(ctx, "dep-1", activity.ID.Hex())
	if got2 == nil || !got2.ImmediateAlarmSent {
		t.Error("expected the flag set after the successful retry")
	}
}

// faultyRoutineStore fails the window query for one flag and delegates
// everything else to the in-memory store.
type faultyRoutineStore struct {
	*store.InMemoryRoutineStore
	failFlag store.NotificationFlag
	queryErr error
}

func (f *faultyRoutineStore) QueryByScheduleWindowAndFlag(ctx context.Context, lo, hi time.Time, status models.ActivityStatus, flag store.NotificationFlag) ([]models.Routine, error) {
	if flag == f.failFlag {
		return nil, f.queryErr
	}
	return f.InMemoryRoutineStore.QueryByScheduleWindowAndFlag(ctx, lo, hi, status, flag)
}

func TestEngineSweepFailureIsolation(t *testing.T) {
	ctx := context.Background()
	inner := store.NewInMemoryRoutineStore()
	faulty := &faultyRoutineStore{
		InMemoryRoutineStore: inner,
		failFlag:             store.FlagPreNotification,
		queryErr:             errors.New("store unavailable"),
	}
	n := notify.NewMemoryNotifier()
	engine := NewEngine(faulty, n)

	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	// One activity due now, one overdue by half an hour, one due in 14.5
	// minutes that the broken reminder sweep would have matched.
	_, alarmActivity := seedActivity(t, inner, "dep-1", "care-1", "Lunch", base)
	seedActivity(t, inner, "dep-2", "care-2", "Medication", base.Add(-30*time.Minute-30*time.Second))
	seedActivity(t, inner, "dep-3", "care-3", "Walk", base.Add(14*time.Minute+30*time.Second))

	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	if got := n.CountByEvent(models.EventAlarm); got != 1 {
		t.Errorf("expected the alarm sweep to run despite the reminder sweep failing, got %d alarms", got)
	}
	if got := n.CountByEvent(models.EventFailureAlert); got != 1 {
		t.Errorf("expected the failure alert sweep to run despite the reminder sweep failing, got %d alerts", got)
	}
	if got := n.CountByEvent(models.EventPreNotification); got != 0 {
		t.Errorf("expected no reminders from the failing sweep, got %d", got)
	}

	got, _ := inner.FindActivityByID(ctx, "dep-1", alarmActivity.ID.Hex())
	if got == nil || !got.ImmediateAlarmSent {
		t.Error("expected the alarm flag persisted by the surviving sweep")
	}

	// The store recovers; the reminder is delivered on a later in-window tick.
	faulty.failFlag = ""
	engine.SetClock(fixedClock(base.Add(30 * time.Second)))
	engine.RunTick(ctx)
	if got := n.CountByEvent(models.EventPreNotification); got != 1 {
		t.Errorf("expected the reminder once the store recovered, got %d", got)
	}
}

// fakeSMS records SendMessage calls.
type fakeSMS struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSMS) SendMessage(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to)
	return nil
}

// fakeIdentity resolves a single caregiver.
type fakeIdentity struct {
	store.IdentityStore
	caregiver *models.Caregiver
}

func (f *fakeIdentity) GetCaregiver(ctx context.Context, id string) (*models.Caregiver, error) {
	if f.caregiver != nil && f.caregiver.ID == id {
		return f.caregiver, nil
	}
	return nil, nil
}

func TestEngineSMSEscalation(t *testing.T) {
	ctx := context.Background()
	engine, s, _ := newTestEngine()
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	seedActivity(t, s, "dep-1", "care-1", "Medication", base.Add(-30*time.Minute-30*time.Second))

	sms := &fakeSMS{}
	engine.WithSMSEscalation(sms, &fakeIdentity{caregiver: &models.Caregiver{ID: "care-1", Phone: "+15550100"}})
	engine.SetClock(fixedClock(base))
	engine.RunTick(ctx)

	if len(sms.calls) != 1 || sms.calls[0] != "+15550100" {
		t.Errorf("expected one SMS to the caregiver's phone, got %v", sms.calls)
	}
}

func TestEngineReminderThenNoDuplicate(t *testing.T) {
	ctx := context.Background()
	engine, s, n := newTestEngine()
	created := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	due := created.Add(15 * time.Minute)
	_, activity := seedActivity(t, s, "dep-1", "care-1", "Lunch", due)

	// First tick roughly 14.5 minutes before the activity is due.
	engine.SetClock(fixedClock(created.Add(30 * time.Second)))
	engine.RunTick(ctx)

	events := n.EventsFor("dep-1")
	if len(events) != 1 || events[0].Event != models.EventPreNotification {
		t.Fatalf("expected exactly one reminder, got %+v", events)
	}
	got, _ := s.FindActivityByID(ctx, "dep-1", activity.ID.Hex())
	if got == nil || !got.PreNotificationSent {
		t.Fatal("expected reminder flag persisted")
	}

	// Ticks keep coming; the flagged activity stays quiet until the alarm
	// window opens at the scheduled time.
	engine.SetClock(fixedClock(created.Add(time.Minute)))
	engine.RunTick(ctx)
	if got := n.CountByEvent(models.EventPreNotification); got != 1 {
		t.Errorf("expected no duplicate reminder, got %d", got)
	}

	engine.SetClock(fixedClock(due))
	engine.RunTick(ctx)
	if got := n.CountByEvent(models.EventAlarm); got != 1 {
		t.Errorf("expected the due-time tick to raise one alarm, got %d", got)
	}
}
