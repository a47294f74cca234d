package alert

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"family-alert-go/internal/domain/cooldown"
	"family-alert-go/internal/domain/notify"
	"family-alert-go/pkg/logger"
)

type fakeAlertRepo struct {
	mu      sync.Mutex
	alerts  map[string]*Alert
	watcher func([]Alert)
	now     func() time.Time
}

func newFakeAlertRepo(now func() time.Time) *fakeAlertRepo {
	return &fakeAlertRepo{alerts: make(map[string]*Alert), now: now}
}

func (r *fakeAlertRepo) Transaction(ctx context.Context, fn func(Repository) error) error {
	return fn(r)
}

func (r *fakeAlertRepo) GetAlert(ctx context.Context, alertID string) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, ErrAlertNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAlertRepo) FindActiveByUser(ctx context.Context, userID string) (*Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.alerts {
		if a.UserID == userID && a.Status == StatusActive {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrAlertNotFound
}

func (r *fakeAlertRepo) ListByUser(ctx context.Context, userID string) ([]Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Alert
	for _, a := range r.alerts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeAlertRepo) CreateAlert(ctx context.Context, a *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *a
	r.alerts[a.ID] = &copied
	return nil
}

func (r *fakeAlertRepo) UpdateActive(ctx context.Context, alertID string, input Input) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	applyInput(a, input)
	a.Status = StatusActive
	a.IsActive = true
	a.UpdatedAt = r.now()
	return nil
}

func (r *fakeAlertRepo) MarkStopped(ctx context.Context, alertID string, stoppedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	a.Status = StatusStopped
	a.IsActive = false
	a.StoppedAt = &stoppedAt
	return nil
}

func (r *fakeAlertRepo) DeleteAlert(ctx context.Context, alertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.alerts, alertID)
	return nil
}

func (r *fakeAlertRepo) WatchVisible(ctx context.Context, fn func([]Alert)) (Cancel, error) {
	r.mu.Lock()
	r.watcher = fn
	r.mu.Unlock()
	r.emit()
	return func() {
		r.mu.Lock()
		r.watcher = nil
		r.mu.Unlock()
	}, nil
}

func (r *fakeAlertRepo) emit() {
	r.mu.Lock()
	fn := r.watcher
	snapshot := make([]Alert, 0, len(r.alerts))
	for _, a := range r.alerts {
		snapshot = append(snapshot, *a)
	}
	r.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	if fn != nil {
		fn(snapshot)
	}
}

func (r *fakeAlertRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

type fakeGate struct {
	blocked map[string]bool
	started []string
}

func (g *fakeGate) Check(ctx context.Context, userID string) error {
	if g.blocked[userID] {
		return &cooldown.RateLimitError{RemainingSeconds: 60}
	}
	return nil
}

func (g *fakeGate) Start(ctx context.Context, userID string, d time.Duration) (time.Time, error) {
	g.started = append(g.started, userID)
	g.blocked[userID] = true
	return time.Now().Add(time.Minute), nil
}

type recordingPublisher struct {
	events []notify.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event notify.Event) error {
	p.events = append(p.events, event)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func fireInput() Input {
	return Input{Latitude: 50.06, Longitude: 19.94, Address: "Rynek 1", UserName: "Jan", EmergencyType: TypeFire}
}

func TestCreateOrUpdateKeepsOneActiveAlert(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	repo := newFakeAlertRepo(clk.Now)
	gate := &fakeGate{blocked: map[string]bool{}}
	publisher := &recordingPublisher{}
	svc := NewService(repo, logger.Nop(), WithClock(clk.Now), WithCooldown(gate), WithPublisher(publisher))

	first, err := svc.CreateOrUpdate(context.Background(), "U", fireInput())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.IsUpdate {
		t.Fatalf("expected first call to create")
	}

	input := fireInput()
	input.EmergencyType = TypeAccident
	second, err := svc.CreateOrUpdate(context.Background(), "U", input)
	if err != nil {
		t.Fatalf("expected update to bypass cooldown, got %v", err)
	}
	if !second.IsUpdate || second.AlertID != first.AlertID {
		t.Fatalf("expected update of %s, got %+v", first.AlertID, second)
	}

	stored, _ := repo.GetAlert(context.Background(), first.AlertID)
	if stored.EmergencyType != TypeAccident {
		t.Fatalf("expected type accident, got %q", stored.EmergencyType)
	}
	if repo.count() != 1 {
		t.Fatalf("expected one alert, got %d", repo.count())
	}
	if len(gate.started) != 1 {
		t.Fatalf("expected cooldown started once, got %d", len(gate.started))
	}
	if len(publisher.events) != 1 || publisher.events[0].AlertID != first.AlertID {
		t.Fatalf("expected exactly one created event, got %+v", publisher.events)
	}
}

func TestCreateRejectedDuringCooldown(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	repo := newFakeAlertRepo(clk.Now)
	gate := &fakeGate{blocked: map[string]bool{}}
	svc := NewService(repo, logger.Nop(), WithClock(clk.Now), WithCooldown(gate))

	created, err := svc.CreateOrUpdate(context.Background(), "U", fireInput())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := svc.Stop(context.Background(), "U", created.AlertID); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}

	_, err = svc.CreateOrUpdate(context.Background(), "U", fireInput())
	if !errors.Is(err, cooldown.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if repo.count() != 1 {
		t.Fatalf("expected no new alert, got %d", repo.count())
	}
}

func TestCreateOrUpdateValidation(t *testing.T) {
	svc := NewService(newFakeAlertRepo(time.Now), logger.Nop())
	cases := []struct {
		name  string
		input Input
		err   error
	}{
		{"type", Input{EmergencyType: "flood"}, ErrInvalidType},
		{"notes", Input{Notes: strings.Repeat("ą", MaxNotesLength+1)}, ErrNotesTooLong},
		{"photos", Input{Photos: make([]Photo, MaxPhotos+1)}, ErrTooManyPhotos},
		{"photo url", Input{Photos: []Photo{{ID: "p1"}}}, ErrInvalidPhoto},
		{"location", Input{Latitude: 100}, ErrInvalidLocation},
	}
	for _, tc := range cases {
		if _, err := svc.CreateOrUpdate(context.Background(), "U", tc.input); !errors.Is(err, tc.err) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.err, err)
		}
	}

	result, err := svc.CreateOrUpdate(context.Background(), "U", Input{Notes: strings.Repeat("ą", MaxNotesLength)})
	if err != nil {
		t.Fatalf("expected 200 runes to be accepted, got %v", err)
	}
	if result.Alert.EmergencyType != TypeGeneral {
		t.Fatalf("expected default type general, got %q", result.Alert.EmergencyType)
	}
}

func TestStopRules(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	repo := newFakeAlertRepo(clk.Now)
	svc := NewService(repo, logger.Nop(), WithClock(clk.Now))

	created, err := svc.CreateOrUpdate(context.Background(), "U", fireInput())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := svc.Stop(context.Background(), "other", created.AlertID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.Stop(context.Background(), "U", "missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
	if err := svc.Stop(context.Background(), "U", created.AlertID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	firstStop := *repo.alerts[created.AlertID].StoppedAt

	clk.Set(clk.Now().Add(time.Hour))
	if err := svc.Stop(context.Background(), "U", created.AlertID); err != nil {
		t.Fatalf("expected repeated stop to succeed, got %v", err)
	}
	if !repo.alerts[created.AlertID].StoppedAt.Equal(firstStop) {
		t.Fatalf("expected repeated stop to keep stoppedAt")
	}

	next, err := svc.CreateOrUpdate(context.Background(), "U", fireInput())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if next.IsUpdate || next.AlertID == created.AlertID {
		t.Fatalf("expected a new alert after stop, got %+v", next)
	}
}

func TestWatchVisibleExpiresStoppedAlerts(t *testing.T) {
	stopAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := &clock{now: stopAt}
	repo := newFakeAlertRepo(clk.Now)
	svc := NewService(repo, logger.Nop(), WithClock(clk.Now))

	created, err := svc.CreateOrUpdate(context.Background(), "U", fireInput())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := svc.Stop(context.Background(), "U", created.AlertID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var (
		mu       sync.Mutex
		received [][]Alert
	)
	clk.Set(stopAt.Add(VisibilityWindow - time.Second))
	cancel, err := svc.WatchVisible(context.Background(), func(alerts []Alert) {
		mu.Lock()
		received = append(received, alerts)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer cancel()

	mu.Lock()
	if len(received) != 1 || len(received[0]) != 1 || received[0][0].Status != StatusStopped {
		mu.Unlock()
		t.Fatalf("expected stopped alert visible before 24h, got %+v", received)
	}
	mu.Unlock()

	clk.Set(stopAt.Add(VisibilityWindow + time.Second))
	repo.emit()

	mu.Lock()
	last := received[len(received)-1]
	mu.Unlock()
	if len(last) != 0 {
		t.Fatalf("expected alert hidden after 24h, got %+v", last)
	}

	deadline := time.Now().Add(2 * time.Second)
	for repo.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected expired alert deleted from store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	repo := newFakeAlertRepo(time.Now)
	svc := NewService(repo, logger.Nop())
	repo.alerts["a1"] = &Alert{ID: "a1", UserID: "U", Status: StatusStopped}
	repo.alerts["a2"] = &Alert{ID: "a2", UserID: "U", Status: StatusActive}
	repo.alerts["a3"] = &Alert{ID: "a3", UserID: "V", Status: StatusActive}

	if err := svc.DeleteAllForUser(context.Background(), "U"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if repo.count() != 1 || repo.alerts["a3"] == nil {
		t.Fatalf("expected only V's alert left, got %d", repo.count())
	}
}
