package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"family-alert-go/internal/domain/user"
	"family-alert-go/pkg/logger"
)

type fakeProfiles map[string]*user.Profile

func (f fakeProfiles) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	profile, ok := f[userID]
	if !ok {
		return nil, user.ErrProfileNotFound
	}
	return profile, nil
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []Message
	failTo string
}

func (m *fakeMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.To == m.failTo {
		return errors.New("smtp: mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type countingRecorder struct {
	mu     sync.Mutex
	sent   int
	failed int
}

func (r *countingRecorder) EmailSent() {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *countingRecorder) EmailFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}

func testEvent() Event {
	return Event{
		AlertID:       "a1",
		UserID:        "u1",
		UserName:      "Jane",
		EmergencyType: "life-threat",
		Address:       "1 Main St",
		Latitude:      52.1,
		Longitude:     21.2,
		Notes:         "need help",
		CreatedAt:     time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestDispatchSendsOnePerContact(t *testing.T) {
	profiles := fakeProfiles{"u1": {
		ID:   "u1",
		Name: "Jane",
		EmergencyContacts: []user.EmergencyContact{
			{Name: "Mom", Email: "mom@example.com"},
			{Name: "Dad", Email: "dad@example.com"},
			{Name: "Bob", Email: "bob@example.com"},
		},
	}}
	mailer := &fakeMailer{failTo: "dad@example.com"}
	recorder := &countingRecorder{}
	d := NewDispatcher(profiles, mailer, recorder, logger.Nop())

	result, err := d.Dispatch(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("expected send failures to be swallowed, got %v", err)
	}
	if result.Sent != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 sent and 1 failed, got %+v", result)
	}
	if recorder.sent != 2 || recorder.failed != 1 {
		t.Fatalf("expected recorder 2/1, got %d/%d", recorder.sent, recorder.failed)
	}
	for _, msg := range mailer.sent {
		if !strings.Contains(msg.Subject, "Jane") {
			t.Fatalf("expected subject to name the alerter, got %q", msg.Subject)
		}
		if !strings.Contains(msg.Body, "life threat") || !strings.Contains(msg.Body, "1 Main St") {
			t.Fatalf("expected body with type and address, got %q", msg.Body)
		}
	}
}

func TestDispatchMissingProfile(t *testing.T) {
	d := NewDispatcher(fakeProfiles{}, &fakeMailer{}, nil, logger.Nop())
	if _, err := d.Dispatch(context.Background(), testEvent()); !errors.Is(err, user.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

type memoryQueue struct {
	bodies [][]byte
}

func (q *memoryQueue) Publish(ctx context.Context, body []byte) error {
	q.bodies = append(q.bodies, body)
	return nil
}

func (q *memoryQueue) Consume(ctx context.Context, handle func(ctx context.Context, body []byte) error) error {
	for _, body := range q.bodies {
		if err := handle(ctx, body); err != nil {
			return err
		}
	}
	return nil
}

func TestQueueRoundTrip(t *testing.T) {
	profiles := fakeProfiles{"u1": {
		ID:                "u1",
		EmergencyContacts: []user.EmergencyContact{{Name: "Mom", Email: "mom@example.com"}},
	}}
	mailer := &fakeMailer{}
	queue := &memoryQueue{}

	if err := NewQueuePublisher(queue).Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(queue.bodies[0], &decoded); err != nil || decoded["alertId"] != "a1" {
		t.Fatalf("expected json body with alertId, got %s (%v)", queue.bodies[0], err)
	}

	consumer := NewConsumer(NewDispatcher(profiles, mailer, nil, logger.Nop()), logger.Nop())
	if err := consumer.Run(context.Background(), queue); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].To != "mom@example.com" {
		t.Fatalf("expected one email to mom, got %+v", mailer.sent)
	}
}

func TestConsumerRejectsMalformed(t *testing.T) {
	consumer := NewConsumer(NewDispatcher(fakeProfiles{}, &fakeMailer{}, nil, logger.Nop()), logger.Nop())
	if err := consumer.Handle(context.Background(), []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := consumer.Handle(context.Background(), []byte(`{"alertId":""}`)); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestDirectPublisherDispatchesAsync(t *testing.T) {
	profiles := fakeProfiles{"u1": {
		ID:                "u1",
		EmergencyContacts: []user.EmergencyContact{{Name: "Mom", Email: "mom@example.com"}},
	}}
	mailer := &fakeMailer{}
	publisher := NewDirectPublisher(NewDispatcher(profiles, mailer, nil, logger.Nop()), logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := publisher.Publish(ctx, testEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mailer.mu.Lock()
		n := len(mailer.sent)
		mailer.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected email sent after caller context was cancelled")
}
