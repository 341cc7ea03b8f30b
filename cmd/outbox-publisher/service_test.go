package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/agrimandi/agrimandi-backend/pkg/config"
	"github.com/agrimandi/agrimandi-backend/pkg/db/models"
	"github.com/agrimandi/agrimandi-backend/pkg/enums"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
	"github.com/agrimandi/agrimandi-backend/pkg/outbox"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

type fakeOutboxRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (r *fakeOutboxRepo) FetchUnpublished(limit int) ([]models.OutboxEvent, error) {
	if len(r.events) > limit {
		return r.events[:limit], nil
	}
	return r.events, nil
}

func (r *fakeOutboxRepo) MarkPublished(id uuid.UUID) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(id uuid.UUID, err error) error {
	r.failed = append(r.failed, id)
	return nil
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "msg-1", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return fakeResult{err: p.err}
}

func newPublisherService(t *testing.T, repo *fakeOutboxRepo, pub *fakePublisher) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         okPinger{},
		PubSub:     okPinger{},
		Repository: repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func outboxRow(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"order_id":"test"}`),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	event := outboxRow(t, 0)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	svc := newPublisherService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if !processed {
		t.Fatal("expected the batch to report progress")
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one publish, got %d", len(pub.messages))
	}
	if len(repo.published) != 1 || repo.published[0] != event.ID {
		t.Fatalf("published marks: %v", repo.published)
	}

	msg := pub.messages[0]
	if msg.Attributes["event_type"] != string(enums.EventOrderCreated) {
		t.Fatalf("event_type attribute: %s", msg.Attributes["event_type"])
	}
	if msg.Attributes["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("aggregate_id attribute: %s", msg.Attributes["aggregate_id"])
	}
	if msg.Attributes["event_id"] == "" {
		t.Fatal("event_id attribute must carry the envelope id")
	}
}

func TestProcessBatchMarksFailureAndContinues(t *testing.T) {
	bad := outboxRow(t, 0)
	good := outboxRow(t, 0)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{bad, good}}
	pub := &fakePublisher{err: errors.New("topic unavailable")}
	svc := newPublisherService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("a publish failure is not a batch failure: %v", err)
	}
	if !processed {
		t.Fatal("expected progress to be reported")
	}
	if len(repo.failed) != 2 {
		t.Fatalf("both events must be marked failed, got %d", len(repo.failed))
	}
	if len(repo.published) != 0 {
		t.Fatal("nothing may be marked published")
	}
}

func TestProcessBatchSkipsExhaustedEvents(t *testing.T) {
	exhausted := outboxRow(t, defaultMaxAttempts)
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{exhausted}}
	pub := &fakePublisher{}
	svc := newPublisherService(t, repo, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if processed {
		t.Fatal("skipped events are not progress")
	}
	if len(pub.messages) != 0 {
		t.Fatal("exhausted events must not be published")
	}
	if len(repo.failed) != 0 && len(repo.published) != 0 {
		t.Fatal("exhausted events must not be re-marked")
	}
}

func TestProcessBatchMarksUndecodablePayloadFailed(t *testing.T) {
	event := outboxRow(t, 0)
	event.Payload = []byte("{not json")
	repo := &fakeOutboxRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	svc := newPublisherService(t, repo, pub)

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(repo.failed) != 1 || repo.failed[0] != event.ID {
		t.Fatalf("failed marks: %v", repo.failed)
	}
	if len(pub.messages) != 0 {
		t.Fatal("undecodable payloads must not reach the topic")
	}
}

func TestNextBackoffDoublesUpToMax(t *testing.T) {
	base := 500 * time.Millisecond
	current := base
	for i := 0; i < 10; i++ {
		current = nextBackoff(current, base, maxBackoff)
		if current > maxBackoff {
			t.Fatalf("backoff exceeded max: %s", current)
		}
	}
	if current != maxBackoff {
		t.Fatalf("backoff must saturate at the max, got %s", current)
	}
	if next := nextBackoff(base, base, maxBackoff); next != 2*base {
		t.Fatalf("backoff must double, got %s", next)
	}
}
