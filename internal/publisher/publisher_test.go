package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/quillhall/scribe/internal/coordinator"
)

// mockJetStream mocks the jetstream operations we need
type mockJetStream struct {
	PublishedSubject string
	PublishedData    []byte
	PublishError     error
	StreamConfig     jetstream.StreamConfig
}

func (m *mockJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	m.PublishedSubject = subject
	m.PublishedData = payload
	if m.PublishError != nil {
		return nil, m.PublishError
	}
	return &jetstream.PubAck{Stream: StreamName}, nil
}

func (m *mockJetStream) CreateOrUpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.StreamConfig = cfg
	return nil, nil
}

func TestNATS_PublishApplied(t *testing.T) {
	mock := &mockJetStream{}
	pub := &NATS{js: mock}

	event := coordinator.AppliedEvent{
		Entity:      "message",
		Key:         "message:175928847299117063",
		EffectiveAt: time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC),
	}

	if err := pub.PublishApplied(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.PublishedSubject != "ingest.applied.message" {
		t.Errorf("subject = %s, want ingest.applied.message", mock.PublishedSubject)
	}

	var decoded coordinator.AppliedEvent
	if err := json.Unmarshal(mock.PublishedData, &decoded); err != nil {
		t.Fatalf("payload is not valid json: %v", err)
	}
	if decoded.Key != event.Key {
		t.Errorf("key = %s, want %s", decoded.Key, event.Key)
	}
}

func TestNATS_PublishAppliedError(t *testing.T) {
	mock := &mockJetStream{PublishError: errors.New("no responders")}
	pub := &NATS{js: mock}

	err := pub.PublishApplied(context.Background(), coordinator.AppliedEvent{Entity: "reaction"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestNATS_EnsureStream(t *testing.T) {
	mock := &mockJetStream{}
	pub := &NATS{js: mock}

	if err := pub.ensureStream(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.StreamConfig.Name != StreamName {
		t.Errorf("stream = %s, want %s", mock.StreamConfig.Name, StreamName)
	}
	if len(mock.StreamConfig.Subjects) != 1 || mock.StreamConfig.Subjects[0] != "ingest.applied.>" {
		t.Errorf("subjects = %v, want [ingest.applied.>]", mock.StreamConfig.Subjects)
	}
}
