// Package publisher emits applied-mutation events onto NATS JetStream
// so downstream consumers (search indexers, notification fans-out) can
// follow the archive without polling Postgres.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/quillhall/scribe/internal/coordinator"
)

// StreamName holds every applied-mutation subject.
const StreamName = "SCRIBE"

// subjectPrefix is completed with the mutation's entity name, e.g.
// "ingest.applied.message".
const subjectPrefix = "ingest.applied."

// JetStream is the publishing surface we need. Satisfied by
// jetstream.JetStream; tests substitute a mock.
type JetStream interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// NATS publishes applied events over a JetStream connection. It
// implements coordinator.Publisher.
type NATS struct {
	conn *nats.Conn
	js   JetStream
}

// Connect dials the NATS server and ensures the stream exists.
func Connect(ctx context.Context, natsURL string) (*NATS, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	p := &NATS{conn: conn, js: js}
	if err := p.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *NATS) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ">"},
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishApplied publishes one applied-mutation event to the subject of
// its entity.
func (p *NATS) PublishApplied(ctx context.Context, event coordinator.AppliedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := subjectPrefix + event.Entity
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close closes the nats connection.
func (p *NATS) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// IsConnected returns true if connected to nats.
func (p *NATS) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}
