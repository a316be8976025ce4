// Package kafka mirrors committed audit entries to a Kafka topic for SIEM
// consumption. Records are keyed by org id so each org's entries stay in
// one partition, in chain order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"carecore/internal/audit"
	"carecore/pkg/platform/circuit"
)

// ErrMirrorUnavailable is returned without contacting the broker while the
// breaker is open.
var ErrMirrorUnavailable = errors.New("audit mirror unavailable: circuit open")

// Producer is the subset of *kgo.Client the publisher uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type Publisher struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
}

type Option func(*Publisher)

// WithBreaker stops produce attempts while the broker keeps failing, so a
// dead broker does not hold up the audit shard workers.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func New(producer Producer, topic string, opts ...Option) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	p := &Publisher{producer: producer, topic: topic}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// record is the wire form of a committed entry.
type record struct {
	ID           string `json:"id"`
	OrgID        string `json:"org_id"`
	ActorID      string `json:"actor_id,omitempty"`
	ActorType    string `json:"actor_type"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Sensitivity  string `json:"sensitivity,omitempty"`
	Description  string `json:"description,omitempty"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
	PreviousHash string `json:"previous_hash"`
	CurrentHash  string `json:"current_hash"`
	CreatedAt    string `json:"created_at"`
}

// Encode renders entry as the JSON value of a record.
func Encode(entry audit.Entry) ([]byte, error) {
	return json.Marshal(record{
		ID:           entry.ID.String(),
		OrgID:        entry.OrgID.String(),
		ActorID:      entry.ActorID,
		ActorType:    entry.ActorType,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Sensitivity:  entry.Sensitivity,
		Description:  entry.Description,
		OldValue:     entry.OldValue,
		NewValue:     entry.NewValue,
		PreviousHash: entry.PreviousHash,
		CurrentHash:  entry.CurrentHash,
		CreatedAt:    entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (p *Publisher) Publish(ctx context.Context, entry audit.Entry) error {
	value, err := Encode(entry)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(entry.OrgID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}
	if p.breaker != nil && !p.breaker.Allow() {
		return ErrMirrorUnavailable
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if p.breaker != nil {
			p.breaker.RecordFailure()
		}
		return fmt.Errorf("produce audit record: %w", err)
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess()
	}
	return nil
}

func (p *Publisher) Close() error {
	p.producer.Close()
	return nil
}
