package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/idregistry/idregistry/internal/registry"
)

// Producer is the slice of *kgo.Client the Kafka sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes each event as one record keyed by subject address, so
// a partition sees the transitions of an account in order.
type KafkaSink struct {
	producer Producer
	topic    string
}

// NewKafkaSink publishes to topic. An empty topic uses the client's default
// produce topic.
func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, events []registry.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		records = append(records, &kgo.Record{
			Topic: s.topic,
			Key:   []byte(ev.Subject.Hex()),
			Value: payload,
			Headers: []kgo.RecordHeader{
				{Key: "kind", Value: []byte(ev.Kind)},
				{Key: "seq", Value: []byte(fmt.Sprint(ev.Seq))},
			},
		})
	}
	if err := s.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce %d events: %w", len(records), err)
	}
	return nil
}
