// Package discovery publishes scraper discovery events to a Kafka topic so
// review tooling can react to new subreddits and creators without polling
// the database. Publishing is best-effort: scrapers log failures and move on.
package discovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/trawlhq/trawl/internal/domain"
)

// DefaultTopic is where both scrapers publish.
const DefaultTopic = "scraper.discoveries"

// kafkaClient is the slice of *kgo.Client the producer uses; tests inject a
// fake.
type kafkaClient interface {
	ProduceSync(ctx domain.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Producer implements domain.DiscoveryPublisher on Kafka.
type Producer struct {
	client kafkaClient
	topic  string
}

var _ domain.DiscoveryPublisher = (*Producer)(nil)

// New connects to the given brokers. The topic is auto-created on first
// publish where the cluster allows it.
func New(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=discovery.new: %w: no seed brokers", domain.ErrInvalidArgument)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.RequestRetries(5),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=discovery.new: %w", err)
	}
	return &Producer{client: client, topic: topic}, nil
}

type wireEvent struct {
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Publish produces one event, keyed by name so re-discoveries of the same
// target land in order.
func (p *Producer) Publish(ctx domain.Context, ev domain.DiscoveryEvent) error {
	b, err := json.Marshal(wireEvent{
		Kind:         string(ev.Kind),
		Name:         ev.Name,
		Source:       ev.Source,
		DiscoveredAt: ev.DiscoveredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("op=discovery.publish: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.Name),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "source", Value: []byte(ev.Source)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=discovery.publish topic=%s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

// Noop is the publisher used when no brokers are configured.
type Noop struct{}

var _ domain.DiscoveryPublisher = Noop{}

func (Noop) Publish(_ domain.Context, _ domain.DiscoveryEvent) error { return nil }

func (Noop) Close() {}
