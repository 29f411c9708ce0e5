package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/trawlhq/trawl/internal/domain"
)

type fakeKafka struct {
	mu     sync.Mutex
	recs   []*kgo.Record
	err    error
	closed bool
}

func (f *fakeKafka) ProduceSync(_ domain.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kgo.ProduceResults{{Err: f.err}}
	}
	f.recs = append(f.recs, rs...)
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r})
	}
	return out
}

func (f *fakeKafka) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func TestPublish_ProducesKeyedRecord(t *testing.T) {
	fake := &fakeKafka{}
	p := &Producer{client: fake, topic: DefaultTopic}
	at := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), domain.DiscoveryEvent{
		Kind:         domain.DiscoverySubreddit,
		Name:         "newplace",
		Source:       "reddit",
		DiscoveredAt: at,
	})
	require.NoError(t, err)

	require.Len(t, fake.recs, 1)
	rec := fake.recs[0]
	assert.Equal(t, DefaultTopic, rec.Topic)
	assert.Equal(t, []byte("newplace"), rec.Key)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(rec.Value, &ev))
	assert.Equal(t, "subreddit", ev.Kind)
	assert.Equal(t, "newplace", ev.Name)
	assert.Equal(t, "reddit", ev.Source)
	assert.True(t, ev.DiscoveredAt.Equal(at))

	require.Len(t, rec.Headers, 2)
	assert.Equal(t, "kind", rec.Headers[0].Key)
	assert.Equal(t, []byte("subreddit"), rec.Headers[0].Value)
}

func TestPublish_SurfacesProduceError(t *testing.T) {
	fake := &fakeKafka{err: errors.New("broker down")}
	p := &Producer{client: fake, topic: "t"}

	err := p.Publish(context.Background(), domain.DiscoveryEvent{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic=t")
}

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestClose(t *testing.T) {
	fake := &fakeKafka{}
	p := &Producer{client: fake, topic: "t"}
	p.Close()
	assert.True(t, fake.closed)
}

func TestNoop(t *testing.T) {
	var pub domain.DiscoveryPublisher = Noop{}
	assert.NoError(t, pub.Publish(context.Background(), domain.DiscoveryEvent{}))
	pub.Close()
}
