package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiye1050/gestionclinica-sub004/internal/adapters/memory"
	"github.com/wiye1050/gestionclinica-sub004/internal/contracts"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
	"github.com/wiye1050/gestionclinica-sub004/internal/ports"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type flakyPublisher struct {
	failFor map[string]bool
	sent    []string
	dlq     []contracts.DLQRecord
}

func (p *flakyPublisher) Publish(_ context.Context, eventType string, _ []byte, _ string) error {
	if p.failFor[eventType] {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, eventType)
	return nil
}

func (p *flakyPublisher) PublishDLQ(_ context.Context, record contracts.DLQRecord) error {
	p.dlq = append(p.dlq, record)
	return nil
}

type countingRecorder struct{ published, failed int }

func (r *countingRecorder) OutboxPublished(string) { r.published++ }
func (r *countingRecorder) OutboxFailed(string)    { r.failed++ }

func TestOutboxWorkerRetriesFailedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memory.NewRepositories()
	notifier := NewOutboxNotifier(repos.Outbox, "clinic-episode-service")
	require.NoError(t, notifier.Notify(ctx, ports.Notification{PatientID: "p-1", EpisodeID: "e-1", Template: "budget_issued"}))
	require.NoError(t, repos.Outbox.Enqueue(ctx, ports.OutboxEvent{
		EventID: uuid.New(), EventType: domain.EventEpisodeStageChanged, PartitionKey: "e-1", Payload: []byte(`{}`),
	}))

	pub := &flakyPublisher{failFor: map[string]bool{domain.EventNotificationRequested: true}}
	rec := &countingRecorder{}
	worker := NewOutboxWorker(discard, repos.Outbox, pub, rec, time.Second, 10)

	n, err := worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{domain.EventEpisodeStageChanged}, pub.sent)
	assert.Equal(t, 1, rec.failed)

	pending, err := repos.Outbox.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	pub.failFor = nil
	n, err = worker.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, _ = repos.Outbox.FetchUnpublished(ctx, 10)
	assert.Empty(t, pending)
}

func TestOutboxNotifierWritesCanonicalEnvelope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repos := memory.NewRepositories()
	notifier := NewOutboxNotifier(repos.Outbox, "clinic-episode-service")

	require.ErrorIs(t, notifier.Notify(ctx, ports.Notification{Template: "x"}), domain.ErrInvalidInput)
	require.NoError(t, notifier.Notify(ctx, ports.Notification{PatientID: "p-9", Template: "recall_due", Data: map[string]string{"cycle": "2"}}))

	rows, err := repos.Outbox.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var env contracts.EventEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	assert.Equal(t, "data.patient_id", env.PartitionKeyPath)
	assert.Equal(t, "p-9", env.PartitionKey)
	assert.Equal(t, "p-9", rows[0].PartitionKey)
	assert.JSONEq(t, `{"patient_id":"p-9","template":"recall_due","data":{"cycle":"2"}}`, string(env.Data))
}

type staticConsumer struct{ msgs []Message }

func (c *staticConsumer) Poll(context.Context, int) ([]Message, error) {
	out := c.msgs
	c.msgs = nil
	return out, nil
}

type handlerFunc func(context.Context, contracts.EventEnvelope) error

func (f handlerFunc) HandleCanonicalEvent(ctx context.Context, env contracts.EventEnvelope) error {
	return f(ctx, env)
}

func TestConsumerWorkerDeadLettersUnhandledMessages(t *testing.T) {
	t.Parallel()
	good, _ := json.Marshal(contracts.EventEnvelope{EventID: "ev-1", EventType: domain.InboundConsentSigned, TraceID: "tr-1"})
	unknown, _ := json.Marshal(contracts.EventEnvelope{EventID: "ev-2", EventType: "billing.invoice_paid", TraceID: "tr-2"})
	consumer := &staticConsumer{msgs: []Message{
		{Topic: "consent.events", Key: "e-1", Payload: good},
		{Topic: "billing.events", Key: "e-1", Payload: unknown},
		{Topic: "billing.events", Key: "e-2", Payload: []byte("{not json")},
	}}
	var seen []string
	handler := handlerFunc(func(_ context.Context, env contracts.EventEnvelope) error {
		seen = append(seen, env.EventID)
		if env.EventType != domain.InboundConsentSigned {
			return domain.ErrUnsupportedEventType
		}
		return nil
	})
	dlq := &flakyPublisher{}
	worker := NewConsumerWorker(discard, consumer, handler, dlq, time.Second)

	handled, err := worker.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, []string{"ev-1", "ev-2"}, seen)
	require.Len(t, dlq.dlq, 2)
	assert.Equal(t, "billing.events", dlq.dlq[0].SourceTopic)
	assert.Equal(t, "tr-2", dlq.dlq[0].TraceID)
	assert.Equal(t, "e-2", dlq.dlq[1].OriginalEvent.PartitionKey)
}

func TestTopicFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "clinic.episodes", TopicFor(DefaultTopics, domain.EventEpisodeStageChanged))
	assert.Equal(t, "custom.event", TopicFor(DefaultTopics, "custom.event"))
}

func TestKafkaConsumerConfigDefaultsAndValidation(t *testing.T) {
	t.Parallel()
	base := KafkaConsumerConfig{Brokers: []string{"broker:9092"}, GroupID: "clinic", Topics: []string{"clinic.consents"}}

	cfg := base.withDefaults()
	rc, err := cfg.readerConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, rc.MinBytes)
	assert.Equal(t, 500*time.Millisecond, rc.MaxWait)
	assert.Equal(t, kafka.FirstOffset, rc.StartOffset)
	assert.Equal(t, 250*time.Millisecond, cfg.ReadTimeout)

	tuned := base
	tuned.MaxWait = 2 * time.Second
	tuned.ReadTimeout = 3 * time.Second
	tuned.StartOffset = "LATEST"
	cfg = tuned.withDefaults()
	rc, err = cfg.readerConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, rc.MaxWait)
	assert.Equal(t, kafka.LastOffset, rc.StartOffset)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)

	for name, broken := range map[string]KafkaConsumerConfig{
		"no brokers":   {GroupID: "clinic", Topics: []string{"t"}},
		"blank group":  {Brokers: []string{"b"}, GroupID: "  ", Topics: []string{"t"}},
		"no topics":    {Brokers: []string{"b"}, GroupID: "clinic"},
		"bad offset":   {Brokers: []string{"b"}, GroupID: "clinic", Topics: []string{"t"}, StartOffset: "middle"},
		"inverted min": {Brokers: []string{"b"}, GroupID: "clinic", Topics: []string{"t"}, MinBytes: 2048, MaxBytes: 1024},
	} {
		_, err := NewKafkaConsumer(broken)
		assert.Error(t, err, name)
	}
}
