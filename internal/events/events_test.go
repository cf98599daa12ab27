package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	key    string
	msgs   []amqp.Publishing
	err    error
	closed bool
}

func (s *stubChannel) PublishWithContext(_ context.Context, _ string, key string, _, _ bool, msg amqp.Publishing) error {
	if s.err != nil {
		return s.err
	}
	s.key = key
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *stubChannel) Close() error {
	s.closed = true
	return nil
}

func TestNewEventHasIdentity(t *testing.T) {
	t.Parallel()

	event := New(TypeActionDispatched)
	_, err := uuid.Parse(event.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeActionDispatched, event.Type)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestRabbitMQPublisherPublishesJSON(t *testing.T) {
	t.Parallel()

	ch := &stubChannel{}
	pub := &RabbitMQPublisher{ch: ch, queue: "crabdao.activity", durable: true}

	event := New(TypeActionDispatched)
	event.Action = "POST_UPDATE"
	event.Status = "executed"
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, ch.msgs, 1)
	msg := ch.msgs[0]
	assert.Equal(t, "crabdao.activity", ch.key)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, event.ID, msg.MessageId)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "executed", decoded.Status)

	require.NoError(t, pub.Close())
	assert.True(t, ch.closed)
}

func TestRabbitMQPublisherErrors(t *testing.T) {
	t.Parallel()

	pub := &RabbitMQPublisher{ch: &stubChannel{err: errors.New("channel closed")}, queue: "q"}
	require.ErrorContains(t, pub.Publish(context.Background(), New(TypeCycleCompleted)), "channel closed")

	var nilPub *RabbitMQPublisher
	require.Error(t, nilPub.Publish(context.Background(), Event{}))

	_, err := NewRabbitMQPublisher(RabbitMQConfig{})
	require.Error(t, err)
}

func TestMemoryPublisherRecords(t *testing.T) {
	t.Parallel()

	var pub MemoryPublisher
	require.NoError(t, pub.Publish(context.Background(), New(TypeMentionReplied)))
	require.NoError(t, NopPublisher{}.Publish(context.Background(), New(TypeMentionReplied)))
	assert.Len(t, pub.Events(), 1)
}

func TestCycleIDRoundTrip(t *testing.T) {
	t.Parallel()

	assert.Empty(t, CycleID(context.Background()))
	ctx := WithCycleID(context.Background(), "cycle-1")
	assert.Equal(t, "cycle-1", CycleID(ctx))
}
