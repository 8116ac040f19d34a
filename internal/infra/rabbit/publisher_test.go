package rabbit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"interactive-report-service/internal/domain"
)

type fakeChannel struct {
	declared  []string
	exchanges []string
	keys      []string
	messages  []amqp.Publishing
	closed    bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	c.declared = append(c.declared, name+"/"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchanges = append(c.exchanges, exchange)
	c.keys = append(c.keys, key)
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublishVote(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "")
	require.NoError(t, err)
	require.Equal(t, []string{DefaultExchange + "/topic"}, ch.declared)

	ts := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	err = p.PublishVote(context.Background(), domain.VoteEvent{
		QuestionID:   "q1",
		QuestionType: domain.TypeGuess,
		UserID:       "u1",
		Value:        domain.NumberValue(41),
		Timestamp:    ts,
	})
	require.NoError(t, err)
	require.Equal(t, []string{VoteFinalizedRoutingKey}, ch.keys)
	require.Equal(t, []string{DefaultExchange}, ch.exchanges)

	msg := ch.messages[0]
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	require.Equal(t, "q1", body["questionId"])
	require.Equal(t, float64(41), body["value"])

	require.NoError(t, p.Close())
	require.True(t, ch.closed)
}
