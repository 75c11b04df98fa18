package notification

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return nil
}

func TestAMQPNotifierPublishesPersistentJSON(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewAMQPNotifier(pub, "novafi.events")

	err := n.Send(context.Background(), Message{
		Kind:   KindProvisioningCompleted,
		UserID: "NF-032025001",
		Data:   map[string]any{"customer_id": "cus_abc"},
	})
	require.NoError(t, err)

	assert.Equal(t, "novafi.events", pub.exchange)
	assert.Equal(t, KindProvisioningCompleted, pub.key)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.NotEmpty(t, pub.msg.MessageId)

	var decoded Message
	require.NoError(t, json.Unmarshal(pub.msg.Body, &decoded))
	assert.Equal(t, "NF-032025001", decoded.UserID)
	assert.Equal(t, "cus_abc", decoded.Data["customer_id"])
}

func TestLoggerNotifierNilSafe(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{Kind: KindKYCStatusChanged}))
}
