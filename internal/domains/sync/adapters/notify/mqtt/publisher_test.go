package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

type doneToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool {
	<-t.done
	return true
}

func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes; other client methods are not used by the publisher.
type fakeClient struct {
	paho.Client
	messages []published
	err      error
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newDoneToken(c.err)
}

func failedEvent() ports.CycleEvent {
	return ports.CycleEvent{
		CycleID: "c1",
		Entity:  "lot_result",
		Status:  domain.StatusFailed,
		Trigger: domain.TriggerScheduled,
		Day:     "2024-01-15",
		Error:   "source unavailable",
	}
}

func TestPublisher_PublishesJSONOnStatusTopic(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "/plant-a/")

	require.NoError(t, p.Publish(context.Background(), failedEvent()))
	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "plant-a/cycles/lot_result/failed", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var decoded ports.CycleEvent
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "c1", decoded.CycleID)
	assert.Equal(t, "source unavailable", decoded.Error)
}

func TestPublisher_DefaultPrefix(t *testing.T) {
	p := NewPublisher(&fakeClient{}, "")
	assert.Equal(t, "mfgsync/cycles/lot_result/failed", p.Topic(failedEvent()))
}

func TestPublisher_FailuresOnly(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "", WithFailuresOnly())

	ok := failedEvent()
	ok.Status = domain.StatusSucceeded
	require.NoError(t, p.Publish(context.Background(), ok))
	assert.Empty(t, client.messages)

	partial := failedEvent()
	partial.Status = domain.StatusPartial
	require.NoError(t, p.Publish(context.Background(), partial))
	assert.Len(t, client.messages, 1)
}

func TestPublisher_ReturnsBrokerError(t *testing.T) {
	brokerErr := errors.New("not authorized")
	p := NewPublisher(&fakeClient{err: brokerErr}, "")
	err := p.Publish(context.Background(), failedEvent())
	assert.ErrorIs(t, err, brokerErr)
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Publish(context.Background(), failedEvent()))
}
