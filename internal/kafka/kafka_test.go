package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/asset-lifecycle/internal/broker"
)

type fakeWriter struct {
	err  error
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeCommitter struct{ committed []kafka.Message }

func (c *fakeCommitter) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	c.committed = append(c.committed, msgs...)
	return nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := toMessage(broker.Message{
		ID:         "01J0000000000000000000000A",
		Key:        "42",
		RoutingKey: "asset.checked.out",
		Type:       "AssetCheckedOut",
		Body:       []byte(`{"eventId":"01J0000000000000000000000A"}`),
		Timestamp:  ts,
	})

	assert.Equal(t, []byte("42"), m.Key)
	assert.Equal(t, `{"eventId":"01J0000000000000000000000A"}`, string(m.Value))
	assert.Equal(t, ts, m.Time)
	assert.Equal(t, "01J0000000000000000000000A", header(m, HeaderEventID))
	assert.Equal(t, "AssetCheckedOut", header(m, HeaderEventType))
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w}

	require.NoError(t, p.Publish(context.Background(), broker.Message{ID: "e1", Key: "1"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "e1", header(w.msgs[0], HeaderEventID))

	w.err = errors.New("leader not available")
	err := p.Publish(context.Background(), broker.Message{ID: "e2", Key: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrDelivery)
	assert.Contains(t, err.Error(), "e2")
}

func TestDeliveryCommitsOnAckAndReject(t *testing.T) {
	c := &fakeCommitter{}
	msg := kafka.Message{Partition: 3, Offset: 17, Value: []byte("body")}
	d := &delivery{r: c, m: msg}

	assert.Equal(t, 3, d.Partition())
	assert.Equal(t, []byte("body"), d.Body())

	require.NoError(t, d.Ack(context.Background()))
	require.NoError(t, d.Reject(context.Background()))
	require.Len(t, c.committed, 2)
	assert.Equal(t, int64(17), c.committed[0].Offset)
	assert.Equal(t, int64(17), c.committed[1].Offset)
}
