package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/signal"
	"github.com/jwtly10/fxbot/internal/types"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testProducer() (*Producer, map[string]*fakeWriter) {
	writers := map[string]*fakeWriter{}
	cfg := config.KafkaConfig{Enabled: true, SignalTopic: "fx-signals", StopTopic: "fx-stop-updates"}
	p := NewProducerWithWriters(cfg, func(topic string) MessageWriter {
		w := &fakeWriter{}
		writers[topic] = w
		return w
	})
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p, writers
}

func TestProducer_PublishSignal(t *testing.T) {
	p, writers := testProducer()
	ev := SignalEvent{
		Signal:       signal.TradeSignal{Symbol: "EUR_USD", Action: signal.Buy, Lot: 0.5, SL: 1.098, TP: 1.103},
		Price:        1.1,
		ModelVersion: "EUR_USD_M5_20240501_000000",
	}

	require.NoError(t, p.PublishSignal(context.Background(), ev))
	require.NoError(t, p.PublishSignal(context.Background(), ev))

	w := writers["fx-signals"]
	require.NotNil(t, w)
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "EUR_USD", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, TypeSignal, env.Type)
	_, err := uuid.Parse(env.ID)
	assert.NoError(t, err)

	var second Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &second))
	assert.NotEqual(t, env.ID, second.ID, "Every event gets its own id")

	var payload SignalEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, ev, payload)
}

func TestProducer_PublishStopUpdate(t *testing.T) {
	p, writers := testProducer()
	u := StopUpdate{Ticket: 42, Symbol: "GBP_USD", Side: types.Short, StopLoss: 1.2712, Previous: 1.2730}

	require.NoError(t, p.PublishStopUpdate(context.Background(), u))

	w := writers["fx-stop-updates"]
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "GBP_USD/42", string(w.msgs[0].Key))
	assert.Equal(t, []byte(TypeStopUpdate), w.msgs[0].Headers[0].Value)
	assert.Nil(t, writers["fx-signals"], "Writers are created per topic on first use")
}

func TestProducer_WriteError(t *testing.T) {
	p := NewProducerWithWriters(config.KafkaConfig{SignalTopic: "s"}, func(string) MessageWriter {
		return &fakeWriter{err: errors.New("broker unavailable")}
	})
	err := p.PublishSignal(context.Background(), SignalEvent{Signal: signal.TradeSignal{Symbol: "EUR_USD"}})
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestProducer_CloseClosesWriters(t *testing.T) {
	p, writers := testProducer()
	require.NoError(t, p.PublishStopUpdate(context.Background(), StopUpdate{Ticket: 1}))
	require.NoError(t, p.Close())
	assert.True(t, writers["fx-stop-updates"].closed)
}

func TestNew_DisabledLogsOnly(t *testing.T) {
	pub := New(config.KafkaConfig{Enabled: false})
	assert.IsType(t, LogPublisher{}, pub)
	assert.NoError(t, pub.PublishSignal(context.Background(), SignalEvent{}))
}
