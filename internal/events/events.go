package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/jwtly10/fxbot/internal/config"
	"github.com/jwtly10/fxbot/internal/logging"
	"github.com/jwtly10/fxbot/internal/signal"
	"github.com/jwtly10/fxbot/internal/types"
)

var log = logging.New("events")

const (
	TypeSignal     = "signal"
	TypeStopUpdate = "stop_update"
)

// Envelope wraps every published payload with a unique id so consumers can
// drop duplicates.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

type SignalEvent struct {
	Signal       signal.TradeSignal `json:"signal"`
	Price        float64            `json:"price"`
	BarTime      time.Time          `json:"bar_time"`
	ModelVersion string             `json:"model_version"`
}

// StopUpdate proposes moving the stop of an open broker position.
type StopUpdate struct {
	Ticket   int64      `json:"ticket"`
	Symbol   string     `json:"symbol"`
	Side     types.Side `json:"side"`
	StopLoss float64    `json:"stop_loss"`
	Previous float64    `json:"previous"`
}

type Publisher interface {
	PublishSignal(ctx context.Context, e SignalEvent) error
	PublishStopUpdate(ctx context.Context, u StopUpdate) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	mu        sync.Mutex
	writers   map[string]MessageWriter
	newWriter func(topic string) MessageWriter
	cfg       config.KafkaConfig
	now       func() time.Time
}

func NewProducer(cfg config.KafkaConfig) *Producer {
	return NewProducerWithWriters(cfg, func(topic string) MessageWriter {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Transport: &kafka.Transport{
				ClientID: cfg.ClientID,
			},
		}
	})
}

// NewProducerWithWriters builds a producer whose topic writers come from newWriter.
func NewProducerWithWriters(cfg config.KafkaConfig, newWriter func(topic string) MessageWriter) *Producer {
	return &Producer{
		writers:   make(map[string]MessageWriter),
		newWriter: newWriter,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (p *Producer) writer(topic string) MessageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// PublishSignal is keyed by symbol so one symbol's signals stay ordered.
func (p *Producer) PublishSignal(ctx context.Context, e SignalEvent) error {
	return p.publish(ctx, p.cfg.SignalTopic, e.Signal.Symbol, TypeSignal, e)
}

func (p *Producer) PublishStopUpdate(ctx context.Context, u StopUpdate) error {
	return p.publish(ctx, p.cfg.StopTopic, fmt.Sprintf("%s/%d", u.Symbol, u.Ticket), TypeStopUpdate, u)
}

func (p *Producer) publish(ctx context.Context, topic, key, kind string, payload any) error {
	env, err := NewEnvelope(kind, p.now(), payload)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  env.Time,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(kind)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		log.Error("Failed to publish event", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}

	log.Debug("Event published", "topic", topic, "key", key, "id", env.ID)
	return nil
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			log.Error("Failed to close kafka writer", "topic", topic, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func NewEnvelope(kind string, t time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return Envelope{ID: uuid.NewString(), Type: kind, Time: t.UTC(), Payload: raw}, nil
}

// LogPublisher only logs events. Used when kafka is disabled.
type LogPublisher struct{}

func (LogPublisher) PublishSignal(_ context.Context, e SignalEvent) error {
	log.Warn("Kafka disabled, signal not published", "symbol", e.Signal.Symbol, "action", e.Signal.Action, "lot", e.Signal.Lot)
	return nil
}

func (LogPublisher) PublishStopUpdate(_ context.Context, u StopUpdate) error {
	log.Warn("Kafka disabled, stop update not published", "ticket", u.Ticket, "stop_loss", u.StopLoss)
	return nil
}

func (LogPublisher) Close() error {
	return nil
}

// New returns a kafka producer when kafka is enabled and a LogPublisher otherwise.
func New(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled {
		return LogPublisher{}
	}
	return NewProducer(cfg)
}
