// Package events publishes committed state changes as JSON records to
// Kafka. Events are written after the store has accepted a change; they are
// an audit feed for downstream consumers, not a source of truth.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeUserCreated      = "user_created"
	TypeBetCreated       = "bet_created"
	TypeStakePlaced      = "stake_placed"
	TypeBetResolved      = "bet_resolved"
	TypeBetDeleted       = "bet_deleted"
	TypePayoutCredited   = "payout_credited"
	TypeDailyBonus       = "daily_bonus_credited"
	TypePeriodRolledOver = "period_rolled_over"
	TypePrizeChanged     = "prize_changed"
)

// Event is one committed change. Key is the entity id used for partitioning
// so every event of one bet lands on the same partition.
type Event struct {
	Type     string         `json:"type"`
	Key      string         `json:"key"`
	BetID    string         `json:"bet_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	OptionID int            `json:"option_id,omitempty"`
	Amount   int64          `json:"amount,omitempty"`
	Period   string         `json:"period,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	TsUnixMs int64          `json:"ts_unix_ms"`
}

// Publisher writes events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NewWriter returns a kafka writer for topic. Messages with the same key
// go to the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publishes events as JSON messages.
type KafkaPublisher struct {
	w   messageWriter
	now func() time.Time
}

// NewKafkaPublisher wraps a kafka writer.
func NewKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	now := p.now()
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if e.TsUnixMs == 0 {
			e.TsUnixMs = now.UnixMilli()
		}
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Key),
			Value: b,
			Time:  now,
		})
	}
	return p.w.WriteMessages(ctx, msgs...)
}

// Logging publishes to a logger only. Used when no brokers are configured.
type Logging struct {
	Log *zap.Logger
}

func (l Logging) Publish(_ context.Context, events ...Event) error {
	for _, e := range events {
		l.Log.Debug("event",
			zap.String("type", e.Type),
			zap.String("key", e.Key),
			zap.Int64("amount", e.Amount),
		)
	}
	return nil
}
