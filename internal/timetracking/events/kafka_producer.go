// Package events publishes audit events for time entry mutations to
// Kafka. Publishing is fire-and-forget: the service enqueues after
// commit and never blocks or fails a request on audit delivery.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var jsonMarshal = json.Marshal

type Action string

const (
	EntryCreated Action = "entry_created"
	EntryUpdated Action = "entry_updated"
	EntryDeleted Action = "entry_deleted"
)

// Event is one audit record. Before/After carry entry snapshots; either
// may be nil depending on the action.
type Event struct {
	Action     Action
	EntryID    uuid.UUID
	ActorID    uuid.UUID
	Before     *models.TimeEntry
	After      *models.TimeEntry
	OccurredAt time.Time
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer    KafkaWriter
	events    chan Event
	logger    *zap.Logger
	closeChan chan struct{}
}

func NewProducer(brokers []string, logger *zap.Logger, topic string) (*Producer, error) {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	topicConfigs := []kafka.TopicConfig{
		{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		},
	}

	err = conn.CreateTopics(topicConfigs...)
	if err != nil {
		logger.Warn("failed to create topic (may already exist)", zap.Error(err))
	}
	p := &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
			Topic:    topic,
		},
		events:    make(chan Event, 1000),
		logger:    logger.Named("audit_producer"),
		closeChan: make(chan struct{}),
	}

	go p.eventLoop()
	return p, nil
}

// LogCreate records a newly created entry.
func (p *Producer) LogCreate(after *models.TimeEntry, actorID uuid.UUID) {
	p.enqueue(Event{Action: EntryCreated, EntryID: after.ID, ActorID: actorID, After: after})
}

// LogUpdate records a mutation with its before and after snapshots.
func (p *Producer) LogUpdate(before, after *models.TimeEntry, actorID uuid.UUID) {
	p.enqueue(Event{Action: EntryUpdated, EntryID: after.ID, ActorID: actorID, Before: before, After: after})
}

// LogDelete records a soft delete; After is left empty.
func (p *Producer) LogDelete(before *models.TimeEntry, actorID uuid.UUID) {
	p.enqueue(Event{Action: EntryDeleted, EntryID: before.ID, ActorID: actorID, Before: before})
}

func (p *Producer) enqueue(event Event) {
	event.OccurredAt = time.Now().UTC()
	select {
	case p.events <- event:
	default:
		p.logger.Warn("audit queue full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("entry_id", event.EntryID.String()),
		)
	}
}

func (p *Producer) eventLoop() {
	for {
		select {
		case event := <-p.events:
			p.sendEvent(context.Background(), event)
		case <-p.closeChan:
			return
		}
	}
}

func (p *Producer) sendEvent(ctx context.Context, event Event) {
	value, err := jsonMarshal(event)
	if err != nil {
		p.logger.Error("failed to serialize audit event",
			zap.Error(err),
			zap.String("entry_id", event.EntryID.String()),
		)
		return
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.EntryID.String()),
		Value: value,
	})
	if err != nil {
		p.logger.Error("failed to produce audit event",
			zap.Error(err),
			zap.String("action", string(event.Action)),
			zap.String("entry_id", event.EntryID.String()),
		)
		return
	}
}

func (p *Producer) Close() {
	close(p.closeChan)
	if err := p.writer.Close(); err != nil {
		p.logger.Error("failed to close Kafka writer", zap.Error(err))
	}
}
