package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"showledger/internal/models"
	"showledger/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCreated publishes SaleCreated event
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	key := fmt.Sprintf("session-%d", event.SessionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSessionReconciled publishes SessionReconciled event
func (ep *EventPublisher) PublishSessionReconciled(ctx context.Context, event *models.SessionReconciledEvent) error {
	key := fmt.Sprintf("session-%d", event.SessionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishCompRefreshRequested publishes CompRefreshRequested event
func (ep *EventPublisher) PublishCompRefreshRequested(ctx context.Context, event *models.CompRefreshRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, "comp-refresh", event)
}

// PublishCompRefreshed publishes CompRefreshed event
func (ep *EventPublisher) PublishCompRefreshed(ctx context.Context, event *models.CompRefreshedEvent) error {
	key := fmt.Sprintf("item-%d", event.ItemID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishCompRefreshAborted publishes CompRefreshAborted event
func (ep *EventPublisher) PublishCompRefreshAborted(ctx context.Context, event *models.CompRefreshAbortedEvent) error {
	return ep.producer.PublishEvent(ctx, "comp-refresh", event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCompRefreshRequested func(context.Context, *models.CompRefreshRequestedEvent) error
	logger                 *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("event-handler")}
}

// OnCompRefreshRequested registers a handler for CompRefreshRequested events
func (eh *EventHandler) OnCompRefreshRequested(handler func(context.Context, *models.CompRefreshRequestedEvent) error) {
	eh.onCompRefreshRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCompRefreshRequested:
		if eh.onCompRefreshRequested != nil {
			var event models.CompRefreshRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CompRefreshRequested event: %w", err)
			}
			return eh.onCompRefreshRequested(ctx, &event)
		}

	default:
		// the topic also carries the events this service publishes for downstream consumers
	}

	return nil
}
