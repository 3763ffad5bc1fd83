package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"

	"coin-bank/internal/models"
)

// EventPublisher publishes committed domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCoinGranted publishes a CoinGranted event
func (ep *EventPublisher) PublishCoinGranted(ctx context.Context, event *models.CoinGrantedEvent) error {
	key := fmt.Sprintf("identity-%d", event.IdentityID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishItemPurchased publishes an ItemPurchased event
func (ep *EventPublisher) PublishItemPurchased(ctx context.Context, event *models.ItemPurchasedEvent) error {
	key := fmt.Sprintf("identity-%d", event.IdentityID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishItemConsumed publishes an ItemConsumed event
func (ep *EventPublisher) PublishItemConsumed(ctx context.Context, event *models.ItemConsumedEvent) error {
	key := fmt.Sprintf("identity-%d", event.IdentityID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes inbound platform events to registered callbacks
type EventHandler struct {
	onReactionReward func(context.Context, *models.ReactionRewardEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnReactionReward registers a handler for ReactionReward events
func (eh *EventHandler) OnReactionReward(handler func(context.Context, *models.ReactionRewardEvent) error) {
	eh.onReactionReward = handler
}

// HandleMessage routes messages to the appropriate handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeReactionReward:
		if eh.onReactionReward != nil {
			var event models.ReactionRewardEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReactionReward event: %w", err)
			}
			return eh.onReactionReward(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
