package worker

import (
	"context"
	"fmt"
	"log"

	"coin-bank/internal/broker"
	"coin-bank/internal/models"
	"coin-bank/internal/service"
)

// RewardWorker turns reaction events from the chat-platform adapter into
// ledger credits. The platform may redeliver events; the service's
// event_ref deduplication makes repeats harmless.
type RewardWorker struct {
	consumer      *broker.Consumer
	eventHandler  *broker.EventHandler
	bank          *service.BankService
	defaultAmount int64
}

// NewRewardWorker creates a new reward worker. defaultAmount is credited
// when a reaction event carries no explicit amount.
func NewRewardWorker(consumer *broker.Consumer, bank *service.BankService, defaultAmount int64) *RewardWorker {
	w := &RewardWorker{
		consumer:      consumer,
		bank:          bank,
		defaultAmount: defaultAmount,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnReactionReward(w.handleReactionReward)
	w.eventHandler = eventHandler

	return w
}

func (w *RewardWorker) handleReactionReward(ctx context.Context, event *models.ReactionRewardEvent) error {
	if event.MessageRef == "" {
		return fmt.Errorf("reaction reward without message reference: %s", event.EventID)
	}

	// The rewarded member may never have run a command before; reaction
	// grants register them on first contact.
	reg, err := w.bank.Register(ctx, event.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to resolve identity %s: %w", event.ExternalID, err)
	}

	amount := event.Amount
	if amount <= 0 {
		amount = w.defaultAmount
	}

	_, err = w.bank.Reward(ctx, reg.InternalID, amount, event.MessageRef, event.At)
	if err != nil {
		return fmt.Errorf("failed to apply reaction reward: %w", err)
	}
	return nil
}

// Start starts the worker
func (w *RewardWorker) Start(ctx context.Context) error {
	log.Println("Starting reward worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RewardWorker) Stop() error {
	log.Println("Stopping reward worker...")
	return w.consumer.Close()
}
