package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-bank/internal/models"
)

func TestHandleMessageRoutesReactionReward(t *testing.T) {
	handler := NewEventHandler()

	var got *models.ReactionRewardEvent
	handler.OnReactionReward(func(_ context.Context, event *models.ReactionRewardEvent) error {
		got = event
		return nil
	})

	payload, err := json.Marshal(models.ReactionRewardEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypeReactionReward,
			Timestamp: time.Now(),
		},
		ExternalID: "discord:1001",
		Amount:     15,
		MessageRef: "msg-42",
		At:         time.Now(),
	})
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: payload})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "discord:1001", got.ExternalID)
	assert.Equal(t, int64(15), got.Amount)
	assert.Equal(t, "msg-42", got.MessageRef)
}

func TestHandleMessageIgnoresUnknownTypes(t *testing.T) {
	handler := NewEventHandler()
	handler.OnReactionReward(func(context.Context, *models.ReactionRewardEvent) error {
		t.Fatal("handler should not run for unknown event types")
		return nil
	})

	payload, err := json.Marshal(models.BaseEvent{
		EventID:   "evt-2",
		EventType: "SOMETHING_ELSE",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	err = handler.HandleMessage(context.Background(), kafka.Message{Value: payload})
	assert.NoError(t, err)
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	handler := NewEventHandler()

	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}
