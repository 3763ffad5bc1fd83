package models

import "time"

// Event types
const (
	EventTypeReactionReward = "REACTION_REWARD"
	EventTypeCoinGranted    = "COIN_GRANTED"
	EventTypeItemPurchased  = "ITEM_PURCHASED"
	EventTypeItemConsumed   = "ITEM_CONSUMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ReactionRewardEvent is published by the chat-platform adapter when a
// privileged member reacts to a message. The platform may redeliver it;
// MessageRef is the external event reference used for deduplication.
type ReactionRewardEvent struct {
	BaseEvent
	ExternalID string    `json:"external_id"`
	Amount     int64     `json:"amount"`
	MessageRef string    `json:"message_ref"`
	At         time.Time `json:"at"`
}

// CoinGrantedEvent published after a reward is committed to the ledger
type CoinGrantedEvent struct {
	BaseEvent
	IdentityID int64  `json:"identity_id"`
	EntryID    int64  `json:"entry_id"`
	Amount     int64  `json:"amount"`
	EventRef   string `json:"event_ref,omitempty"`
}

// ItemPurchasedEvent published after a buy commits
type ItemPurchasedEvent struct {
	BaseEvent
	IdentityID int64 `json:"identity_id"`
	ItemID     int64 `json:"item_id"`
	Cost       int64 `json:"cost"`
	EntryID    int64 `json:"entry_id"`
}

// ItemConsumedEvent published after an item is used
type ItemConsumedEvent struct {
	BaseEvent
	IdentityID int64 `json:"identity_id"`
	ItemID     int64 `json:"item_id"`
}
