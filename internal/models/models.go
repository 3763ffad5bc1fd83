package models

import "time"

// Identity represents a tracked community member. ExternalID is the opaque
// id assigned by the chat platform; InternalID is ours and stable.
type Identity struct {
	InternalID int64  `db:"internal_id" json:"internal_id"`
	ExternalID string `db:"external_id" json:"external_id"`
	Balance    int64  `db:"balance" json:"balance"`
}

// LedgerEntry is one signed balance adjustment. Entries are append-only;
// the only in-place mutation is an explicit correction, which also adjusts
// the materialized balance.
type LedgerEntry struct {
	InternalID  int64     `db:"internal_id" json:"internal_id"`
	EventRef    *string   `db:"event_ref" json:"event_ref,omitempty"`
	IdentityRef int64     `db:"identity_ref" json:"identity_ref"`
	At          time.Time `db:"at" json:"at"`
	Delta       int64     `db:"delta" json:"delta"`
}

// ItemDefinition is a catalog entry. TitleNormalized is the lowercase form
// backing the case-insensitive uniqueness constraint.
type ItemDefinition struct {
	InternalID      int64  `db:"internal_id" json:"internal_id"`
	Title           string `db:"title" json:"title"`
	TitleNormalized string `db:"title_normalized" json:"-"`
	Description     string `db:"description" json:"description"`
	ImageRef        string `db:"image_ref" json:"image_ref"`
	Cost            int64  `db:"cost" json:"cost"`
}

// InventoryEntry is the owned count of one item for one identity. Absence
// of a row means a count of zero.
type InventoryEntry struct {
	ItemRef     int64 `db:"item_ref" json:"item_ref"`
	IdentityRef int64 `db:"identity_ref" json:"identity_ref"`
	Count       int64 `db:"count" json:"count"`
}
