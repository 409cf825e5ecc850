package domain

import "context"

// EventType names a ledger event.
type EventType string

const (
	EventPositionCreated                EventType = "position_created"
	EventPositionCreatedWithCollectible EventType = "position_created_with_collectible"
	EventAmountClaimed                  EventType = "amount_claimed"
	EventStakedAmountChanged            EventType = "staked_amount_changed"
	EventTokensDistributed              EventType = "tokens_distributed"
	EventReserveFundsPulled             EventType = "reserve_funds_pulled"
	EventPositionBurned                 EventType = "position_burned"
	EventPositionTransferred            EventType = "position_transferred"
	EventPaused                         EventType = "paused"
	EventUnpaused                       EventType = "unpaused"
	EventRegistryUpdated                EventType = "registry_updated"
)

// Event is emitted after a state-changing call commits. Data carries the full
// tuple needed to replay the change: amounts as decimal strings, addresses as
// checksummed hex, identifiers as uint64.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp uint64         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// EventSink receives committed events. Emit errors are logged by the caller
// and never roll back a committed call.
type EventSink interface {
	Emit(ctx context.Context, events []Event) error
}
