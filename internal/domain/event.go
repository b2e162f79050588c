package domain

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the operation that produced an event.
type EventKind string

const (
	EventInitialize          EventKind = "initialize"
	EventStake               EventKind = "stake"
	EventUnstake             EventKind = "unstake"
	EventWithdraw            EventKind = "withdraw"
	EventChangeAdmin         EventKind = "change_admin"
	EventSetUpgradeAuthority EventKind = "set_upgrade_authority"
	EventCreateMetadata      EventKind = "create_metadata"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventInitialize, EventStake, EventUnstake, EventWithdraw,
		EventChangeAdmin, EventSetUpgradeAuthority, EventCreateMetadata:
		return true
	}
	return false
}

// EventPayload is the operation-specific body of an Event.
type EventPayload interface {
	Kind() EventKind
}

// InitializeEvent is emitted once per pool.
type InitializeEvent struct {
	Admin    Pubkey `json:"admin"`
	Treasury Pubkey `json:"treasury"`
	Mint     Pubkey `json:"mint"`
}

// StakeEvent is emitted on every successful stake.
type StakeEvent struct {
	User   Pubkey `json:"user"`
	Amount uint64 `json:"amount"`
}

// UnstakeEvent is emitted on every successful unstake.
type UnstakeEvent struct {
	User   Pubkey `json:"user"`
	Amount uint64 `json:"amount"`
}

// WithdrawEvent is emitted on every successful admin withdrawal.
type WithdrawEvent struct {
	Admin  Pubkey `json:"admin"`
	Amount uint64 `json:"amount"`
}

// ChangeAdminEvent carries the old and new admin.
type ChangeAdminEvent struct {
	OldAdmin Pubkey `json:"old_admin"`
	NewAdmin Pubkey `json:"new_admin"`
}

// SetUpgradeAuthorityEvent carries the old and new upgrade authority.
type SetUpgradeAuthorityEvent struct {
	OldAuthority Pubkey `json:"old_authority"`
	NewAuthority Pubkey `json:"new_authority"`
}

// CreateMetadataEvent is emitted when metadata is attached to the receipt-token.
type CreateMetadataEvent struct {
	Mint     Pubkey `json:"mint"`
	Metadata Pubkey `json:"metadata"`
}

func (InitializeEvent) Kind() EventKind          { return EventInitialize }
func (StakeEvent) Kind() EventKind               { return EventStake }
func (UnstakeEvent) Kind() EventKind             { return EventUnstake }
func (WithdrawEvent) Kind() EventKind            { return EventWithdraw }
func (ChangeAdminEvent) Kind() EventKind         { return EventChangeAdmin }
func (SetUpgradeAuthorityEvent) Kind() EventKind { return EventSetUpgradeAuthority }
func (CreateMetadataEvent) Kind() EventKind      { return EventCreateMetadata }

// Event is one entry of a pool's append-only event log.
// Corresponds to pool_events table in PostgreSQL.
type Event struct {
	ID        string       // uuid, assigned by the engine
	Pool      Pubkey       // pool the operation targeted
	Seq       uint64       // per-pool sequence, assigned by the event log (starts at 1)
	Kind      EventKind    // operation
	Timestamp int64        // unix seconds of the committing call
	Payload   EventPayload // operation-specific body
}

// eventJSON is the wire form of Event.
type eventJSON struct {
	ID        string          `json:"id"`
	Pool      Pubkey          `json:"pool"`
	Seq       uint64          `json:"seq"`
	Kind      EventKind       `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Pool:      e.Pool,
		Seq:       e.Seq,
		Kind:      e.Kind,
		Timestamp: e.Timestamp,
		Payload:   payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:        raw.ID,
		Pool:      raw.Pool,
		Seq:       raw.Seq,
		Kind:      raw.Kind,
		Timestamp: raw.Timestamp,
		Payload:   payload,
	}
	return nil
}

// DecodePayload decodes a JSON payload for the given kind.
func DecodePayload(kind EventKind, data []byte) (EventPayload, error) {
	var p EventPayload
	switch kind {
	case EventInitialize:
		p = &InitializeEvent{}
	case EventStake:
		p = &StakeEvent{}
	case EventUnstake:
		p = &UnstakeEvent{}
	case EventWithdraw:
		p = &WithdrawEvent{}
	case EventChangeAdmin:
		p = &ChangeAdminEvent{}
	case EventSetUpgradeAuthority:
		p = &SetUpgradeAuthorityEvent{}
	case EventCreateMetadata:
		p = &CreateMetadataEvent{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return deref(p), nil
}

// deref returns payloads by value so decoded events compare equal to emitted ones.
func deref(p EventPayload) EventPayload {
	switch v := p.(type) {
	case *InitializeEvent:
		return *v
	case *StakeEvent:
		return *v
	case *UnstakeEvent:
		return *v
	case *WithdrawEvent:
		return *v
	case *ChangeAdminEvent:
		return *v
	case *SetUpgradeAuthorityEvent:
		return *v
	case *CreateMetadataEvent:
		return *v
	}
	return p
}
