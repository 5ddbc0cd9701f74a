package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FlowState is a stage of the quote, assemble and submit lifecycle.
type FlowState string

const (
	FlowBuilt          FlowState = "built"
	FlowQuoteRequested FlowState = "quote_requested"
	FlowQuoteReceived  FlowState = "quote_received"
	FlowValidated      FlowState = "validated"
	FlowRejected       FlowState = "rejected"
	FlowAssembled      FlowState = "assembled"
	FlowSubmitted      FlowState = "submitted"
	FlowSettled        FlowState = "settled"
	FlowExpired        FlowState = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s FlowState) Terminal() bool {
	switch s {
	case FlowRejected, FlowSettled, FlowExpired:
		return true
	}
	return false
}

// FlowRecord is the persisted view of one match flow.
type FlowRecord struct {
	ID           uuid.UUID           `json:"id"`
	ClientID     string              `json:"client_id"`
	State        FlowState           `json:"state"`
	Order        ExternalOrder       `json:"order"`
	SignedQuote  *SignedQuote        `json:"signed_quote,omitempty"`
	Bundle       *Bundle             `json:"bundle,omitempty"`
	Sponsorship  *GasSponsorshipInfo `json:"gas_sponsorship_info,omitempty"`
	TxHash       string              `json:"tx_hash,omitempty"`
	RejectReason string              `json:"reject_reason,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

// FlowTransition is emitted whenever a flow changes state.
type FlowTransition struct {
	FlowID   uuid.UUID `json:"flow_id"`
	ClientID string    `json:"client_id"`
	From     FlowState `json:"from"`
	To       FlowState `json:"to"`
	Reason   string    `json:"reason,omitempty"`
	TxHash   string    `json:"tx_hash,omitempty"`
	At       time.Time `json:"at"`
}

// Envelope wraps every event published to the bus.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	ClientID      string          `json:"client_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}
