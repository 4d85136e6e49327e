package models

import "encoding/json"

// Message types exchanged with the referral socket server.
const (
	MessageSubscribe      = "subscribe"
	MessageUnsubscribe    = "unsubscribe"
	MessageHeartbeat      = "heartbeat"
	MessageReferralUpdate = "referral_update"
	MessageError          = "error"
)

// SubscriptionEvents are the event kinds requested on subscribe.
var SubscriptionEvents = []string{"balance_change", "depth_change", "status_change", "new_referral"}

// ClientMessage is the client -> server envelope
type ClientMessage struct {
	Type string            `json:"type"`
	Data *SubscriptionData `json:"data,omitempty"`
	Time int64             `json:"timestamp,omitempty"`
}

// SubscriptionData names the address and events of a subscription.
type SubscriptionData struct {
	Address string   `json:"address"`
	Events  []string `json:"events"`
}

// ServerMessage is the server -> client envelope
type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// ReferralUpdate is the payload of a referral_update message. Only fields
// present in the event are applied. Balance is kept raw since servers send
// it either as a JSON number or as a decimal string.
type ReferralUpdate struct {
	Address string          `json:"address"`
	Balance json.RawMessage `json:"balance,omitempty"`
	Depth   *int64          `json:"depth,omitempty"`
	Status  *string         `json:"status,omitempty"` // "balanced" | "unbalanced"
}
