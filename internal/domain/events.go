package domain

import "strconv"

type EventKind string

const (
	EventAgentRegistered   EventKind = "AgentRegistered"
	EventAgentUpdated      EventKind = "AgentUpdated"
	EventQuerySubmitted    EventKind = "QuerySubmitted"
	EventResponseSubmitted EventKind = "ResponseSubmitted"
	EventStakeWithdrawn    EventKind = "StakeWithdrawn"
)

// Event is a registry notification. Topics are the indexed fields subscribers
// filter on, rendered as "agent:<id>", "owner:<identity>", "user:<identity>"
// and "interaction:<id>".
type Event interface {
	Kind() EventKind
	Topics() []string
}

type AgentRegistered struct {
	AgentID       AgentID  `json:"agent_id"`
	Owner         Identity `json:"owner"`
	PricePerQuery Amount   `json:"price_per_query"`
	StakeAmount   Amount   `json:"stake_amount"`
}

func (AgentRegistered) Kind() EventKind { return EventAgentRegistered }

func (e AgentRegistered) Topics() []string {
	return []string{AgentTopic(e.AgentID), OwnerTopic(e.Owner)}
}

type AgentUpdated struct {
	AgentID AgentID  `json:"agent_id"`
	Owner   Identity `json:"owner"`
}

func (AgentUpdated) Kind() EventKind { return EventAgentUpdated }

func (e AgentUpdated) Topics() []string {
	return []string{AgentTopic(e.AgentID), OwnerTopic(e.Owner)}
}

type QuerySubmitted struct {
	InteractionID InteractionID `json:"interaction_id"`
	AgentID       AgentID       `json:"agent_id"`
	User          Identity      `json:"user"`
	FeePaid       Amount        `json:"fee_paid"`
	PlatformFee   Amount        `json:"platform_fee"`
	AgentFee      Amount        `json:"agent_fee"`
	// Forwarded is false when the agent fee transfer failed and the platform
	// kept the amount.
	Forwarded bool `json:"forwarded"`
}

func (QuerySubmitted) Kind() EventKind { return EventQuerySubmitted }

func (e QuerySubmitted) Topics() []string {
	return []string{InteractionTopic(e.InteractionID), AgentTopic(e.AgentID), UserTopic(e.User)}
}

type ResponseSubmitted struct {
	InteractionID InteractionID `json:"interaction_id"`
	AgentID       AgentID       `json:"agent_id"`
	User          Identity      `json:"user"`
}

func (ResponseSubmitted) Kind() EventKind { return EventResponseSubmitted }

func (e ResponseSubmitted) Topics() []string {
	return []string{InteractionTopic(e.InteractionID), AgentTopic(e.AgentID), UserTopic(e.User)}
}

type StakeWithdrawn struct {
	AgentID   AgentID  `json:"agent_id"`
	Owner     Identity `json:"owner"`
	Refunded  Amount   `json:"refunded"`
	Forwarded bool     `json:"forwarded"`
}

func (StakeWithdrawn) Kind() EventKind { return EventStakeWithdrawn }

func (e StakeWithdrawn) Topics() []string {
	return []string{AgentTopic(e.AgentID), OwnerTopic(e.Owner)}
}

func AgentTopic(id AgentID) string {
	return "agent:" + strconv.FormatUint(uint64(id), 10)
}

func InteractionTopic(id InteractionID) string {
	return "interaction:" + strconv.FormatUint(uint64(id), 10)
}

func OwnerTopic(owner Identity) string {
	return "owner:" + string(owner)
}

func UserTopic(user Identity) string {
	return "user:" + string(user)
}
