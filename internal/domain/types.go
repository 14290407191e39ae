package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type (
	AgentID       uint32
	InteractionID uint64
	// Identity is an account address as reported by the host.
	Identity string
	// Timestamp is host time in milliseconds since the Unix epoch.
	Timestamp uint64
)

// Amount is a balance in base units. It encodes to JSON as a decimal string so
// values above 2^53 survive structpb and browser round trips.
type Amount uint64

func ParseAmount(raw string) (Amount, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return Amount(value), nil
}

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	if text == "null" || text == `""` {
		*a = 0
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var quoted string
		if err := json.Unmarshal(raw, &quoted); err != nil {
			return err
		}
		text = quoted
	}
	// structpb carries numbers as float64; accept integral floats like "7e+00".
	if strings.ContainsAny(text, ".eE") {
		value, err := strconv.ParseFloat(text, 64)
		if err != nil || value < 0 || value != float64(uint64(value)) {
			return fmt.Errorf("invalid amount %s", text)
		}
		*a = Amount(uint64(value))
		return nil
	}
	parsed, err := ParseAmount(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

type AgentCategory string

const (
	CategoryChatbot        AgentCategory = "chatbot"
	CategoryTranslation    AgentCategory = "translation"
	CategorySentiment      AgentCategory = "sentiment"
	CategorySummarization  AgentCategory = "summarization"
	CategoryJobApplication AgentCategory = "job_application"
)

var validCategories = map[AgentCategory]struct{}{
	CategoryChatbot:        {},
	CategoryTranslation:    {},
	CategorySentiment:      {},
	CategorySummarization:  {},
	CategoryJobApplication: {},
}

// ParseCategory accepts the canonical snake_case names as well as the
// CamelCase spelling used by the on-chain enum.
func ParseCategory(raw string) (AgentCategory, error) {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "jobapplication" {
		clean = string(CategoryJobApplication)
	}
	category := AgentCategory(clean)
	if _, ok := validCategories[category]; !ok {
		return "", InvalidArgument("category must be one of: chatbot, translation, sentiment, summarization, job_application")
	}
	return category, nil
}

type AgentMetadata struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Category    AgentCategory `json:"category"`
	ModelInfo   string        `json:"model_info"`
}

type Agent struct {
	ID            AgentID       `json:"agent_id"`
	Owner         Identity      `json:"owner"`
	Metadata      AgentMetadata `json:"metadata"`
	PricePerQuery Amount        `json:"price_per_query"`
	StakeAmount   Amount        `json:"stake_amount"`
	Active        bool          `json:"active"`
	CreatedAt     Timestamp     `json:"created_at"`
}

type InteractionStatus string

const (
	StatusPending   InteractionStatus = "pending"
	StatusCompleted InteractionStatus = "completed"
	// StatusFailed is part of the status set but no operation produces it.
	StatusFailed InteractionStatus = "failed"
)

type Interaction struct {
	ID        InteractionID `json:"interaction_id"`
	AgentID   AgentID       `json:"agent_id"`
	User      Identity      `json:"user"`
	QueryData []byte        `json:"query_data"`
	// ResponseData is nil until the agent owner submits a response.
	ResponseData []byte            `json:"response_data"`
	Timestamp    Timestamp         `json:"timestamp"`
	Status       InteractionStatus `json:"status"`
	FeePaid      Amount            `json:"fee_paid"`
}

func (i Interaction) HasResponse() bool {
	return i.ResponseData != nil
}

func (i Interaction) Clone() Interaction {
	out := i
	out.QueryData = cloneBytes(i.QueryData)
	out.ResponseData = cloneBytes(i.ResponseData)
	return out
}

type PlatformConfig struct {
	Owner         Identity `json:"owner"`
	FeePercentage uint8    `json:"fee_percentage"`
}

type AgentFilter struct {
	Category   AgentCategory `json:"category"`
	Owner      Identity      `json:"owner"`
	ActiveOnly bool          `json:"active_only"`
}

func (f AgentFilter) Matches(agent Agent) bool {
	if f.Category != "" && agent.Metadata.Category != f.Category {
		return false
	}
	if f.Owner != "" && agent.Owner != f.Owner {
		return false
	}
	if f.ActiveOnly && !agent.Active {
		return false
	}
	return true
}

type Summary struct {
	Counts struct {
		Agents       int `json:"agents"`
		ActiveAgents int `json:"active_agents"`
		Interactions int `json:"interactions"`
		Pending      int `json:"pending"`
		Completed    int `json:"completed"`
	} `json:"counts"`
	Totals struct {
		FeesPaid  Amount `json:"fees_paid"`
		StakeHeld Amount `json:"stake_held"`
	} `json:"totals"`
	Config PlatformConfig `json:"config"`
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
