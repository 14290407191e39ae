package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/holiman/uint256"
)

// State is the full registry: dense record tables indexed by id-1, the two
// secondary indexes, custody balances and the platform configuration.
type State struct {
	Config            PlatformConfig               `json:"config"`
	NextAgentID       AgentID                      `json:"next_agent_id"`
	NextInteractionID InteractionID                `json:"next_interaction_id"`
	Agents            []Agent                      `json:"agents"`
	Interactions      []Interaction                `json:"interactions"`
	UserInteractions  map[Identity][]InteractionID `json:"user_interactions"`
	AgentInteractions map[AgentID][]InteractionID  `json:"agent_interactions"`
	Balances          map[Identity]Amount          `json:"balances"`
}

// Book reads and stages custody balances. Zero balances are not kept.
type Book interface {
	Balance(account Identity) Amount
	SetBalance(account Identity, amount Amount)
}

// ChangeSet is what a successful handler writes. Records whose id is past the
// end of their table are inserts; the rest replace existing rows.
type ChangeSet struct {
	Agents            []Agent         `json:"agents,omitempty"`
	Interactions      []Interaction   `json:"interactions,omitempty"`
	Config            *PlatformConfig `json:"config,omitempty"`
	NextAgentID       AgentID         `json:"next_agent_id"`
	NextInteractionID InteractionID   `json:"next_interaction_id"`
	// Balances holds the new absolute balance of every account the call
	// touched. A zero entry removes the account.
	Balances map[Identity]Amount `json:"balances,omitempty"`
}

func (c ChangeSet) Empty() bool {
	return len(c.Agents) == 0 && len(c.Interactions) == 0 && c.Config == nil && len(c.Balances) == 0
}

func EmptyState(config PlatformConfig) State {
	return State{
		Config:            config,
		NextAgentID:       1,
		NextInteractionID: 1,
		Agents:            []Agent{},
		Interactions:      []Interaction{},
		UserInteractions:  map[Identity][]InteractionID{},
		AgentInteractions: map[AgentID][]InteractionID{},
		Balances:          map[Identity]Amount{},
	}
}

func (s *State) Agent(id AgentID) (Agent, bool) {
	if id == 0 || int(id) > len(s.Agents) {
		return Agent{}, false
	}
	return s.Agents[id-1], true
}

func (s *State) Interaction(id InteractionID) (Interaction, bool) {
	if id == 0 || id > InteractionID(len(s.Interactions)) {
		return Interaction{}, false
	}
	return s.Interactions[id-1], true
}

func (s *State) Balance(account Identity) Amount {
	return s.Balances[account]
}

func (s *State) SetBalance(account Identity, amount Amount) {
	if amount == 0 {
		delete(s.Balances, account)
		return
	}
	if s.Balances == nil {
		s.Balances = map[Identity]Amount{}
	}
	s.Balances[account] = amount
}

// Apply writes a change set in place. Inserts must arrive in id order.
func (s *State) Apply(changes ChangeSet) error {
	for _, agent := range changes.Agents {
		switch {
		case agent.ID == 0:
			return fmt.Errorf("agent id 0 is reserved")
		case int(agent.ID) <= len(s.Agents):
			s.Agents[agent.ID-1] = agent
		case int(agent.ID) == len(s.Agents)+1:
			s.Agents = append(s.Agents, agent)
		default:
			return fmt.Errorf("agent %d inserted out of order", agent.ID)
		}
	}
	for _, interaction := range changes.Interactions {
		switch {
		case interaction.ID == 0:
			return fmt.Errorf("interaction id 0 is reserved")
		case interaction.ID <= InteractionID(len(s.Interactions)):
			s.Interactions[interaction.ID-1] = interaction
		case interaction.ID == InteractionID(len(s.Interactions)+1):
			s.Interactions = append(s.Interactions, interaction)
			s.index(interaction)
		default:
			return fmt.Errorf("interaction %d inserted out of order", interaction.ID)
		}
	}
	if changes.Config != nil {
		s.Config = *changes.Config
	}
	for account, amount := range changes.Balances {
		s.SetBalance(account, amount)
	}
	if changes.NextAgentID > s.NextAgentID {
		s.NextAgentID = changes.NextAgentID
	}
	if changes.NextInteractionID > s.NextInteractionID {
		s.NextInteractionID = changes.NextInteractionID
	}
	return nil
}

func (s *State) index(interaction Interaction) {
	if s.UserInteractions == nil {
		s.UserInteractions = map[Identity][]InteractionID{}
	}
	if s.AgentInteractions == nil {
		s.AgentInteractions = map[AgentID][]InteractionID{}
	}
	s.UserInteractions[interaction.User] = append(s.UserInteractions[interaction.User], interaction.ID)
	s.AgentInteractions[interaction.AgentID] = append(s.AgentInteractions[interaction.AgentID], interaction.ID)
}

// Normalize fills nil tables, rebuilds both indexes from the interaction
// table and repairs counters that lag behind the tables.
func (s *State) Normalize() {
	if s.Balances == nil {
		s.Balances = map[Identity]Amount{}
	}
	maps.DeleteFunc(s.Balances, func(_ Identity, amount Amount) bool { return amount == 0 })
	if s.Agents == nil {
		s.Agents = []Agent{}
	}
	if s.Interactions == nil {
		s.Interactions = []Interaction{}
	}
	s.UserInteractions = map[Identity][]InteractionID{}
	s.AgentInteractions = map[AgentID][]InteractionID{}
	for _, interaction := range s.Interactions {
		s.index(interaction)
	}
	if minAgent := AgentID(len(s.Agents) + 1); s.NextAgentID < minAgent {
		s.NextAgentID = minAgent
	}
	if minInteraction := InteractionID(len(s.Interactions) + 1); s.NextInteractionID < minInteraction {
		s.NextInteractionID = minInteraction
	}
}

func (s *State) Clone() State {
	out := State{
		Config:            s.Config,
		NextAgentID:       s.NextAgentID,
		NextInteractionID: s.NextInteractionID,
		Agents:            slices.Clone(s.Agents),
		Interactions:      make([]Interaction, len(s.Interactions)),
		UserInteractions:  make(map[Identity][]InteractionID, len(s.UserInteractions)),
		AgentInteractions: make(map[AgentID][]InteractionID, len(s.AgentInteractions)),
		Balances:          maps.Clone(s.Balances),
	}
	if out.Balances == nil {
		out.Balances = map[Identity]Amount{}
	}
	if out.Agents == nil {
		out.Agents = []Agent{}
	}
	for i, interaction := range s.Interactions {
		out.Interactions[i] = interaction.Clone()
	}
	for user, ids := range s.UserInteractions {
		out.UserInteractions[user] = slices.Clone(ids)
	}
	for agentID, ids := range s.AgentInteractions {
		out.AgentInteractions[agentID] = slices.Clone(ids)
	}
	return out
}

// Summarize counts records and totals amounts. Totals saturate at the
// largest Amount rather than wrap.
func (s *State) Summarize() Summary {
	summary := Summary{Config: s.Config}
	summary.Counts.Agents = len(s.Agents)
	summary.Counts.Interactions = len(s.Interactions)
	stake, fees := new(uint256.Int), new(uint256.Int)
	for _, agent := range s.Agents {
		if agent.Active {
			summary.Counts.ActiveAgents++
		}
		stake.Add(stake, uint256.NewInt(uint64(agent.StakeAmount)))
	}
	for _, interaction := range s.Interactions {
		switch interaction.Status {
		case StatusPending:
			summary.Counts.Pending++
		case StatusCompleted:
			summary.Counts.Completed++
		}
		fees.Add(fees, uint256.NewInt(uint64(interaction.FeePaid)))
	}
	summary.Totals.StakeHeld = saturate(stake)
	summary.Totals.FeesPaid = saturate(fees)
	return summary
}

func saturate(total *uint256.Int) Amount {
	if !total.IsUint64() {
		return Amount(math.MaxUint64)
	}
	return Amount(total.Uint64())
}
