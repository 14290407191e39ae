package registry

import (
	"maps"
	"math"

	"github.com/gaganv007/polkaagents/internal/domain"
)

// txn stages writes over the committed state. Nothing in base is touched
// until the registry commits the resulting change set.
type txn struct {
	base *domain.State

	agents       map[domain.AgentID]domain.Agent
	agentOrder   []domain.AgentID
	interactions map[domain.InteractionID]domain.Interaction
	order        []domain.InteractionID
	config       *domain.PlatformConfig
	balances     map[domain.Identity]domain.Amount

	nextAgentID       domain.AgentID
	nextInteractionID domain.InteractionID

	events []domain.Event
}

func newTxn(base *domain.State) *txn {
	return &txn{
		base:              base,
		agents:            map[domain.AgentID]domain.Agent{},
		interactions:      map[domain.InteractionID]domain.Interaction{},
		balances:          map[domain.Identity]domain.Amount{},
		nextAgentID:       base.NextAgentID,
		nextInteractionID: base.NextInteractionID,
	}
}

func (t *txn) agent(id domain.AgentID) (domain.Agent, bool) {
	if staged, ok := t.agents[id]; ok {
		return staged, true
	}
	return t.base.Agent(id)
}

func (t *txn) interaction(id domain.InteractionID) (domain.Interaction, bool) {
	if staged, ok := t.interactions[id]; ok {
		return staged, true
	}
	return t.base.Interaction(id)
}

func (t *txn) platformConfig() domain.PlatformConfig {
	if t.config != nil {
		return *t.config
	}
	return t.base.Config
}

func (t *txn) allocateAgentID() (domain.AgentID, error) {
	id := t.nextAgentID
	if id == math.MaxUint32 {
		return 0, domain.FailedPrecondition("agent id space exhausted")
	}
	t.nextAgentID++
	return id, nil
}

// Balance and SetBalance make the transaction the ledger's domain.Book.
func (t *txn) Balance(account domain.Identity) domain.Amount {
	if staged, ok := t.balances[account]; ok {
		return staged
	}
	return t.base.Balance(account)
}

func (t *txn) SetBalance(account domain.Identity, amount domain.Amount) {
	t.balances[account] = amount
}

// Interaction ids stay within int64 so every store can hold the counter in
// a signed BIGINT column.
func (t *txn) allocateInteractionID() (domain.InteractionID, error) {
	id := t.nextInteractionID
	if id >= math.MaxInt64 {
		return 0, domain.FailedPrecondition("interaction id space exhausted")
	}
	t.nextInteractionID++
	return id, nil
}

func (t *txn) putAgent(agent domain.Agent) {
	if _, staged := t.agents[agent.ID]; !staged {
		t.agentOrder = append(t.agentOrder, agent.ID)
	}
	t.agents[agent.ID] = agent
}

func (t *txn) putInteraction(interaction domain.Interaction) {
	if _, staged := t.interactions[interaction.ID]; !staged {
		t.order = append(t.order, interaction.ID)
	}
	t.interactions[interaction.ID] = interaction
}

func (t *txn) setConfig(config domain.PlatformConfig) {
	t.config = &config
}

func (t *txn) emit(event domain.Event) {
	t.events = append(t.events, event)
}

func (t *txn) changes() domain.ChangeSet {
	out := domain.ChangeSet{
		Config:            t.config,
		NextAgentID:       t.nextAgentID,
		NextInteractionID: t.nextInteractionID,
	}
	if len(t.balances) > 0 {
		out.Balances = maps.Clone(t.balances)
	}
	for _, id := range t.agentOrder {
		out.Agents = append(out.Agents, t.agents[id])
	}
	for _, id := range t.order {
		out.Interactions = append(out.Interactions, t.interactions[id])
	}
	return out
}
