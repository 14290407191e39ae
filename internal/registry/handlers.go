package registry

import (
	"context"

	"github.com/gaganv007/polkaagents/internal/domain"
)

type RegisterAgentParams struct {
	Metadata      domain.AgentMetadata
	PricePerQuery domain.Amount
}

// UpdateAgentParams leaves a field untouched when its pointer is nil.
type UpdateAgentParams struct {
	AgentID       domain.AgentID
	Metadata      *domain.AgentMetadata
	PricePerQuery *domain.Amount
	Active        *bool
}

// RegisterAgent lists a new agent owned by the caller. The attached value is
// the stake.
func (r *Registry) RegisterAgent(ctx context.Context, call Call, params RegisterAgentParams) (domain.AgentID, error) {
	if call.Value < MinimumStake {
		return 0, domain.ErrInvalidStakeAmount
	}

	var agentID domain.AgentID
	err := r.mutatePayable(ctx, call, func(tx *txn) error {
		id, err := tx.allocateAgentID()
		if err != nil {
			return err
		}
		agentID = id
		tx.putAgent(domain.Agent{
			ID:            id,
			Owner:         call.Caller,
			Metadata:      params.Metadata,
			PricePerQuery: params.PricePerQuery,
			StakeAmount:   call.Value,
			Active:        true,
			CreatedAt:     r.clock.Now(),
		})
		tx.emit(domain.AgentRegistered{
			AgentID:       id,
			Owner:         call.Caller,
			PricePerQuery: params.PricePerQuery,
			StakeAmount:   call.Value,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.observer.AgentRegistered(ctx, call.Value)
	return agentID, nil
}

func (r *Registry) UpdateAgent(ctx context.Context, call Call, params UpdateAgentParams) error {
	return r.mutate(ctx, func(tx *txn) error {
		agent, ok := tx.agent(params.AgentID)
		if !ok {
			return domain.ErrAgentNotFound
		}
		if agent.Owner != call.Caller {
			return domain.ErrUnauthorizedOwner
		}

		if params.Metadata != nil {
			agent.Metadata = *params.Metadata
		}
		if params.PricePerQuery != nil {
			agent.PricePerQuery = *params.PricePerQuery
		}
		if params.Active != nil {
			agent.Active = *params.Active
		}
		tx.putAgent(agent)
		tx.emit(domain.AgentUpdated{AgentID: agent.ID, Owner: call.Caller})
		return nil
	})
}

// QueryAgent records a paid invocation. The attached value is the payment;
// the agent owner receives it minus the platform fee.
func (r *Registry) QueryAgent(ctx context.Context, call Call, agentID domain.AgentID, queryData []byte) (domain.InteractionID, error) {
	var (
		interactionID domain.InteractionID
		platformFee   domain.Amount
		agentFee      domain.Amount
		forwarded     bool
	)
	err := r.mutatePayable(ctx, call, func(tx *txn) error {
		agent, ok := tx.agent(agentID)
		if !ok {
			return domain.ErrAgentNotFound
		}
		if !agent.Active {
			return domain.ErrAgentNotActive
		}
		payment := call.Value
		if payment < agent.PricePerQuery {
			return domain.ErrInsufficientPayment
		}

		id, err := tx.allocateInteractionID()
		if err != nil {
			return err
		}

		platformFee, agentFee = SplitPayment(payment, tx.platformConfig().FeePercentage)
		forwarded = true
		if agentFee > 0 {
			forwarded, err = r.payout(ctx, tx, "query_agent", agent.Owner, agentFee)
			if err != nil {
				return err
			}
		}

		interactionID = id
		tx.putInteraction(domain.Interaction{
			ID:        id,
			AgentID:   agentID,
			User:      call.Caller,
			QueryData: cloneQuery(queryData),
			Timestamp: r.clock.Now(),
			Status:    domain.StatusPending,
			FeePaid:   payment,
		})
		tx.emit(domain.QuerySubmitted{
			InteractionID: id,
			AgentID:       agentID,
			User:          call.Caller,
			FeePaid:       payment,
			PlatformFee:   platformFee,
			AgentFee:      agentFee,
			Forwarded:     forwarded,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.observer.QuerySettled(ctx, platformFee, agentFee, forwarded)
	return interactionID, nil
}

// SubmitResponse completes an interaction. Only the agent owner may respond.
// A second submission overwrites the first.
func (r *Registry) SubmitResponse(ctx context.Context, call Call, interactionID domain.InteractionID, responseData []byte) error {
	err := r.mutate(ctx, func(tx *txn) error {
		interaction, ok := tx.interaction(interactionID)
		if !ok {
			return domain.ErrInteractionNotFound
		}
		agent, ok := tx.agent(interaction.AgentID)
		if !ok {
			return domain.ErrAgentNotFound
		}
		if agent.Owner != call.Caller {
			return domain.ErrUnauthorizedOwner
		}

		interaction = interaction.Clone()
		interaction.ResponseData = cloneResponse(responseData)
		interaction.Status = domain.StatusCompleted
		tx.putInteraction(interaction)
		tx.emit(domain.ResponseSubmitted{
			InteractionID: interaction.ID,
			AgentID:       interaction.AgentID,
			User:          interaction.User,
		})
		return nil
	})
	if err != nil {
		return err
	}
	r.observer.ResponseSubmitted(ctx)
	return nil
}

// WithdrawStake deactivates the agent for good and refunds any stake still
// held. Repeating it succeeds and refunds nothing.
func (r *Registry) WithdrawStake(ctx context.Context, call Call, agentID domain.AgentID) error {
	var (
		refunded  domain.Amount
		forwarded bool
	)
	err := r.mutate(ctx, func(tx *txn) error {
		agent, ok := tx.agent(agentID)
		if !ok {
			return domain.ErrAgentNotFound
		}
		if agent.Owner != call.Caller {
			return domain.ErrUnauthorizedOwner
		}

		agent.Active = false
		forwarded = true
		if agent.StakeAmount > 0 {
			stake := agent.StakeAmount
			agent.StakeAmount = 0
			sent, err := r.payout(ctx, tx, "withdraw_stake", call.Caller, stake)
			if err != nil {
				return err
			}
			forwarded = sent
			refunded = stake
		}

		tx.putAgent(agent)
		tx.emit(domain.StakeWithdrawn{
			AgentID:   agent.ID,
			Owner:     call.Caller,
			Refunded:  refunded,
			Forwarded: forwarded,
		})
		return nil
	})
	if err != nil {
		return err
	}
	r.observer.StakeWithdrawn(ctx, refunded, forwarded)
	return nil
}

// UpdatePlatformFee changes the platform's share of future queries. It emits
// no event.
func (r *Registry) UpdatePlatformFee(ctx context.Context, call Call, feePercentage uint64) error {
	return r.mutate(ctx, func(tx *txn) error {
		config := tx.platformConfig()
		if call.Caller != config.Owner {
			return domain.ErrUnauthorizedOwner
		}
		if feePercentage > 100 {
			return domain.ErrInvalidFeePercentage
		}
		config.FeePercentage = uint8(feePercentage)
		tx.setConfig(config)
		return nil
	})
}

func cloneQuery(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// cloneResponse never returns nil: a submitted response is present even when
// empty.
func cloneResponse(data []byte) []byte {
	return cloneQuery(data)
}
