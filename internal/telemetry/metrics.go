package telemetry

import (
	"context"
	"math"

	"github.com/gaganv007/polkaagents/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/gaganv007/polkaagents"

// RegistryMetrics counts registry settlements and RPC outcomes.
type RegistryMetrics struct {
	agentsRegistered  metric.Int64Counter
	stakeDeposited    metric.Int64Counter
	queries           metric.Int64Counter
	platformFees      metric.Int64Counter
	agentFees         metric.Int64Counter
	retained          metric.Int64Counter
	responses         metric.Int64Counter
	stakeWithdrawn    metric.Int64Counter
	rpcCalls          metric.Int64Counter
	rpcLatencySeconds metric.Float64Histogram
}

// NewRegistryMetrics builds the instruments on meter, or on the global meter
// provider when meter is nil.
func NewRegistryMetrics(meter metric.Meter) (*RegistryMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &RegistryMetrics{}
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
	}{
		{&m.agentsRegistered, "polkaagents.agents.registered", "Agents registered"},
		{&m.stakeDeposited, "polkaagents.stake.deposited", "Stake deposited at registration, in base units"},
		{&m.queries, "polkaagents.queries", "Paid queries recorded"},
		{&m.platformFees, "polkaagents.fees.platform", "Platform share of query payments, in base units"},
		{&m.agentFees, "polkaagents.fees.agent", "Agent share of query payments, in base units"},
		{&m.retained, "polkaagents.transfers.retained", "Payouts kept by the platform after a failed transfer, in base units"},
		{&m.responses, "polkaagents.responses", "Responses submitted"},
		{&m.stakeWithdrawn, "polkaagents.stake.withdrawn", "Stake refunded on withdrawal, in base units"},
		{&m.rpcCalls, "polkaagents.rpc.calls", "RPC calls by method and outcome"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	latency, err := meter.Float64Histogram(
		"polkaagents.rpc.duration",
		metric.WithDescription("RPC handling latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.rpcLatencySeconds = latency
	return m, nil
}

func (m *RegistryMetrics) AgentRegistered(ctx context.Context, stake domain.Amount) {
	if m == nil {
		return
	}
	m.agentsRegistered.Add(ctx, 1)
	m.stakeDeposited.Add(ctx, clampAmount(stake))
}

func (m *RegistryMetrics) QuerySettled(ctx context.Context, platformFee, agentFee domain.Amount, forwarded bool) {
	if m == nil {
		return
	}
	m.queries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("forwarded", forwarded)))
	m.platformFees.Add(ctx, clampAmount(platformFee))
	m.agentFees.Add(ctx, clampAmount(agentFee))
	if !forwarded {
		m.retained.Add(ctx, clampAmount(agentFee), metric.WithAttributes(attribute.String("op", "query_agent")))
	}
}

func (m *RegistryMetrics) ResponseSubmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.responses.Add(ctx, 1)
}

func (m *RegistryMetrics) StakeWithdrawn(ctx context.Context, refunded domain.Amount, forwarded bool) {
	if m == nil {
		return
	}
	m.stakeWithdrawn.Add(ctx, clampAmount(refunded), metric.WithAttributes(attribute.Bool("forwarded", forwarded)))
	if !forwarded {
		m.retained.Add(ctx, clampAmount(refunded), metric.WithAttributes(attribute.String("op", "withdraw_stake")))
	}
}

// RecordRPC counts one handled call. code is the canonical status name.
func (m *RegistryMetrics) RecordRPC(ctx context.Context, method, code string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("rpc.code", code),
	)
	m.rpcCalls.Add(ctx, 1, attrs)
	m.rpcLatencySeconds.Record(ctx, seconds, attrs)
}

func clampAmount(amount domain.Amount) int64 {
	if uint64(amount) > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(amount)
}
