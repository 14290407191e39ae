package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/gaganv007/polkaagents/internal/domain"
)

// dialect carries what differs between the SQL backends.
type dialect struct {
	name        string
	blobType    string
	numbered    bool
	tableExists string
}

// SQLStore persists the registry in four tables: a singleton config row that
// also holds the id counters, one row per agent, one per interaction and one
// per funded custody account.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var requiredTables = []string{"registry_config", "agents", "interactions", "balances"}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS registry_config (
			id SMALLINT PRIMARY KEY,
			owner TEXT NOT NULL,
			fee_percentage INTEGER NOT NULL,
			next_agent_id BIGINT NOT NULL,
			next_interaction_id BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id BIGINT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			model_info TEXT NOT NULL DEFAULT '',
			price_per_query TEXT NOT NULL,
			stake_amount TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			created_at_ms BIGINT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interactions (
			id BIGINT PRIMARY KEY,
			agent_id BIGINT NOT NULL,
			caller TEXT NOT NULL,
			query_data %[1]s NOT NULL,
			response_data %[1]s NULL,
			submitted_at_ms BIGINT NOT NULL,
			status TEXT NOT NULL,
			fee_paid TEXT NOT NULL
		)`, s.dialect.blobType),
		`CREATE TABLE IF NOT EXISTS balances (
			account TEXT PRIMARY KEY,
			amount TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents (owner)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_caller ON interactions (caller, id)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_agent ON interactions (agent_id, id)`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal("failed to start schema transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return domain.Internal(fmt.Sprintf("failed to run %s schema statement: %s", s.dialect.name, statement), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Internal("failed to commit schema transaction", err)
	}
	return s.verifySchemaReady(ctx)
}

func (s *SQLStore) verifySchemaReady(ctx context.Context) error {
	for _, tableName := range requiredTables {
		var exists bool
		if err := s.db.QueryRowContext(ctx, s.rebind(s.dialect.tableExists), tableName).Scan(&exists); err != nil {
			return domain.Internal("failed to verify database schema", err)
		}
		if !exists {
			return domain.FailedPrecondition(fmt.Sprintf("required table %q is missing", tableName))
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (domain.State, bool, error) {
	var (
		owner             string
		feePercentage     int64
		nextAgentID       int64
		nextInteractionID int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, fee_percentage, next_agent_id, next_interaction_id
		FROM registry_config
		WHERE id = 1
	`).Scan(&owner, &feePercentage, &nextAgentID, &nextInteractionID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.State{}, false, nil
	}
	if err != nil {
		return domain.State{}, false, domain.Internal("failed to read registry config", err)
	}
	if feePercentage < 0 || feePercentage > 100 {
		return domain.State{}, false, domain.Internal("stored fee percentage out of range", fmt.Errorf("fee_percentage=%d", feePercentage))
	}
	if nextAgentID < 0 || nextAgentID > math.MaxUint32 || nextInteractionID < 0 {
		return domain.State{}, false, domain.Internal("stored id counters out of range",
			fmt.Errorf("next_agent_id=%d next_interaction_id=%d", nextAgentID, nextInteractionID))
	}

	state := domain.State{
		Config: domain.PlatformConfig{
			Owner:         domain.Identity(owner),
			FeePercentage: uint8(feePercentage),
		},
		NextAgentID:       domain.AgentID(nextAgentID),
		NextInteractionID: domain.InteractionID(nextInteractionID),
	}

	agents, err := s.loadAgents(ctx)
	if err != nil {
		return domain.State{}, false, err
	}
	interactions, err := s.loadInteractions(ctx)
	if err != nil {
		return domain.State{}, false, err
	}
	balances, err := s.loadBalances(ctx)
	if err != nil {
		return domain.State{}, false, err
	}
	state.Agents = agents
	state.Interactions = interactions
	state.Balances = balances
	repairLoaded(&state)
	return state, true, nil
}

func (s *SQLStore) loadAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, name, description, category, model_info,
		       price_per_query, stake_amount, active, created_at_ms
		FROM agents
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, domain.Internal("failed to query agents", err)
	}
	defer rows.Close()

	out := make([]domain.Agent, 0)
	for rows.Next() {
		var (
			id        int64
			owner     string
			category  string
			price     string
			stake     string
			createdAt int64
			agent     domain.Agent
		)
		if err := rows.Scan(
			&id,
			&owner,
			&agent.Metadata.Name,
			&agent.Metadata.Description,
			&category,
			&agent.Metadata.ModelInfo,
			&price,
			&stake,
			&agent.Active,
			&createdAt,
		); err != nil {
			return nil, domain.Internal("failed to scan agent row", err)
		}
		if id != int64(len(out)+1) {
			return nil, domain.Internal("agent table is not dense", fmt.Errorf("expected id %d, found %d", len(out)+1, id))
		}
		if agent.PricePerQuery, err = domain.ParseAmount(price); err != nil {
			return nil, domain.Internal("failed to parse stored price", err)
		}
		if agent.StakeAmount, err = domain.ParseAmount(stake); err != nil {
			return nil, domain.Internal("failed to parse stored stake", err)
		}
		agent.ID = domain.AgentID(id)
		agent.Owner = domain.Identity(owner)
		agent.Metadata.Category = domain.AgentCategory(category)
		agent.CreatedAt = domain.Timestamp(createdAt)
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to iterate agents", err)
	}
	return out, nil
}

func (s *SQLStore) loadInteractions(ctx context.Context) ([]domain.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, caller, query_data, response_data,
		       submitted_at_ms, status, fee_paid
		FROM interactions
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, domain.Internal("failed to query interactions", err)
	}
	defer rows.Close()

	out := make([]domain.Interaction, 0)
	for rows.Next() {
		var (
			id          int64
			agentID     int64
			caller      string
			queryData   []byte
			response    []byte
			submittedAt int64
			status      string
			feePaid     string
		)
		if err := rows.Scan(&id, &agentID, &caller, &queryData, &response, &submittedAt, &status, &feePaid); err != nil {
			return nil, domain.Internal("failed to scan interaction row", err)
		}
		if id != int64(len(out)+1) {
			return nil, domain.Internal("interaction table is not dense", fmt.Errorf("expected id %d, found %d", len(out)+1, id))
		}
		fee, err := domain.ParseAmount(feePaid)
		if err != nil {
			return nil, domain.Internal("failed to parse stored fee", err)
		}
		out = append(out, domain.Interaction{
			ID:           domain.InteractionID(id),
			AgentID:      domain.AgentID(agentID),
			User:         domain.Identity(caller),
			QueryData:    queryData,
			ResponseData: response,
			Timestamp:    domain.Timestamp(submittedAt),
			Status:       domain.InteractionStatus(status),
			FeePaid:      fee,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to iterate interactions", err)
	}
	return out, nil
}

func (s *SQLStore) loadBalances(ctx context.Context) (map[domain.Identity]domain.Amount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, amount FROM balances`)
	if err != nil {
		return nil, domain.Internal("failed to query balances", err)
	}
	defer rows.Close()

	out := map[domain.Identity]domain.Amount{}
	for rows.Next() {
		var account, raw string
		if err := rows.Scan(&account, &raw); err != nil {
			return nil, domain.Internal("failed to scan balance row", err)
		}
		amount, err := domain.ParseAmount(raw)
		if err != nil {
			return nil, domain.Internal("failed to parse stored balance", err)
		}
		out[domain.Identity(account)] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("failed to iterate balances", err)
	}
	return out, nil
}

// checkBigint rejects values a signed BIGINT column cannot hold, so nothing
// is stored negative.
func checkBigint(changes domain.ChangeSet) error {
	check := func(field string, value uint64) error {
		if value > math.MaxInt64 {
			return domain.FailedPrecondition(fmt.Sprintf("%s %d does not fit a BIGINT column", field, value))
		}
		return nil
	}
	if err := check("next_interaction_id", uint64(changes.NextInteractionID)); err != nil {
		return err
	}
	for _, agent := range changes.Agents {
		if err := check("agent created_at_ms", uint64(agent.CreatedAt)); err != nil {
			return err
		}
	}
	for _, interaction := range changes.Interactions {
		if err := check("interaction id", uint64(interaction.ID)); err != nil {
			return err
		}
		if err := check("interaction submitted_at_ms", uint64(interaction.Timestamp)); err != nil {
			return err
		}
	}
	return nil
}

// Apply upserts every staged record, balance and the counters in one
// transaction.
func (s *SQLStore) Apply(ctx context.Context, changes domain.ChangeSet) error {
	if err := checkBigint(changes); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Internal("failed to start registry transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if changes.Config != nil {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO registry_config (id, owner, fee_percentage, next_agent_id, next_interaction_id)
			VALUES (1, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE
			SET owner = excluded.owner,
			    fee_percentage = excluded.fee_percentage
		`), string(changes.Config.Owner), int64(changes.Config.FeePercentage), int64(changes.NextAgentID), int64(changes.NextInteractionID)); err != nil {
			return domain.Internal("failed to write registry config", err)
		}
	}

	result, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE registry_config
		SET next_agent_id = ?, next_interaction_id = ?
		WHERE id = 1 AND next_agent_id <= ? AND next_interaction_id <= ?
	`), int64(changes.NextAgentID), int64(changes.NextInteractionID), int64(changes.NextAgentID), int64(changes.NextInteractionID))
	if err != nil {
		return domain.Internal("failed to advance id counters", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.FailedPrecondition("registry config row is missing or counters would move backwards")
	}

	for _, agent := range changes.Agents {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO agents (
				id, owner, name, description, category, model_info,
				price_per_query, stake_amount, active, created_at_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE
			SET owner = excluded.owner,
			    name = excluded.name,
			    description = excluded.description,
			    category = excluded.category,
			    model_info = excluded.model_info,
			    price_per_query = excluded.price_per_query,
			    stake_amount = excluded.stake_amount,
			    active = excluded.active
		`),
			int64(agent.ID),
			string(agent.Owner),
			agent.Metadata.Name,
			agent.Metadata.Description,
			string(agent.Metadata.Category),
			agent.Metadata.ModelInfo,
			agent.PricePerQuery.String(),
			agent.StakeAmount.String(),
			agent.Active,
			int64(agent.CreatedAt),
		); err != nil {
			return domain.Internal(fmt.Sprintf("failed to write agent %d", agent.ID), err)
		}
	}

	for _, interaction := range changes.Interactions {
		var response any
		if interaction.ResponseData != nil {
			response = interaction.ResponseData
		}
		query := interaction.QueryData
		if query == nil {
			query = []byte{}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO interactions (
				id, agent_id, caller, query_data, response_data,
				submitted_at_ms, status, fee_paid
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE
			SET response_data = excluded.response_data,
			    status = excluded.status
		`),
			int64(interaction.ID),
			int64(interaction.AgentID),
			string(interaction.User),
			query,
			response,
			int64(interaction.Timestamp),
			string(interaction.Status),
			interaction.FeePaid.String(),
		); err != nil {
			return domain.Internal(fmt.Sprintf("failed to write interaction %d", interaction.ID), err)
		}
	}

	for _, account := range slices.Sorted(maps.Keys(changes.Balances)) {
		amount := changes.Balances[account]
		if amount == 0 {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM balances WHERE account = ?`), string(account)); err != nil {
				return domain.Internal(fmt.Sprintf("failed to clear balance of %s", account), err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO balances (account, amount) VALUES (?, ?)
			ON CONFLICT (account) DO UPDATE
			SET amount = excluded.amount
		`), string(account), amount.String()); err != nil {
			return domain.Internal(fmt.Sprintf("failed to write balance of %s", account), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Internal("failed to commit registry transaction", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for backends that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var builder strings.Builder
	builder.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
