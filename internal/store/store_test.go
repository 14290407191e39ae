package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gaganv007/polkaagents/internal/domain"
)

func sampleAgent(id domain.AgentID, owner domain.Identity) domain.Agent {
	return domain.Agent{
		ID:    id,
		Owner: owner,
		Metadata: domain.AgentMetadata{
			Name:        "translator",
			Description: "en to es",
			Category:    domain.CategoryTranslation,
			ModelInfo:   "marian",
		},
		PricePerQuery: 5,
		StakeAmount:   domain.Amount(^uint64(0)),
		Active:        true,
		CreatedAt:     1_700_000_000_000,
	}
}

// exerciseStore drives a store through the write pattern the registry uses
// and returns what a fresh reader sees.
func exerciseStore(t *testing.T, store RegistryStore, reopen func() RegistryStore) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := store.Load(ctx); err != nil || found {
		t.Fatalf("expected empty store, found=%v err=%v", found, err)
	}

	config := domain.PlatformConfig{Owner: "platform", FeePercentage: 10}
	steps := []domain.ChangeSet{
		{Config: &config, NextAgentID: 1, NextInteractionID: 1},
		{Agents: []domain.Agent{sampleAgent(1, "alice")}, NextAgentID: 2, NextInteractionID: 1},
		{
			Interactions: []domain.Interaction{{
				ID:        1,
				AgentID:   1,
				User:      "bob",
				QueryData: []byte("hello"),
				Timestamp: 1_700_000_000_500,
				Status:    domain.StatusPending,
				FeePaid:   7,
			}},
			Balances:          map[domain.Identity]domain.Amount{"bob": 93, "escrow": 7},
			NextAgentID:       2,
			NextInteractionID: 2,
		},
		{
			Interactions: []domain.Interaction{{
				ID:           1,
				AgentID:      1,
				User:         "bob",
				QueryData:    []byte("hello"),
				ResponseData: []byte{},
				Timestamp:    1_700_000_000_500,
				Status:       domain.StatusCompleted,
				FeePaid:      7,
			}},
			NextAgentID:       2,
			NextInteractionID: 2,
		},
		{
			Interactions: []domain.Interaction{{
				ID:        2,
				AgentID:   1,
				User:      "carol",
				QueryData: []byte{},
				Timestamp: 1_700_000_001_000,
				Status:    domain.StatusPending,
				FeePaid:   5,
			}},
			NextAgentID:       2,
			NextInteractionID: 3,
		},
	}
	for i, step := range steps {
		if err := store.Apply(ctx, step); err != nil {
			t.Fatalf("apply step %d: %v", i, err)
		}
	}
	fee := domain.PlatformConfig{Owner: "platform", FeePercentage: 25}
	if err := store.Apply(ctx, domain.ChangeSet{
		Config:            &fee,
		Balances:          map[domain.Identity]domain.Amount{"bob": 0, "alice": 5},
		NextAgentID:       2,
		NextInteractionID: 3,
	}); err != nil {
		t.Fatalf("apply fee update: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reader := reopen()
	defer reader.Close()
	state, found, err := reader.Load(ctx)
	if err != nil || !found {
		t.Fatalf("reload: found=%v err=%v", found, err)
	}

	if state.Config != fee {
		t.Fatalf("unexpected config: %+v", state.Config)
	}
	if state.NextAgentID != 2 || state.NextInteractionID != 3 {
		t.Fatalf("unexpected counters: %d %d", state.NextAgentID, state.NextInteractionID)
	}
	if len(state.Agents) != 1 || !reflect.DeepEqual(state.Agents[0], sampleAgent(1, "alice")) {
		t.Fatalf("unexpected agents: %+v", state.Agents)
	}
	if len(state.Interactions) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(state.Interactions))
	}
	first := state.Interactions[0]
	if first.Status != domain.StatusCompleted || !first.HasResponse() || len(first.ResponseData) != 0 {
		t.Fatalf("empty response must survive as present: %+v", first)
	}
	if second := state.Interactions[1]; second.HasResponse() || second.QueryData == nil {
		t.Fatalf("unexpected pending interaction: %+v", second)
	}
	if got := state.UserInteractions["bob"]; !reflect.DeepEqual(got, []domain.InteractionID{1}) {
		t.Fatalf("user index not rebuilt: %v", got)
	}
	if got := state.AgentInteractions[1]; !reflect.DeepEqual(got, []domain.InteractionID{1, 2}) {
		t.Fatalf("agent index not rebuilt: %v", got)
	}
	wantBalances := map[domain.Identity]domain.Amount{"escrow": 7, "alice": 5}
	if !reflect.DeepEqual(state.Balances, wantBalances) {
		t.Fatalf("unexpected balances: %v", state.Balances)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "registry.json")
	exerciseStore(t, NewFileStore(path), func() RegistryStore { return NewFileStore(path) })
}

func TestFileStoreRejectsOutOfOrderInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store := NewFileStore(path)
	ctx := context.Background()
	config := domain.PlatformConfig{Owner: "platform"}
	if err := store.Apply(ctx, domain.ChangeSet{Config: &config, NextAgentID: 1, NextInteractionID: 1}); err != nil {
		t.Fatalf("init: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	err = store.Apply(ctx, domain.ChangeSet{Agents: []domain.Agent{sampleAgent(3, "alice")}, NextAgentID: 4, NextInteractionID: 1})
	if err == nil {
		t.Fatalf("expected gap insert to fail")
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatalf("failed apply rewrote the data file")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := NewFileStore(path).Load(context.Background())
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != domain.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	open := func() RegistryStore {
		store, err := NewSQLiteStore(context.Background(), path)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return store
	}
	exerciseStore(t, open(), open)
}

func TestSQLiteStoreRejectsBackwardCounters(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), "file:store_counters_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Apply(ctx, domain.ChangeSet{Agents: []domain.Agent{sampleAgent(1, "alice")}, NextAgentID: 2, NextInteractionID: 1}); err == nil {
		t.Fatalf("expected failure without a config row")
	}
	config := domain.PlatformConfig{Owner: "platform"}
	if err := store.Apply(ctx, domain.ChangeSet{Config: &config, NextAgentID: 5, NextInteractionID: 5}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.Apply(ctx, domain.ChangeSet{NextAgentID: 2, NextInteractionID: 2, Agents: []domain.Agent{sampleAgent(1, "alice")}}); err == nil {
		t.Fatalf("expected counters moving backwards to fail")
	}
	state, found, err := store.Load(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(state.Agents) != 0 {
		t.Fatalf("rolled back agent insert is visible: %+v", state.Agents)
	}
}

func TestSQLiteStoreRejectsValuesPastInt64(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), "file:store_bigint_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	config := domain.PlatformConfig{Owner: "platform"}
	if err := store.Apply(ctx, domain.ChangeSet{Config: &config, NextAgentID: 1, NextInteractionID: 1}); err != nil {
		t.Fatalf("init: %v", err)
	}

	err = store.Apply(ctx, domain.ChangeSet{NextAgentID: 1, NextInteractionID: math.MaxInt64 + 1})
	if appErr, ok := domain.AsAppError(err); !ok || appErr.Code != domain.CodeFailedPrecondition {
		t.Fatalf("expected oversized counter to be refused, got %v", err)
	}
	late := sampleAgent(1, "alice")
	late.CreatedAt = math.MaxUint64
	if err := store.Apply(ctx, domain.ChangeSet{Agents: []domain.Agent{late}, NextAgentID: 2, NextInteractionID: 1}); err == nil {
		t.Fatalf("expected oversized timestamp to be refused")
	}

	state, _, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.NextInteractionID != 1 || len(state.Agents) != 0 {
		t.Fatalf("refused change set was written: next=%d agents=%d", state.NextInteractionID, len(state.Agents))
	}
}

func TestRebindNumbersPlaceholders(t *testing.T) {
	postgres := &SQLStore{dialect: postgresDialect}
	if got := postgres.rebind("SELECT ? , ?::text"); got != "SELECT $1 , $2::text" {
		t.Fatalf("unexpected rebind: %q", got)
	}
	sqlite := &SQLStore{dialect: sqliteDialect}
	if got := sqlite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Fatalf("sqlite must keep ? placeholders, got %q", got)
	}
}
