package store

import (
	"context"

	"github.com/gaganv007/polkaagents/internal/domain"
)

// RegistryStore is the persistence contract used by the registry. Apply must
// write the whole change set or nothing.
type RegistryStore interface {
	// Load returns the persisted state. found is false when nothing has been
	// written yet.
	Load(ctx context.Context) (state domain.State, found bool, err error)
	Apply(ctx context.Context, changes domain.ChangeSet) error
	Close() error
}

// repairLoaded normalizes a freshly read state. Completed interactions always
// carry a response, even if the backend dropped an empty payload to null.
func repairLoaded(state *domain.State) {
	for i := range state.Interactions {
		interaction := &state.Interactions[i]
		if interaction.Status == domain.StatusCompleted && interaction.ResponseData == nil {
			interaction.ResponseData = []byte{}
		}
		if interaction.QueryData == nil {
			interaction.QueryData = []byte{}
		}
	}
	state.Normalize()
}
