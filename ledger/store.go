package ledger

import "context"

// Persisted is what a Store hands back when a ledger is reopened.
type Persisted struct {
	Config RewardConfig
	State  *State
}

// Store persists the ledger. Implementations must make Commit atomic: either
// every field of the commit is durable or none is.
type Store interface {
	// Load returns the persisted ledger, or nil when the store is empty.
	Load(ctx context.Context) (*Persisted, error)

	// Init writes the configuration and initial state of a new ledger.
	Init(ctx context.Context, cfg RewardConfig, st *State) error

	// Commit persists the outcome of a single submission.
	Commit(ctx context.Context, c Commit) error
}
