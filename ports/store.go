package ports

import (
	"context"

	"github.com/layer-3/guardian/core"
)

// Settings keys held next to the block-list
const (
	KeyGuardianAddress = "guardianAddress"
	KeyWalletAddress   = "walletAddress"
	KeyStreak          = "streak"
)

// Store persists the block-list, challenge messages, ticket pins and settings
type Store interface {
	// Load returns a snapshot of the block-list and challenge messages
	Load(ctx context.Context) (*core.State, error)

	// Update applies fn to the latest state and persists the result atomically.
	// fn may be called more than once when a concurrent writer wins; an error
	// from fn aborts the update and is returned unchanged.
	Update(ctx context.Context, fn func(*core.State) error) (*core.State, error)

	// Get returns core.ErrNotFound for missing keys
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
