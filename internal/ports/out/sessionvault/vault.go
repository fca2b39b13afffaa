package sessionvault

import (
	"context"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Vault persists the single live session on the device so it survives restarts.
type Vault interface {
	// Load returns the stored session; ok=false means none is stored.
	Load(ctx context.Context) (s domain.Session, ok bool, err error)
	// Save replaces the stored session.
	Save(ctx context.Context, s domain.Session) error
	// Clear removes the stored session. Clearing an empty vault is not an error.
	Clear(ctx context.Context) error
}
