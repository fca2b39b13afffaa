package sessionvault

import (
	"context"
	"sync"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Vault is an in-memory implementation of sessionvault.Vault.
// It is safe for concurrent use.
type Vault struct {
	mu   sync.Mutex
	sess *domain.Session
}

func NewVault() *Vault { return &Vault{} }

func (v *Vault) Load(ctx context.Context) (domain.Session, bool, error) {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess == nil {
		return domain.Session{}, false, nil
	}
	return *v.sess, true, nil
}

func (v *Vault) Save(ctx context.Context, s domain.Session) error {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sess = &s
	return nil
}

func (v *Vault) Clear(ctx context.Context) error {
	_ = ctx
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sess = nil
	return nil
}
