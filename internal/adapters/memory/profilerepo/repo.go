package profilerepo

import (
	"context"
	"sync"

	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

// Repo is an in-memory implementation of profilerepo.Repository.
// It is safe for concurrent use.
type Repo struct {
	mu sync.RWMutex

	bySubject map[domain.SubjectID]domain.Profile

	// Injected failures, returned before touching the map. Tests set them
	// through the Fail* methods.
	fetchErr  error
	createErr error
	updateErr error

	// beforeFetch, if set, runs at the start of every Fetch outside the lock.
	beforeFetch func(ctx context.Context, subject domain.SubjectID)
}

func NewRepo() *Repo {
	return &Repo{
		bySubject: make(map[domain.SubjectID]domain.Profile),
	}
}

// Seed stores p directly, replacing any existing record.
func (r *Repo) Seed(p domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySubject[p.Subject] = p.Clone()
}

// FailFetch makes Fetch return err until cleared with nil.
func (r *Repo) FailFetch(err error) {
	r.mu.Lock()
	r.fetchErr = err
	r.mu.Unlock()
}

// FailCreate makes Create return err until cleared with nil.
func (r *Repo) FailCreate(err error) {
	r.mu.Lock()
	r.createErr = err
	r.mu.Unlock()
}

// FailUpdate makes Update return err until cleared with nil.
func (r *Repo) FailUpdate(err error) {
	r.mu.Lock()
	r.updateErr = err
	r.mu.Unlock()
}

// OnFetch installs a hook that runs at the start of every Fetch.
func (r *Repo) OnFetch(fn func(ctx context.Context, subject domain.SubjectID)) {
	r.mu.Lock()
	r.beforeFetch = fn
	r.mu.Unlock()
}

func (r *Repo) Fetch(ctx context.Context, subject domain.SubjectID) (domain.Profile, error) {
	r.mu.RLock()
	hook, failure := r.beforeFetch, r.fetchErr
	r.mu.RUnlock()
	if hook != nil {
		hook(ctx, subject)
	}
	if failure != nil {
		return domain.Profile{}, failure
	}
	if err := ctx.Err(); err != nil {
		return domain.Profile{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.bySubject[subject]
	if !ok {
		return domain.Profile{}, profilerepo.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *Repo) Create(ctx context.Context, stub domain.Profile) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if stub.Subject == "" {
		return profilerepo.ErrNotFound
	}
	if _, ok := r.bySubject[stub.Subject]; ok {
		return profilerepo.ErrAlreadyExists
	}
	r.bySubject[stub.Subject] = stub.Clone()
	return nil
}

func (r *Repo) Update(ctx context.Context, subject domain.SubjectID, patch profilerepo.Patch) (domain.Profile, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return domain.Profile{}, r.updateErr
	}
	existing, ok := r.bySubject[subject]
	if !ok {
		return domain.Profile{}, profilerepo.ErrNotFound
	}
	updated := profilerepo.Apply(existing, patch)
	r.bySubject[subject] = updated
	return updated.Clone(), nil
}
