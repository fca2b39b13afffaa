package profilerepo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

func TestRepo_FetchReturnsCopy(t *testing.T) {
	t.Parallel()

	r := NewRepo()
	now := time.Unix(100, 0).UTC()
	stub := domain.StubProfile("sub-1", "a@example.com", now)
	if err := r.Create(context.Background(), stub); err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	got, err := r.Fetch(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Fetch() err=%v", err)
	}
	lat := 1.0
	got.Latitude = &lat

	again, err := r.Fetch(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Fetch() err=%v", err)
	}
	if again.Latitude != nil {
		t.Fatalf("stored profile mutated through returned copy")
	}
}

func TestRepo_InjectedFailures(t *testing.T) {
	t.Parallel()

	r := NewRepo()
	r.FailFetch(profilerepo.ErrUnreachable)
	if _, err := r.Fetch(context.Background(), "sub-1"); !errors.Is(err, profilerepo.ErrUnreachable) {
		t.Fatalf("Fetch() err=%v, want ErrUnreachable", err)
	}
	r.FailFetch(nil)
	if _, err := r.Fetch(context.Background(), "sub-1"); !errors.Is(err, profilerepo.ErrNotFound) {
		t.Fatalf("Fetch() err=%v, want ErrNotFound", err)
	}

	r.FailCreate(profilerepo.ErrUnreachable)
	if err := r.Create(context.Background(), domain.StubProfile("sub-1", "", time.Unix(1, 0))); !errors.Is(err, profilerepo.ErrUnreachable) {
		t.Fatalf("Create() err=%v, want ErrUnreachable", err)
	}
}
