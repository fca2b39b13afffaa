package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shomaj/neighborhood-client/internal/domain"
	idempotencyport "github.com/shomaj/neighborhood-client/internal/ports/out/idempotency"
	profilerepoport "github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
	sessionvaultport "github.com/shomaj/neighborhood-client/internal/ports/out/sessionvault"
)

type CleanupFunc = func()

type ProfileRepoFactory func(t *testing.T) (profilerepoport.Repository, CleanupFunc)
type SessionVaultFactory func(t *testing.T) (sessionvaultport.Vault, CleanupFunc)
type IdemStoreFactory func(t *testing.T) (idempotencyport.Store, CleanupFunc)

func RunIdempotencyStore(t *testing.T, newStore IdemStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := idempotencyport.Fingerprint{
		Key:      "k-1",
		Subject:  domain.SubjectID("sub-1"),
		Method:   "POST",
		Route:    "/v1/location",
		BodyHash: "hash-abc",
	}
	if _, ok, err := store.Get(ctx, fp); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}
	rec := idempotencyport.Record{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"state":"ready"}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.Put(ctx, fp, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(got.Body) != `{"state":"ready"}` || got.ContentType != "application/json" || got.StatusCode != 200 {
		t.Fatalf("unexpected record: %+v", got)
	}

	// A different body under the same key is a different fingerprint.
	other := fp
	other.BodyHash = "hash-def"
	if _, ok, err := store.Get(ctx, other); err != nil || ok {
		t.Fatalf("Get other body: ok=%v err=%v", ok, err)
	}

	// Overwrite semantics.
	rec2 := rec
	rec2.Body = []byte(`{"state":"incomplete"}`)
	if err := store.Put(ctx, fp, rec2); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok, err = store.Get(ctx, fp)
	if err != nil || !ok || string(got.Body) != `{"state":"incomplete"}` {
		t.Fatalf("expected overwritten record, got ok=%v err=%v body=%q", ok, err, string(got.Body))
	}
}

func RunProfileRepo(t *testing.T, newRepo ProfileRepoFactory) {
	t.Helper()
	ctx := context.Background()

	repo, cleanup := newRepo(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	now := time.Unix(1000, 0).UTC()
	sub := domain.SubjectID(uuid.NewString())

	if _, err := repo.Fetch(ctx, sub); !errors.Is(err, profilerepoport.ErrNotFound) {
		t.Fatalf("Fetch missing: err=%v, want ErrNotFound", err)
	}
	if _, err := repo.Update(ctx, sub, profilerepoport.Patch{Bio: domain.Some("x"), UpdatedAt: now}); !errors.Is(err, profilerepoport.ErrNotFound) {
		t.Fatalf("Update missing: err=%v, want ErrNotFound", err)
	}

	if err := repo.Create(ctx, domain.StubProfile(sub, "karim@example.com", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, domain.StubProfile(sub, "karim@example.com", now)); !errors.Is(err, profilerepoport.ErrAlreadyExists) {
		t.Fatalf("Create duplicate: err=%v, want ErrAlreadyExists", err)
	}

	got, err := repo.Fetch(ctx, sub)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Subject != sub || got.Email != "karim@example.com" {
		t.Fatalf("unexpected stub: %+v", got)
	}
	if domain.IsComplete(&got) {
		t.Fatalf("stub must not be complete")
	}

	// Profile edit: fields only, nullable avatar.
	later := now.Add(time.Minute)
	edited, err := repo.Update(ctx, sub, profilerepoport.Patch{
		DisplayName: domain.Some("Karim Uddin"),
		AvatarURL:   domain.Some("https://cdn.example.com/a.png"),
		UpdatedAt:   later,
	})
	if err != nil {
		t.Fatalf("Update edit: %v", err)
	}
	if edited.DisplayName != "Karim Uddin" || edited.AvatarURL == nil || *edited.AvatarURL != "https://cdn.example.com/a.png" {
		t.Fatalf("unexpected edit result: %+v", edited)
	}
	if domain.IsComplete(&edited) {
		t.Fatalf("profile edit must not complete onboarding")
	}
	cleared, err := repo.Update(ctx, sub, profilerepoport.Patch{AvatarURL: domain.Null[string](), UpdatedAt: later})
	if err != nil {
		t.Fatalf("Update clear avatar: %v", err)
	}
	if cleared.AvatarURL != nil || cleared.DisplayName != "Karim Uddin" {
		t.Fatalf("unexpected clear result: %+v", cleared)
	}

	// Location setup: coordinates, address and radius land together.
	fixAt := now.Add(2 * time.Minute)
	located, err := repo.Update(ctx, sub, profilerepoport.Patch{
		Location: &profilerepoport.LocationFix{
			Coordinates: domain.Coordinates{Latitude: 23.8103, Longitude: 90.4125},
			Address:     domain.Address{Street: "Road 11", City: "Dhaka", Country: "Bangladesh"},
			Radius:      domain.Radius1km,
		},
		UpdatedAt: fixAt,
	})
	if err != nil {
		t.Fatalf("Update location: %v", err)
	}
	if !domain.IsComplete(&located) {
		t.Fatalf("expected complete profile after location fix: %+v", located)
	}
	reread, err := repo.Fetch(ctx, sub)
	if err != nil {
		t.Fatalf("Fetch after location: %v", err)
	}
	at, ok := reread.Coordinates()
	if !ok || at.Latitude != 23.8103 || at.Longitude != 90.4125 {
		t.Fatalf("unexpected coordinates: %+v", reread)
	}
	if reread.City == nil || *reread.City != "Dhaka" || reread.Country == nil || *reread.Country != "Bangladesh" {
		t.Fatalf("unexpected address: %+v", reread)
	}
	if reread.State != nil {
		t.Fatalf("empty state must stay unset, got %q", *reread.State)
	}
	if reread.NeighborhoodRadius == nil || *reread.NeighborhoodRadius != domain.Radius1km {
		t.Fatalf("unexpected radius: %+v", reread.NeighborhoodRadius)
	}
	if reread.LocationUpdatedAt == nil || !reread.LocationUpdatedAt.Equal(fixAt) {
		t.Fatalf("unexpected location_updated_at: %v", reread.LocationUpdatedAt)
	}
	if reread.DisplayName != "Karim Uddin" {
		t.Fatalf("location fix clobbered display name: %+v", reread)
	}
}

func RunSessionVault(t *testing.T, newVault SessionVaultFactory) {
	t.Helper()
	ctx := context.Background()

	vault, cleanup := newVault(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	if _, ok, err := vault.Load(ctx); err != nil || ok {
		t.Fatalf("Load empty: ok=%v err=%v", ok, err)
	}
	if err := vault.Clear(ctx); err != nil {
		t.Fatalf("Clear empty: %v", err)
	}

	issued := time.Unix(5000, 0).UTC()
	first := domain.Session{
		Subject:      domain.SubjectID(uuid.NewString()),
		Email:        "a@example.com",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(time.Hour),
	}
	if err := vault.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := vault.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Subject != first.Subject || got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" ||
		!got.ExpiresAt.Equal(first.ExpiresAt) || !got.IssuedAt.Equal(first.IssuedAt) {
		t.Fatalf("Load()=%+v, want %+v", got, first)
	}

	// Save replaces.
	second := first
	second.AccessToken = "access-2"
	if err := vault.Save(ctx, second); err != nil {
		t.Fatalf("Save replace: %v", err)
	}
	got, _, _ = vault.Load(ctx)
	if got.AccessToken != "access-2" {
		t.Fatalf("Load after replace: %+v", got)
	}

	if err := vault.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, err := vault.Load(ctx); err != nil || ok {
		t.Fatalf("Load after Clear: ok=%v err=%v", ok, err)
	}
}
