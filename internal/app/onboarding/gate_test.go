package onboarding

import (
	"context"
	"testing"
	"time"

	memnavigator "github.com/shomaj/neighborhood-client/internal/adapters/memory/navigator"
	memnotice "github.com/shomaj/neighborhood-client/internal/adapters/memory/notice"
	"github.com/shomaj/neighborhood-client/internal/app/session"
	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

func ptr[T any](v T) *T { return &v }

func sess() *domain.Session { return &domain.Session{Subject: "sub-1"} }

func stub() *domain.Profile { return &domain.Profile{Subject: "sub-1"} }

func located() *domain.Profile {
	return &domain.Profile{Subject: "sub-1", Latitude: ptr(23.8103), Longitude: ptr(90.4125)}
}

func TestDerive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		snap session.Snapshot
		want domain.OnboardingState
	}{
		{name: "no session", snap: session.Snapshot{}, want: domain.StateUnauthenticated},
		{name: "no session with stale profile", snap: session.Snapshot{Profile: located()}, want: domain.StateUnauthenticated},
		{name: "fetch in flight", snap: session.Snapshot{Session: sess(), Fetching: true}, want: domain.StateAuthenticating},
		{name: "fetch failed", snap: session.Snapshot{Session: sess(), FetchErr: profilerepo.ErrUnreachable}, want: domain.StateUnauthenticated},
		{name: "stub profile", snap: session.Snapshot{Session: sess(), Profile: stub()}, want: domain.StateIncomplete},
		{name: "latitude only", snap: session.Snapshot{Session: sess(), Profile: &domain.Profile{Latitude: ptr(1.0)}}, want: domain.StateIncomplete},
		{name: "located", snap: session.Snapshot{Session: sess(), Profile: located()}, want: domain.StateReady},
		{name: "located zero coordinates", snap: session.Snapshot{Session: sess(), Profile: &domain.Profile{Latitude: ptr(0.0), Longitude: ptr(0.0)}}, want: domain.StateReady},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Derive(tc.snap); got != tc.want {
				t.Fatalf("Derive()=%q, want %q", got, tc.want)
			}
		})
	}
}

// feed is a Source driven by hand.
type feed struct {
	cur  session.Snapshot
	subs []func(session.Snapshot)
}

func (f *feed) Snapshot() session.Snapshot { return f.cur }

func (f *feed) Subscribe(fn func(session.Snapshot)) func() {
	f.subs = append(f.subs, fn)
	return func() { f.subs = nil }
}

func (f *feed) push(s session.Snapshot) {
	s.Version = f.cur.Version + 1
	f.cur = s
	for _, fn := range f.subs {
		fn(s)
	}
}

func newGate(t *testing.T) (*Gate, *feed, *memnavigator.Recorder, *memnotice.Recorder) {
	t.Helper()
	f := &feed{}
	nav := memnavigator.NewRecorder()
	notices := memnotice.NewRecorder()
	g := NewGate(f, nav, notices, nil)
	t.Cleanup(g.Start())
	return g, f, nav, notices
}

func routesEqual(got, want []domain.Route) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestGate_WaitsForRestore(t *testing.T) {
	t.Parallel()
	g, f, nav, _ := newGate(t)

	f.push(session.Snapshot{Session: sess(), Profile: located()})
	if len(nav.Routes()) != 0 {
		t.Fatalf("navigated before restore: %v", nav.Routes())
	}
	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteMain}) {
		t.Fatalf("Routes()=%v", got)
	}
	if g.State() != domain.StateReady {
		t.Fatalf("State()=%q", g.State())
	}
}

func TestGate_NavigatesOncePerStateEntry(t *testing.T) {
	t.Parallel()
	_, f, nav, _ := newGate(t)

	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	// Token refreshes and re-fetches commit equal states.
	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteMain}) {
		t.Fatalf("Routes()=%v, want a single navigation", got)
	}
}

func TestGate_IgnoresOlderSnapshots(t *testing.T) {
	t.Parallel()
	g, f, nav, _ := newGate(t)

	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: stub()})
	older := f.cur
	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})

	g.Observe(older) // a late delivery of an older commit
	if g.State() != domain.StateReady {
		t.Fatalf("State()=%q, older snapshot applied", g.State())
	}
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteLocationSetup, domain.RouteMain}) {
		t.Fatalf("Routes()=%v", got)
	}
}

func TestGate_AuthenticatingDoesNotNavigate(t *testing.T) {
	t.Parallel()
	g, f, nav, _ := newGate(t)

	f.push(session.Snapshot{Restored: true})
	f.push(session.Snapshot{Restored: true, Session: sess(), Fetching: true})
	if g.State() != domain.StateAuthenticating {
		t.Fatalf("State()=%q", g.State())
	}
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteLogin}) {
		t.Fatalf("Routes()=%v", got)
	}
}

func TestGate_FetchFailurePostsNotice(t *testing.T) {
	t.Parallel()
	g, f, nav, notices := newGate(t)

	f.push(session.Snapshot{Restored: true})
	f.push(session.Snapshot{Restored: true, Session: sess(), Fetching: true})
	f.push(session.Snapshot{Restored: true, Session: sess(), FetchErr: profilerepo.ErrUnreachable})

	if g.State() != domain.StateUnauthenticated {
		t.Fatalf("State()=%q", g.State())
	}
	// Already on the login screen.
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteLogin}) {
		t.Fatalf("Routes()=%v", got)
	}
	got := notices.Notices()
	if len(got) != 1 || got[0].Kind != domain.KindNetworkUnreachable || got[0].Message != profileFetchFailedMessage {
		t.Fatalf("Notices()=%+v", got)
	}
}

func TestGate_SignOutReturnsToLogin(t *testing.T) {
	t.Parallel()
	g, f, nav, notices := newGate(t)

	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	f.push(session.Snapshot{Restored: true})
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteMain, domain.RouteLogin}) {
		t.Fatalf("Routes()=%v", got)
	}
	if len(notices.Notices()) != 0 {
		t.Fatalf("sign-out posted a notice")
	}
	hist := g.History()
	if len(hist) != 2 || hist[1].From != domain.StateReady || hist[1].To != domain.StateUnauthenticated || !hist[1].Navigated {
		t.Fatalf("History()=%+v", hist)
	}
}

func TestGate_ReadyProfileArrivingIncompleteReturnsToSetup(t *testing.T) {
	t.Parallel()
	g, f, nav, _ := newGate(t)

	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: stub()})
	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: stub()})

	if g.State() != domain.StateIncomplete {
		t.Fatalf("State()=%q, want incomplete", g.State())
	}
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteMain, domain.RouteLocationSetup}) {
		t.Fatalf("Routes()=%v, want one location-setup navigation after main", got)
	}
}

func TestGate_SubjectSwitchThroughAuthenticatingKeepsMain(t *testing.T) {
	t.Parallel()
	g, f, nav, _ := newGate(t)

	other := &domain.Session{Subject: "sub-2"}
	otherLocated := &domain.Profile{Subject: "sub-2", Latitude: ptr(23.7), Longitude: ptr(90.4)}

	f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	f.push(session.Snapshot{Restored: true, Session: other, Fetching: true})
	if g.State() != domain.StateAuthenticating {
		t.Fatalf("State()=%q, want authenticating", g.State())
	}
	f.push(session.Snapshot{Restored: true, Session: other, Profile: otherLocated})

	if g.State() != domain.StateReady {
		t.Fatalf("State()=%q, want ready", g.State())
	}
	if got := nav.Routes(); !routesEqual(got, []domain.Route{domain.RouteMain}) {
		t.Fatalf("Routes()=%v, want a single main navigation", got)
	}
}

// stateReader reads the gate from inside Replace, as a UI router would.
type stateReader struct {
	*memnavigator.Recorder
	gate *Gate
	seen []domain.OnboardingState
}

func (r *stateReader) Replace(ctx context.Context, route domain.Route) error {
	r.seen = append(r.seen, r.gate.State())
	return r.Recorder.Replace(ctx, route)
}

func TestGate_NavigatorMayReadGate(t *testing.T) {
	t.Parallel()
	f := &feed{}
	nav := &stateReader{Recorder: memnavigator.NewRecorder()}
	g := NewGate(f, nav, nil, nil)
	nav.gate = g
	t.Cleanup(g.Start())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.push(session.Snapshot{Restored: true, Session: sess(), Profile: stub()})
		f.push(session.Snapshot{Restored: true, Session: sess(), Profile: located()})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Observe deadlocked while the navigator read the gate")
	}
	want := []domain.OnboardingState{domain.StateIncomplete, domain.StateReady}
	if len(nav.seen) != len(want) || nav.seen[0] != want[0] || nav.seen[1] != want[1] {
		t.Fatalf("states seen by navigator=%v, want %v", nav.seen, want)
	}
}
