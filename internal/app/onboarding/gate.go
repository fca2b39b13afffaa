package onboarding

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/app/session"
	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/navigator"
	"github.com/shomaj/neighborhood-client/internal/ports/out/notice"
)

const profileFetchFailedMessage = "Error fetching user profile"

// Source is the committed-state feed the gate derives from.
type Source interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

// Derive maps a committed snapshot to its onboarding state.
//
// A session whose profile is not loaded is authenticating while the fetch
// runs and unauthenticated once it has failed; it is never incomplete.
func Derive(s session.Snapshot) domain.OnboardingState {
	switch {
	case s.Session == nil:
		return domain.StateUnauthenticated
	case s.Profile != nil && domain.IsComplete(s.Profile):
		return domain.StateReady
	case s.Profile != nil:
		return domain.StateIncomplete
	case s.Fetching:
		return domain.StateAuthenticating
	default:
		return domain.StateUnauthenticated
	}
}

// Transition is one observed state change.
type Transition struct {
	From      domain.OnboardingState
	To        domain.OnboardingState
	Version   uint64
	Route     domain.Route
	Navigated bool
}

// Gate routes the user to the screen for the current onboarding state.
//
// It reacts to committed snapshots only, ignores everything until session
// restore has resolved, and navigates at most once per state entry.
type Gate struct {
	src     Source
	nav     navigator.Navigator
	notices notice.Sink
	log     *zap.Logger

	// NavigateTimeout bounds a single Replace call.
	NavigateTimeout time.Duration

	actMu sync.Mutex

	mu          sync.Mutex
	state       domain.OnboardingState
	entered     bool
	lastActed   domain.OnboardingState
	lastVersion uint64
	history     []Transition
}

func NewGate(src Source, nav navigator.Navigator, notices notice.Sink, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		src:             src,
		nav:             nav,
		notices:         notices,
		log:             log,
		NavigateTimeout: 5 * time.Second,
		state:           domain.StateUnauthenticated,
	}
}

// Start subscribes to the source, evaluates the current snapshot and returns
// a stop func.
func (g *Gate) Start() (stop func()) {
	unsubscribe := g.src.Subscribe(g.Observe)
	g.Observe(g.src.Snapshot())
	return unsubscribe
}

// State returns the current onboarding state.
func (g *Gate) State() domain.OnboardingState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Route returns the route for the current state.
func (g *Gate) Route() domain.Route {
	return domain.RouteFor(g.State())
}

// History returns every transition observed so far, oldest first.
func (g *Gate) History() []Transition {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Transition(nil), g.history...)
}

// Observe evaluates snap. Snapshots older than the last one seen are ignored.
//
// The navigator and notice sink run without g.mu held, so they may read the
// gate; actMu keeps their calls in transition order.
func (g *Gate) Observe(snap session.Snapshot) {
	g.actMu.Lock()
	defer g.actMu.Unlock()

	tr, postNotice, ok := g.advance(snap)
	if !ok {
		return
	}
	if tr.Navigated {
		ctx, cancel := context.WithTimeout(context.Background(), g.NavigateTimeout)
		if err := g.nav.Replace(ctx, tr.Route); err != nil {
			g.log.Warn("navigation failed", zap.String("route", string(tr.Route)), zap.Error(err))
		}
		cancel()
	}
	if postNotice && g.notices != nil {
		g.notices.Post(notice.Notice{Kind: domain.KindOf(snap.FetchErr), Message: profileFetchFailedMessage})
	}

	g.log.Info("onboarding state changed",
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.Uint64("version", snap.Version),
		zap.Bool("navigated", tr.Navigated),
	)
}

// advance records the transition snap causes, if any, and decides whether it
// navigates and whether it surfaces a fetch failure.
func (g *Gate) advance(snap session.Snapshot) (Transition, bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !snap.Restored {
		return Transition{}, false, false
	}
	if g.entered && snap.Version <= g.lastVersion {
		return Transition{}, false, false
	}
	g.lastVersion = snap.Version

	next := Derive(snap)
	if g.entered && next == g.state {
		return Transition{}, false, false
	}
	tr := Transition{From: g.state, To: next, Version: snap.Version}
	g.state = next
	g.entered = true

	if route := domain.RouteFor(next); route != domain.RouteNone && g.lastActed != next {
		g.lastActed = next
		tr.Route = route
		tr.Navigated = true
	}
	g.history = append(g.history, tr)
	postNotice := next == domain.StateUnauthenticated && snap.Session != nil && snap.FetchErr != nil
	return tr, postNotice, true
}
