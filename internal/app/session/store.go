package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/domain"
	clockport "github.com/shomaj/neighborhood-client/internal/ports/out/clock"
	"github.com/shomaj/neighborhood-client/internal/ports/out/identity"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

var (
	// ErrNotSignedIn is returned by operations that need a live session.
	ErrNotSignedIn = &domain.Error{Kind: domain.KindCredentialRejected, Code: "not_signed_in", Message: "not signed in"}

	// ErrSuperseded is returned when a result arrived after the session it belonged to was replaced.
	ErrSuperseded = &domain.Error{Kind: domain.KindUnknown, Code: "superseded", Message: "session changed before the request completed"}

	// ErrProfilePending is returned when a profile fetch is already in flight.
	ErrProfilePending = &domain.Error{Kind: domain.KindUnknown, Code: "profile_pending", Message: "profile fetch in progress"}
)

// Snapshot is one committed (Session, Profile) pair.
//
// Version increases with every commit; consumers compare versions instead of
// reacting to event payloads.
type Snapshot struct {
	Version uint64

	// Restored is false until RestoreSession has resolved.
	Restored bool

	Session *domain.Session
	Profile *domain.Profile

	// Fetching is true while the profile for Session is being fetched.
	Fetching bool
	// FetchErr is the error of the last failed profile fetch for Session, if any.
	FetchErr error
}

// Store owns the current session and profile. All writes to the pair go
// through its operations; every commit is delivered to subscribers in
// version order.
type Store struct {
	identity identity.Service
	profiles profilerepo.Repository
	clk      clockport.Clock
	log      *zap.Logger

	// FetchTimeout bounds profile fetches started by identity events.
	FetchTimeout time.Duration

	mu             sync.Mutex
	session        *domain.Session
	profile        *domain.Profile
	fetching       bool
	fetchErr       error
	restored       bool
	restoreStarted bool
	// gen changes whenever the session subject changes or is cleared; rev
	// changes whenever the profile is replaced by a write. In-flight work
	// captures both and is discarded if either moved.
	gen     uint64
	rev     uint64
	version uint64
	// signOuts counts clears; signingIn counts local sign-ins and sign-ups
	// waiting on the identity service.
	signOuts  uint64
	signingIn int

	notifyMu  sync.Mutex
	subs      []subscriber
	nextSubID uint64
	pending   *Snapshot
	draining  bool
	delivered uint64
}

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

type token struct {
	gen uint64
	rev uint64
}

func NewStore(idp identity.Service, profiles profilerepo.Repository, clk clockport.Clock, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		identity:     idp,
		profiles:     profiles,
		clk:          clk,
		log:          log,
		FetchTimeout: 10 * time.Second,
	}
}

// Snapshot returns the latest committed pair.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every committed change and returns an unsubscribe func.
// Deliveries are serialized and ordered by Snapshot.Version; a subscriber that
// falls behind sees only the latest snapshot.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Watch subscribes the store to identity-service session events and returns
// an unsubscribe func.
func (s *Store) Watch() func() {
	return s.identity.Subscribe(s.handleEvent)
}

// RestoreSession loads the persisted session once per process. Any retrieval
// error is logged and resolves to the signed-out state; it is never retried.
func (s *Store) RestoreSession(ctx context.Context) Snapshot {
	s.mu.Lock()
	if s.restoreStarted {
		defer s.mu.Unlock()
		return s.snapshotLocked()
	}
	s.restoreStarted = true
	startGen := s.gen
	s.mu.Unlock()

	sess, ok, err := s.identity.GetSession(ctx)
	if err != nil {
		s.log.Warn("session restore failed", zap.Error(err))
		ok = false
	}
	if ok && sess.Expired(s.clk.Now()) {
		s.log.Info("restored session already expired", zap.String("subject", string(sess.Subject)))
		ok = false
	}

	s.mu.Lock()
	s.restored = true
	// A sign-in or sign-out that landed while we were restoring wins.
	if !ok || s.gen != startGen {
		snap := s.commitLocked()
		s.mu.Unlock()
		s.publish(snap)
		return snap
	}
	needProfile := s.adoptLocked(sess)
	tok := s.tokenLocked()
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)

	if needProfile {
		_, _ = s.fetch(ctx, tok, sess)
	}
	return s.Snapshot()
}

// SignIn authenticates and then fetches the subject's profile.
func (s *Store) SignIn(ctx context.Context, identifier, secret string) (domain.Session, error) {
	identifier = strings.TrimSpace(identifier)
	if err := requireCredentials(identifier, secret); err != nil {
		return domain.Session{}, err
	}
	since := s.beginSignIn()
	defer s.endSignIn()
	sess, err := s.identity.SignIn(ctx, identifier, secret)
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign in: %w", domain.Wrap(domain.KindUnknown, "identity service error", err))
	}
	needProfile, tok, err := s.install(ctx, sess, since)
	if err != nil {
		return domain.Session{}, err
	}
	if needProfile {
		_, _ = s.fetch(ctx, tok, sess)
	}
	return sess, nil
}

// SignUp registers, installs the session and creates the stub profile.
//
// If the stub cannot be created the session stays valid; the profile is
// repaired on the next access (EnsureProfile, sign-in, or a refresh event).
func (s *Store) SignUp(ctx context.Context, identifier, secret string) (domain.Session, error) {
	identifier = strings.TrimSpace(identifier)
	if err := requireCredentials(identifier, secret); err != nil {
		return domain.Session{}, err
	}
	since := s.beginSignIn()
	defer s.endSignIn()
	sess, err := s.identity.SignUp(ctx, identifier, secret)
	if err != nil {
		return domain.Session{}, fmt.Errorf("sign up: %w", domain.Wrap(domain.KindUnknown, "identity service error", err))
	}
	if sess.Email == "" {
		sess.Email = identifier
	}

	needProfile, tok, err := s.install(ctx, sess, since)
	if err != nil {
		return domain.Session{}, err
	}
	if !needProfile {
		return sess, nil
	}

	stub := domain.StubProfile(sess.Subject, sess.Email, s.clk.Now())
	switch err := s.profiles.Create(ctx, stub); {
	case err == nil:
		s.settle(tok, &stub, nil)
	case errors.Is(err, profilerepo.ErrAlreadyExists):
		_, _ = s.fetch(ctx, tok, sess)
	default:
		s.log.Warn("stub profile creation failed; repair deferred to next access",
			zap.String("subject", string(sess.Subject)), zap.Error(err))
		s.settle(tok, nil, fmt.Errorf("create profile: %w", err))
	}
	return sess, nil
}

// SignOut clears the session and profile locally, then tells the identity
// service. It is idempotent; the local state is cleared even if the remote
// call fails. A sign-in or sign-up still in flight when SignOut runs is
// revoked when it completes.
func (s *Store) SignOut(ctx context.Context) error {
	s.clear()
	if err := s.identity.SignOut(ctx); err != nil {
		s.log.Warn("identity sign out failed", zap.Error(err))
		return fmt.Errorf("sign out: %w", domain.Wrap(domain.KindUnknown, "identity service error", err))
	}
	return nil
}

// EnsureProfile returns the cached profile, fetching it first if the session
// has none (the lazy retry after a failed fetch or stub creation).
func (s *Store) EnsureProfile(ctx context.Context) (domain.Profile, error) {
	s.mu.Lock()
	switch {
	case s.session == nil:
		s.mu.Unlock()
		return domain.Profile{}, ErrNotSignedIn
	case s.profile != nil:
		defer s.mu.Unlock()
		return s.profile.Clone(), nil
	case s.fetching:
		s.mu.Unlock()
		return domain.Profile{}, ErrProfilePending
	}
	sess := *s.session
	s.fetching = true
	s.fetchErr = nil
	tok := s.tokenLocked()
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)

	return s.fetch(ctx, tok, sess)
}

// UpdateProfile writes patch through the record store and replaces the cached
// profile with the stored result.
func (s *Store) UpdateProfile(ctx context.Context, patch profilerepo.Patch) (domain.Profile, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return domain.Profile{}, ErrNotSignedIn
	}
	subject := s.session.Subject
	gen := s.gen
	s.mu.Unlock()

	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = s.clk.Now()
	}
	p, err := s.profiles.Update(ctx, subject, patch)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("update profile: %w", domain.Wrap(domain.KindUnknown, "record store error", err))
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug("discarding profile update for superseded session", zap.String("subject", string(subject)))
		return domain.Profile{}, ErrSuperseded
	}
	s.rev++
	stored := p.Clone()
	s.profile = &stored
	s.fetchErr = nil
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)
	return p.Clone(), nil
}

func (s *Store) handleEvent(ev identity.Event) {
	switch ev.Kind {
	case identity.EventSignedOut:
		s.clear()
	case identity.EventSignedIn, identity.EventTokenRefreshed:
		if ev.Session == nil {
			return
		}
		if ev.Kind == identity.EventSignedIn && s.signInPending() {
			// The pending SignIn or SignUp installs it, or revokes it if a
			// sign-out landed first.
			s.log.Debug("leaving signed-in event to the pending sign-in", zap.String("subject", string(ev.Session.Subject)))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.FetchTimeout)
		defer cancel()
		s.adopt(ctx, *ev.Session)
	default:
		s.log.Debug("ignoring identity event", zap.String("kind", string(ev.Kind)))
	}
}

// adopt installs sess and fetches the profile if none is cached for its subject.
func (s *Store) adopt(ctx context.Context, sess domain.Session) {
	s.mu.Lock()
	needProfile := s.adoptLocked(sess)
	tok := s.tokenLocked()
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)

	if needProfile {
		_, _ = s.fetch(ctx, tok, sess)
	}
}

// install adopts sess from a sign-in or sign-up that began after the
// since-th sign-out. If a sign-out happened meanwhile, the session is revoked
// at the identity service and ErrSuperseded is returned. Otherwise the most
// recently completed sign-in wins.
func (s *Store) install(ctx context.Context, sess domain.Session, since uint64) (bool, token, error) {
	s.mu.Lock()
	if s.signOuts != since {
		s.mu.Unlock()
		s.log.Info("revoking sign-in that completed after a sign-out", zap.String("subject", string(sess.Subject)))
		if err := s.identity.SignOut(ctx); err != nil {
			s.log.Warn("revoking superseded session failed", zap.String("subject", string(sess.Subject)), zap.Error(err))
		}
		return false, token{}, ErrSuperseded
	}
	needProfile := s.adoptLocked(sess)
	tok := s.tokenLocked()
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)
	return needProfile, tok, nil
}

func (s *Store) beginSignIn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signingIn++
	return s.signOuts
}

func (s *Store) endSignIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signingIn--
}

func (s *Store) signInPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signingIn > 0
}

// adoptLocked installs sess. A new subject invalidates in-flight work and the
// cached profile. It reports whether a profile load must start; if so it has
// already marked the fetch as in flight.
func (s *Store) adoptLocked(sess domain.Session) bool {
	cp := sess
	if s.session != nil && s.session.Subject == sess.Subject {
		s.session = &cp
		if s.profile != nil || s.fetching {
			return false
		}
	} else {
		s.gen++
		s.session = &cp
		s.profile = nil
	}
	s.fetching = true
	s.fetchErr = nil
	return true
}

func (s *Store) clear() {
	s.mu.Lock()
	changed := s.session != nil || s.profile != nil || s.fetching || s.fetchErr != nil
	s.gen++
	s.signOuts++
	s.session = nil
	s.profile = nil
	s.fetching = false
	s.fetchErr = nil
	if !changed {
		s.mu.Unlock()
		return
	}
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// fetch loads the profile for sess and commits it unless tok was superseded.
func (s *Store) fetch(ctx context.Context, tok token, sess domain.Session) (domain.Profile, error) {
	p, err := s.loadProfile(ctx, sess)
	if err != nil {
		s.log.Warn("profile fetch failed", zap.String("subject", string(sess.Subject)), zap.Error(err))
		err = fmt.Errorf("fetch profile: %w", domain.Wrap(domain.KindUnknown, "record store error", err))
		if !s.settle(tok, nil, err) {
			return domain.Profile{}, ErrSuperseded
		}
		return domain.Profile{}, err
	}
	if !s.settle(tok, &p, nil) {
		return domain.Profile{}, ErrSuperseded
	}
	return p.Clone(), nil
}

// loadProfile fetches the profile, creating the stub if registration never did.
func (s *Store) loadProfile(ctx context.Context, sess domain.Session) (domain.Profile, error) {
	p, err := s.profiles.Fetch(ctx, sess.Subject)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, profilerepo.ErrNotFound) {
		return domain.Profile{}, err
	}

	stub := domain.StubProfile(sess.Subject, sess.Email, s.clk.Now())
	if err := s.profiles.Create(ctx, stub); err != nil {
		if errors.Is(err, profilerepo.ErrAlreadyExists) {
			return s.profiles.Fetch(ctx, sess.Subject)
		}
		return domain.Profile{}, fmt.Errorf("repair missing profile: %w", err)
	}
	s.log.Info("created missing profile stub", zap.String("subject", string(sess.Subject)))
	return stub, nil
}

// settle ends an in-flight load. It returns false if tok was superseded, in
// which case the result is dropped.
func (s *Store) settle(tok token, p *domain.Profile, err error) bool {
	s.mu.Lock()
	if s.gen != tok.gen {
		s.mu.Unlock()
		s.log.Debug("discarding superseded profile result")
		return false
	}
	s.fetching = false
	if s.rev != tok.rev {
		// A write replaced the profile while we were loading; it is newer.
		snap := s.commitLocked()
		s.mu.Unlock()
		s.publish(snap)
		return false
	}
	if err != nil {
		s.profile = nil
		s.fetchErr = err
	} else {
		cp := p.Clone()
		s.profile = &cp
		s.fetchErr = nil
	}
	snap := s.commitLocked()
	s.mu.Unlock()
	s.publish(snap)
	return true
}

func (s *Store) tokenLocked() token {
	return token{gen: s.gen, rev: s.rev}
}

func (s *Store) commitLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:  s.version,
		Restored: s.restored,
		Fetching: s.fetching,
		FetchErr: s.fetchErr,
	}
	if s.session != nil {
		cp := *s.session
		snap.Session = &cp
	}
	if s.profile != nil {
		cp := s.profile.Clone()
		snap.Profile = &cp
	}
	return snap
}

// publish delivers snap to subscribers. Only one goroutine drains at a time;
// a publish that arrives mid-drain is folded into the drain, and stale
// versions are skipped, so subscribers always move forward.
func (s *Store) publish(snap Snapshot) {
	s.notifyMu.Lock()
	if s.pending == nil || snap.Version > s.pending.Version {
		s.pending = &snap
	}
	if s.draining {
		s.notifyMu.Unlock()
		return
	}
	s.draining = true
	for s.pending != nil {
		next := *s.pending
		s.pending = nil
		if next.Version <= s.delivered {
			continue
		}
		s.delivered = next.Version
		subs := append([]subscriber(nil), s.subs...)
		s.notifyMu.Unlock()
		for _, sub := range subs {
			sub.fn(next)
		}
		s.notifyMu.Lock()
	}
	s.draining = false
	s.notifyMu.Unlock()
}

func requireCredentials(identifier, secret string) error {
	var missing []string
	if identifier == "" {
		missing = append(missing, "email")
	}
	if secret == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return domain.ValidationFailed(domain.CodeInvalidField, "email and password are required", missing...)
	}
	return nil
}
