package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/shomaj/neighborhood-client/internal/domain"
	clockport "github.com/shomaj/neighborhood-client/internal/ports/out/clock"
	"github.com/shomaj/neighborhood-client/internal/ports/out/identity"
	"github.com/shomaj/neighborhood-client/internal/ports/out/sessionvault"
)

// Service is an in-memory identity service. Accounts live in process; the
// current session optionally persists through a vault so a new Service over
// the same vault can restore it.
// It is safe for concurrent use.
type Service struct {
	clk   clockport.Clock
	vault sessionvault.Vault

	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration

	mu          sync.Mutex
	accounts    map[string]account
	current     *domain.Session
	unreachable bool
	subs        map[uint64]func(identity.Event)
	nextSub     uint64
}

type account struct {
	subject domain.SubjectID
	email   string
	hash    []byte
}

// NewService returns a Service. vault may be nil.
func NewService(clk clockport.Clock, vault sessionvault.Vault) *Service {
	return &Service{
		clk:      clk,
		vault:    vault,
		TokenTTL: time.Hour,
		accounts: make(map[string]account),
		subs:     make(map[uint64]func(identity.Event)),
	}
}

// SetUnreachable makes every remote call fail with identity.ErrUnreachable.
func (s *Service) SetUnreachable(v bool) {
	s.mu.Lock()
	s.unreachable = v
	s.mu.Unlock()
}

// Register creates an account without signing in.
func (s *Service) Register(identifier, secret string) (domain.SubjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, err := s.registerLocked(identifier, secret)
	if err != nil {
		return "", err
	}
	return acct.subject, nil
}

func (s *Service) SignIn(ctx context.Context, identifier, secret string) (domain.Session, error) {
	s.mu.Lock()
	if s.unreachable {
		s.mu.Unlock()
		return domain.Session{}, identity.ErrUnreachable
	}
	acct, ok := s.accounts[normalizeIdentifier(identifier)]
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(secret)) != nil {
		s.mu.Unlock()
		return domain.Session{}, identity.ErrInvalidCredentials
	}
	sess := s.issueLocked(acct)
	s.mu.Unlock()

	if err := s.persist(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	s.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})
	return sess, nil
}

func (s *Service) SignUp(ctx context.Context, identifier, secret string) (domain.Session, error) {
	s.mu.Lock()
	if s.unreachable {
		s.mu.Unlock()
		return domain.Session{}, identity.ErrUnreachable
	}
	acct, err := s.registerLocked(identifier, secret)
	if err != nil {
		s.mu.Unlock()
		return domain.Session{}, err
	}
	sess := s.issueLocked(acct)
	s.mu.Unlock()

	if err := s.persist(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	s.emit(identity.Event{Kind: identity.EventSignedIn, Session: &sess})
	return sess, nil
}

// SignOut ends the current session. Signing out without a session is a no-op.
func (s *Service) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if s.unreachable {
		s.mu.Unlock()
		return identity.ErrUnreachable
	}
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if err := s.persist(ctx, nil); err != nil {
		return err
	}
	if had {
		s.emit(identity.Event{Kind: identity.EventSignedOut})
	}
	return nil
}

func (s *Service) GetSession(ctx context.Context) (domain.Session, bool, error) {
	s.mu.Lock()
	if s.unreachable {
		s.mu.Unlock()
		return domain.Session{}, false, identity.ErrUnreachable
	}
	if s.current != nil {
		defer s.mu.Unlock()
		return *s.current, true, nil
	}
	s.mu.Unlock()

	if s.vault == nil {
		return domain.Session{}, false, nil
	}
	sess, ok, err := s.vault.Load(ctx)
	if err != nil || !ok {
		return domain.Session{}, false, err
	}
	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	return sess, true, nil
}

// Refresh rotates the access token of the current session and emits
// EventTokenRefreshed. It reports false if there is no session.
func (s *Service) Refresh(ctx context.Context) (domain.Session, bool, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return domain.Session{}, false, nil
	}
	sess := *s.current
	now := s.clk.Now()
	sess.AccessToken = uuid.NewString()
	sess.IssuedAt = now
	sess.ExpiresAt = now.Add(s.TokenTTL)
	s.current = &sess
	s.mu.Unlock()

	if err := s.persist(ctx, &sess); err != nil {
		return domain.Session{}, false, err
	}
	s.emit(identity.Event{Kind: identity.EventTokenRefreshed, Session: &sess})
	return sess, true, nil
}

func (s *Service) Subscribe(fn func(identity.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service) registerLocked(identifier, secret string) (account, error) {
	key := normalizeIdentifier(identifier)
	if key == "" || secret == "" {
		return account{}, identity.ErrInvalidCredentials
	}
	if _, ok := s.accounts[key]; ok {
		return account{}, identity.ErrAccountExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		return account{}, identity.ErrInvalidCredentials
	}
	acct := account{
		subject: domain.SubjectID(uuid.NewString()),
		email:   key,
		hash:    hash,
	}
	s.accounts[key] = acct
	return acct, nil
}

func (s *Service) issueLocked(acct account) domain.Session {
	now := s.clk.Now()
	sess := domain.Session{
		Subject:      acct.subject,
		Email:        acct.email,
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.TokenTTL),
	}
	s.current = &sess
	return sess
}

// persist writes sess to the vault, or clears it when sess is nil.
func (s *Service) persist(ctx context.Context, sess *domain.Session) error {
	if s.vault == nil {
		return nil
	}
	if sess == nil {
		return s.vault.Clear(ctx)
	}
	return s.vault.Save(ctx, *sess)
}

// emit delivers ev outside the lock; subscribers may call back into s.
func (s *Service) emit(ev identity.Event) {
	s.mu.Lock()
	fns := make([]func(identity.Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
