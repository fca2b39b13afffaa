// Package gotrue is an identity.Service backed by a GoTrue-compatible auth
// REST API (the hosted identity service or cmd/devidentity).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/domain"
	clockport "github.com/shomaj/neighborhood-client/internal/ports/out/clock"
	"github.com/shomaj/neighborhood-client/internal/ports/out/identity"
	"github.com/shomaj/neighborhood-client/internal/ports/out/sessionvault"
)

type Options struct {
	BaseURL string
	AnonKey string

	// RefreshMargin is how long before expiry a session is refreshed.
	RefreshMargin time.Duration

	HTTPClient *http.Client
}

// Client talks to the auth API and keeps the current session in a vault.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	anonKey string
	margin  time.Duration
	http    *http.Client
	vault   sessionvault.Vault
	clk     clockport.Clock
	log     *zap.Logger

	mu          sync.Mutex
	current     *domain.Session
	loaded      bool
	refreshing  bool
	refreshDone chan struct{}
	refreshErr  error
	subs        map[uint64]func(identity.Event)
	nextSub     uint64
}

func New(opts Options, vault sessionvault.Vault, clk clockport.Clock, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid auth base url %q", opts.BaseURL)
	}
	if opts.AnonKey == "" {
		return nil, errors.New("anon key is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: u.String(),
		anonKey: opts.AnonKey,
		margin:  opts.RefreshMargin,
		http:    httpClient,
		vault:   vault,
		clk:     clk,
		log:     log,
		subs:    make(map[uint64]func(identity.Event)),
	}, nil
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) SignIn(ctx context.Context, identifier, secret string) (domain.Session, error) {
	sess, err := c.grant(ctx, "password", map[string]string{"email": identifier, "password": secret})
	if err != nil {
		return domain.Session{}, err
	}
	c.install(ctx, sess, identity.EventSignedIn)
	return sess, nil
}

func (c *Client) SignUp(ctx context.Context, identifier, secret string) (domain.Session, error) {
	var resp sessionResponse
	if err := c.post(ctx, "/signup", "", map[string]string{"email": identifier, "password": secret}, &resp); err != nil {
		return domain.Session{}, err
	}
	if resp.AccessToken == "" {
		return domain.Session{}, &domain.Error{Kind: domain.KindCredentialRejected, Code: "confirmation_required", Message: "account created; confirm the email address before signing in"}
	}
	sess, err := c.toSession(resp)
	if err != nil {
		return domain.Session{}, err
	}
	c.install(ctx, sess, identity.EventSignedIn)
	return sess, nil
}

// SignOut revokes the session remotely and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.current = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.vault.Clear(ctx); err != nil {
		c.log.Warn("clear session vault failed", zap.Error(err))
	}
	if cur == nil {
		return nil
	}
	c.emit(identity.Event{Kind: identity.EventSignedOut})

	err := c.post(ctx, "/logout", cur.AccessToken, nil, nil)
	if err != nil && domain.KindOf(err) == domain.KindCredentialRejected {
		// The token is already dead; nothing left to revoke.
		return nil
	}
	return err
}

// GetSession returns the persisted session, refreshing it first when it is
// within the refresh margin of expiry. A session that can no longer be
// refreshed is dropped.
func (c *Client) GetSession(ctx context.Context) (domain.Session, bool, error) {
	sess, ok, err := c.load(ctx)
	if err != nil || !ok {
		return domain.Session{}, false, err
	}
	now := c.clk.Now()
	if !sess.ExpiresWithin(now, c.margin) {
		return sess, true, nil
	}

	refreshed, err := c.Refresh(ctx)
	switch {
	case err == nil:
		return refreshed, true, nil
	case domain.KindOf(err) == domain.KindCredentialRejected:
		c.log.Info("persisted session can no longer be refreshed", zap.String("subject", string(sess.Subject)))
		return domain.Session{}, false, nil
	case !sess.Expired(now):
		// Still usable; the refresh loop will retry.
		c.log.Warn("session refresh failed", zap.Error(err))
		return sess, true, nil
	default:
		return domain.Session{}, false, err
	}
}

// Refresh exchanges the refresh token for a new session and emits
// EventTokenRefreshed. Concurrent callers share one request.
func (c *Client) Refresh(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := c.refreshDone
		c.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.refreshErr != nil {
			return domain.Session{}, c.refreshErr
		}
		if c.current == nil {
			return domain.Session{}, identity.ErrSessionExpired
		}
		return *c.current, nil
	}
	cur := c.current
	if cur == nil || cur.RefreshToken == "" {
		c.mu.Unlock()
		return domain.Session{}, identity.ErrSessionExpired
	}
	c.refreshing = true
	c.refreshDone = make(chan struct{})
	ch := c.refreshDone
	c.mu.Unlock()

	sess, err := c.grant(ctx, "refresh_token", map[string]string{"refresh_token": cur.RefreshToken})
	if err != nil && domain.KindOf(err) == domain.KindCredentialRejected {
		c.drop(ctx, cur.Subject)
	}

	c.mu.Lock()
	c.refreshing = false
	c.refreshErr = err
	close(ch)
	c.mu.Unlock()

	if err != nil {
		return domain.Session{}, err
	}
	c.install(ctx, sess, identity.EventTokenRefreshed)
	return sess, nil
}

// Run refreshes the session whenever it enters the refresh margin, checking
// every interval, until ctx is done.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.RefreshIfDue(ctx); err != nil {
				c.log.Warn("background session refresh failed", zap.Error(err))
			}
		}
	}
}

// RefreshIfDue refreshes the current session if it is within the refresh margin.
func (c *Client) RefreshIfDue(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || !cur.ExpiresWithin(c.clk.Now(), c.margin) {
		return nil
	}
	_, err := c.Refresh(ctx)
	return err
}

func (c *Client) Subscribe(fn func(identity.Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Client) load(ctx context.Context) (domain.Session, bool, error) {
	c.mu.Lock()
	if c.loaded {
		defer c.mu.Unlock()
		if c.current == nil {
			return domain.Session{}, false, nil
		}
		return *c.current, true, nil
	}
	c.mu.Unlock()

	sess, ok, err := c.vault.Load(ctx)
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("load session vault: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		if ok {
			c.current = &sess
		}
	}
	if c.current == nil {
		return domain.Session{}, false, nil
	}
	return *c.current, true, nil
}

func (c *Client) install(ctx context.Context, sess domain.Session, kind identity.EventKind) {
	c.mu.Lock()
	c.current = &sess
	c.loaded = true
	c.mu.Unlock()
	if err := c.vault.Save(ctx, sess); err != nil {
		c.log.Warn("persist session failed", zap.String("subject", string(sess.Subject)), zap.Error(err))
	}
	c.emit(identity.Event{Kind: kind, Session: &sess})
}

// drop forgets the session for subject after the server refused to refresh it.
func (c *Client) drop(ctx context.Context, subject domain.SubjectID) {
	c.mu.Lock()
	if c.current == nil || c.current.Subject != subject {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.mu.Unlock()
	if err := c.vault.Clear(ctx); err != nil {
		c.log.Warn("clear session vault failed", zap.Error(err))
	}
	c.emit(identity.Event{Kind: identity.EventSignedOut})
}

func (c *Client) emit(ev identity.Event) {
	c.mu.Lock()
	fns := make([]func(identity.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) grant(ctx context.Context, grantType string, body map[string]string) (domain.Session, error) {
	var resp sessionResponse
	if err := c.post(ctx, "/token?grant_type="+url.QueryEscape(grantType), "", body, &resp); err != nil {
		return domain.Session{}, err
	}
	return c.toSession(resp)
}

// toSession builds a session from a grant response. Subject and expiry fall
// back to the access-token claims when the response omits them; the token is
// not verified here, the issuing server is trusted over TLS.
func (c *Client) toSession(resp sessionResponse) (domain.Session, error) {
	if resp.AccessToken == "" {
		return domain.Session{}, fmt.Errorf("%w: empty access token", identity.ErrUnreachable)
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, &claims); err != nil {
		return domain.Session{}, fmt.Errorf("parse access token: %w", err)
	}

	now := c.clk.Now()
	sess := domain.Session{
		Subject:      domain.SubjectID(resp.User.ID),
		Email:        resp.User.Email,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     now,
	}
	if sess.Subject == "" {
		sess.Subject = domain.SubjectID(claims.Subject)
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.UTC()
	}
	switch {
	case resp.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	case claims.ExpiresAt != nil:
		sess.ExpiresAt = claims.ExpiresAt.UTC()
	case resp.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if sess.Subject == "" {
		return domain.Session{}, errors.New("grant response has no subject")
	}
	return sess, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, in any, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/v1"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", identity.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return mapError(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	return nil
}

func mapError(status int, raw []byte) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	code := er.ErrorCode
	if code == "" {
		code = er.Error
	}
	msg := er.Msg
	if msg == "" {
		msg = er.ErrorDescription
	}
	detail := fmt.Sprintf("status=%d code=%s msg=%s", status, code, msg)

	switch {
	case code == "invalid_credentials" || code == "invalid_grant" && strings.Contains(strings.ToLower(msg), "credentials"):
		return fmt.Errorf("%w: %s", identity.ErrInvalidCredentials, detail)
	case code == "user_already_exists":
		return fmt.Errorf("%w: %s", identity.ErrAccountExists, detail)
	case code == "weak_password":
		return domain.ValidationFailed(code, msg, "password")
	case code == "refresh_token_not_found" || code == "invalid_grant" || status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", identity.ErrSessionExpired, detail)
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", identity.ErrUnreachable, detail)
	default:
		return &domain.Error{Kind: domain.KindUnknown, Code: code, Message: "identity service rejected the request", Err: errors.New(detail)}
	}
}
