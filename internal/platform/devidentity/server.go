// Package devidentity is a local stand-in for the hosted identity service. It
// speaks the same REST dialect the gotrue adapter uses: password and refresh
// grants, sign-up, logout and user lookup, with HS256 access tokens.
package devidentity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Options struct {
	AnonKey   string
	JWTSecret []byte
	TokenTTL  time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type Server struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	users    map[string]user // by email
	refresh  map[string]string
	failNext int
}

type user struct {
	ID        string
	Email     string
	Hash      []byte
	CreatedAt time.Time
}

type userJSON struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Aud       string    `json:"aud"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionJSON struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	RefreshToken string   `json:"refresh_token"`
	User         userJSON `json:"user"`
}

// Claims are the access-token claims.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func NewServer(opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Server{
		opts:    opts,
		log:     log,
		users:   make(map[string]user),
		refresh: make(map[string]string),
	}
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/auth/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.injectFailures)
		r.Post("/signup", s.signUp)
		r.Post("/token", s.token)
		r.Post("/logout", s.logout)
		r.Get("/user", s.currentUser)
	})
	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != s.opts.AnonKey {
			writeError(w, http.StatusUnauthorized, "no_api_key", "No API key found in request")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failNext > 0
		if fail {
			s.failNext--
		}
		s.mu.Unlock()
		if fail {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "service unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentials struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || len(in.Password) < 6 {
		writeError(w, http.StatusUnprocessableEntity, "weak_password", "Password should be at least 6 characters")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.opts.BcryptCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "could not hash password")
		return
	}

	s.mu.Lock()
	if _, ok := s.users[email]; ok {
		s.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "user_already_exists", "User already registered")
		return
	}
	u := user{ID: uuid.NewString(), Email: email, Hash: hash, CreatedAt: s.opts.Now().UTC()}
	s.users[email] = u
	s.mu.Unlock()

	s.log.Info("user registered", zap.String("user_id", u.ID))
	s.issue(w, u)
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	switch r.URL.Query().Get("grant_type") {
	case "password":
		s.mu.Lock()
		u, ok := s.users[strings.ToLower(strings.TrimSpace(in.Email))]
		s.mu.Unlock()
		if !ok || bcrypt.CompareHashAndPassword(u.Hash, []byte(in.Password)) != nil {
			writeError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		s.issue(w, u)
	case "refresh_token":
		s.mu.Lock()
		email, ok := s.refresh[in.RefreshToken]
		delete(s.refresh, in.RefreshToken)
		u := s.users[email]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		s.issue(w, u)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	s.mu.Lock()
	for tok, email := range s.refresh {
		if email == claims.Email {
			delete(s.refresh, tok)
		}
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	s.mu.Lock()
	u, ok := s.users[claims.Email]
	s.mu.Unlock()
	if !ok || u.ID != claims.Subject {
		writeError(w, http.StatusNotFound, "user_not_found", "User not found")
		return
	}
	writeJSON(w, http.StatusOK, toUserJSON(u))
}

func (s *Server) issue(w http.ResponseWriter, u user) {
	now := s.opts.Now().UTC()
	exp := now.Add(s.opts.TokenTTL)
	claims := Claims{
		Email: u.Email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.JWTSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "unexpected_failure", "could not sign token")
		return
	}
	refresh := uuid.NewString()
	s.mu.Lock()
	s.refresh[refresh] = u.Email
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, sessionJSON{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.opts.TokenTTL / time.Second),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         toUserJSON(u),
	})
}

func (s *Server) authenticate(r *http.Request) (*Claims, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer token")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.opts.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.opts.Now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func toUserJSON(u user) userJSON {
	return userJSON{ID: u.ID, Email: u.Email, Aud: "authenticated", Role: "authenticated", CreatedAt: u.CreatedAt}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"code":       status,
		"error_code": code,
		"msg":        msg,
	})
}
