package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/nullable"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/app/location"
	"github.com/shomaj/neighborhood-client/internal/app/onboarding"
	"github.com/shomaj/neighborhood-client/internal/app/profile"
	"github.com/shomaj/neighborhood-client/internal/app/session"
	"github.com/shomaj/neighborhood-client/internal/domain"
	clockport "github.com/shomaj/neighborhood-client/internal/ports/out/clock"
	"github.com/shomaj/neighborhood-client/internal/ports/out/idempotency"
	"github.com/shomaj/neighborhood-client/internal/ports/out/notice"
)

const maxBodyBytes = 1 << 20

// Screen reports the route the UI is currently showing.
type Screen interface {
	Current() domain.Route
}

// NoticeQueue hands out notices that have not been shown yet.
type NoticeQueue interface {
	Drain() []notice.Notice
}

// Services are the app components the shell drives.
type Services struct {
	Sessions *session.Store
	Gate     *onboarding.Gate
	Profiles *profile.Service
	Location *location.Acquisition

	// Screen and Notices are optional.
	Screen  Screen
	Notices NoticeQueue
}

// Server is the app shell HTTP adapter: the local surface a UI process
// drives. Handlers decode requests, call one app operation and encode the
// committed result.
type Server struct {
	Services

	Idem          idempotency.Store
	DefaultRadius domain.Radius

	clk clockport.Clock
	log *zap.Logger
}

func NewServer(svc Services, idem idempotency.Store, clk clockport.Clock, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		Services:      svc,
		Idem:          idem,
		DefaultRadius: domain.DefaultRadius,
		clk:           clk,
		log:           log,
	}
}

// ---- onboarding ----

type OnboardingResponse struct {
	State    domain.OnboardingState `json:"state"`
	Route    string                 `json:"route"`
	Screen   string                 `json:"screen"`
	Restored bool                   `json:"restored"`
	Version  uint64                 `json:"version"`
	Notices  []NoticeJSON           `json:"notices"`
}

type NoticeJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) GetOnboarding(w http.ResponseWriter, r *http.Request) {
	snap := s.Sessions.Snapshot()
	resp := OnboardingResponse{
		State:    onboarding.Derive(snap),
		Restored: snap.Restored,
		Version:  snap.Version,
		Notices:  []NoticeJSON{},
	}
	if s.Gate != nil {
		resp.State = s.Gate.State()
	}
	resp.Route = string(domain.RouteFor(resp.State))
	if s.Screen != nil {
		resp.Screen = string(s.Screen.Current())
	}
	if s.Notices != nil {
		for _, n := range s.Notices.Drain() {
			resp.Notices = append(resp.Notices, NoticeJSON{Kind: string(n.Kind), Message: n.Message})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- session ----

type CredentialsRequest struct {
	Email    openapi_types.Email `json:"email"`
	Password string              `json:"password"`
}

type SessionResponse struct {
	SignedIn  bool                         `json:"signedIn"`
	Subject   nullable.Nullable[string]    `json:"subject"`
	Email     nullable.Nullable[string]    `json:"email"`
	ExpiresAt nullable.Nullable[time.Time] `json:"expiresAt"`
}

func sessionFromDomain(sess *domain.Session) SessionResponse {
	var out SessionResponse
	if sess == nil {
		out.Subject.SetNull()
		out.Email.SetNull()
		out.ExpiresAt.SetNull()
		return out
	}
	out.SignedIn = true
	out.Subject.Set(string(sess.Subject))
	out.Email.Set(sess.Email)
	if sess.ExpiresAt.IsZero() {
		out.ExpiresAt.SetNull()
	} else {
		out.ExpiresAt.Set(sess.ExpiresAt.UTC())
	}
	return out
}

func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFromDomain(s.Sessions.Snapshot().Session))
}

func (s *Server) SignIn(w http.ResponseWriter, r *http.Request) {
	s.credentials(w, r, s.Sessions.SignIn)
}

func (s *Server) SignUp(w http.ResponseWriter, r *http.Request) {
	s.credentials(w, r, s.Sessions.SignUp)
}

func (s *Server) credentials(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, identifier, secret string) (domain.Session, error)) {
	var body CredentialsRequest
	if !s.decode(w, r, &body) {
		return
	}
	sess, err := op(r.Context(), strings.TrimSpace(string(body.Email)), body.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionFromDomain(&sess))
}

func (s *Server) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.SignOut(r.Context()); err != nil {
		// Local state is already cleared; the remote revoke is best effort.
		s.log.Warn("remote sign-out failed", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- profile ----

type ProfileJSON struct {
	Subject            string                       `json:"subject"`
	Email              string                       `json:"email"`
	DisplayName        string                       `json:"displayName"`
	Bio                string                       `json:"bio"`
	AvatarURL          nullable.Nullable[string]    `json:"avatarUrl"`
	Phone              nullable.Nullable[string]    `json:"phone"`
	Latitude           nullable.Nullable[float64]   `json:"latitude"`
	Longitude          nullable.Nullable[float64]   `json:"longitude"`
	Street             nullable.Nullable[string]    `json:"street"`
	City               nullable.Nullable[string]    `json:"city"`
	State              nullable.Nullable[string]    `json:"state"`
	Country            nullable.Nullable[string]    `json:"country"`
	NeighborhoodRadius nullable.Nullable[int]       `json:"neighborhoodRadius"`
	LocationUpdatedAt  nullable.Nullable[time.Time] `json:"locationUpdatedAt"`
	Complete           bool                         `json:"complete"`
	UpdatedAt          time.Time                    `json:"updatedAt"`
}

type ProfileResponse struct {
	Profile ProfileJSON `json:"profile"`
}

type UpdateProfileRequest struct {
	DisplayName nullable.Nullable[string] `json:"displayName,omitempty"`
	Bio         nullable.Nullable[string] `json:"bio,omitempty"`
	AvatarURL   nullable.Nullable[string] `json:"avatarUrl,omitempty"`
	Phone       nullable.Nullable[string] `json:"phone,omitempty"`
}

func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.Profiles.Get(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: profileFromDomain(p)})
}

func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body UpdateProfileRequest
	if !s.decode(w, r, &body) {
		return
	}
	p, err := s.Profiles.Update(r.Context(), profile.UpdateInput{
		DisplayName: optionalFromNullable(body.DisplayName),
		Bio:         optionalFromNullable(body.Bio),
		AvatarURL:   optionalFromNullable(body.AvatarURL),
		Phone:       optionalFromNullable(body.Phone),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: profileFromDomain(p)})
}

// ---- location ----

type AddressJSON struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type CandidateJSON struct {
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Address   AddressJSON `json:"address"`
	Source    string      `json:"source,omitempty"`
}

type SubmitLocationRequest struct {
	CandidateJSON
	// Radius is in meters; absent means the default radius.
	Radius *int `json:"radius,omitempty"`
}

type CurrentLocationRequest struct {
	Radius *int `json:"radius,omitempty"`
}

type PinRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type PlaceRequest struct {
	Location          PinRequest                  `json:"location"`
	AddressComponents []location.AddressComponent `json:"addressComponents"`
}

type RadiusOption struct {
	Meters  int    `json:"meters"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}

func (s *Server) ListRadii(w http.ResponseWriter, _ *http.Request) {
	out := make([]RadiusOption, 0, len(domain.AllowedRadii))
	for _, rad := range domain.AllowedRadii {
		out = append(out, RadiusOption{Meters: int(rad), Label: rad.Label(), Default: rad == s.DefaultRadius})
	}
	writeJSON(w, http.StatusOK, map[string]any{"radii": out})
}

func (s *Server) DetectLocation(w http.ResponseWriter, r *http.Request) {
	cand, err := s.Location.Detect(r.Context())
	s.writeCandidate(w, r, cand, err)
}

func (s *Server) ManualLocation(w http.ResponseWriter, r *http.Request) {
	var body CandidateJSON
	if !s.decode(w, r, &body) {
		return
	}
	cand, err := s.Location.Manual(
		domain.Coordinates{Latitude: body.Latitude, Longitude: body.Longitude},
		addressFromJSON(body.Address),
	)
	s.writeCandidate(w, r, cand, err)
}

func (s *Server) SelectPlace(w http.ResponseWriter, r *http.Request) {
	var body PlaceRequest
	if !s.decode(w, r, &body) {
		return
	}
	cand, err := s.Location.SelectPlace(location.PlaceDetails{
		Location:   domain.Coordinates{Latitude: body.Location.Latitude, Longitude: body.Location.Longitude},
		Components: body.AddressComponents,
	})
	s.writeCandidate(w, r, cand, err)
}

func (s *Server) PickOnMap(w http.ResponseWriter, r *http.Request) {
	var body PinRequest
	if !s.decode(w, r, &body) {
		return
	}
	cand, err := s.Location.PickOnMap(r.Context(), domain.Coordinates{Latitude: body.Latitude, Longitude: body.Longitude})
	s.writeCandidate(w, r, cand, err)
}

func (s *Server) UseCurrentLocation(w http.ResponseWriter, r *http.Request) {
	var body CurrentLocationRequest
	if !s.decode(w, r, &body) {
		return
	}
	radius, err := s.radius(body.Radius)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	p, err := s.Location.UseCurrentLocation(r.Context(), radius)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{Profile: profileFromDomain(p)})
}

// SubmitLocation saves a candidate and radius. With an Idempotency-Key header
// a retried request replays the first response instead of writing again; the
// same key with a different body is a conflict.
func (s *Server) SubmitLocation(w http.ResponseWriter, r *http.Request) {
	sub, ok := SubjectFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not_signed_in", "not signed in", nil)
		return
	}
	var body SubmitLocationRequest
	if !s.decode(w, r, &body) {
		return
	}
	radius, err := s.radius(body.Radius)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	key := idempotency.Key(strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	var respFP idempotency.Fingerprint
	if key != "" && s.Idem != nil {
		bodyHash, err := hashSubmitLocationBody(body, radius)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		metaFP := idempotency.Fingerprint{
			Key:     key,
			Subject: sub,
			Method:  http.MethodPost,
			Route:   "/v1/location",
		}
		if meta, found, err := s.Idem.Get(r.Context(), metaFP); err != nil {
			s.writeDomainError(w, r, err)
			return
		} else if found {
			if string(meta.Body) != bodyHash {
				writeError(w, r, http.StatusConflict, "IDEMPOTENCY_KEY_REUSE", "idempotency key reuse with different payload", nil)
				return
			}
		} else {
			_ = s.Idem.Put(r.Context(), metaFP, idempotency.Record{
				ContentType: "text/plain",
				Body:        []byte(bodyHash),
				CreatedAt:   s.clk.Now().UTC(),
			})
		}

		respFP = metaFP
		respFP.BodyHash = bodyHash
		if rec, found, err := s.Idem.Get(r.Context(), respFP); err != nil {
			s.writeDomainError(w, r, err)
			return
		} else if found && rec.StatusCode == http.StatusOK && strings.HasPrefix(rec.ContentType, "application/json") {
			s.log.Debug("replaying location submission", zap.String("subject", string(sub)))
			w.Header().Set("Content-Type", rec.ContentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}
	}

	cand := location.Candidate{
		Coordinates: domain.Coordinates{Latitude: body.Latitude, Longitude: body.Longitude},
		Address:     addressFromJSON(body.Address),
		Source:      location.Source(body.Source),
	}
	if cand.Source == "" {
		cand.Source = location.SourceManual
	}
	p, err := s.Location.Submit(r.Context(), cand, radius)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := ProfileResponse{Profile: profileFromDomain(p)}
	if respFP.Key != "" {
		if b, err := json.Marshal(resp); err == nil {
			_ = s.Idem.Put(r.Context(), respFP, idempotency.Record{
				StatusCode:  http.StatusOK,
				ContentType: "application/json",
				Body:        b,
				CreatedAt:   s.clk.Now().UTC(),
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeCandidate(w http.ResponseWriter, r *http.Request, cand location.Candidate, err error) {
	if err != nil {
		var extra map[string]any
		if cand != (location.Candidate{}) {
			extra = map[string]any{"candidate": candidateJSON(cand)}
		}
		s.writeDomainErrorWith(w, r, err, extra)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidate": candidateJSON(cand)})
}

func candidateJSON(cand location.Candidate) CandidateJSON {
	return CandidateJSON{
		Latitude:  cand.Coordinates.Latitude,
		Longitude: cand.Coordinates.Longitude,
		Address: AddressJSON{
			Street:  cand.Address.Street,
			City:    cand.Address.City,
			State:   cand.Address.State,
			Country: cand.Address.Country,
		},
		Source: string(cand.Source),
	}
}

func (s *Server) radius(meters *int) (domain.Radius, error) {
	if meters == nil {
		return s.DefaultRadius, nil
	}
	return domain.ParseRadius(*meters)
}

// decode reads a JSON body into v, writing a 422 on failure. An empty body
// decodes as {}.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, openapi_types.ErrValidationEmail) {
			writeError(w, r, http.StatusUnprocessableEntity, domain.CodeInvalidField, "email is not a valid address", map[string]any{"fields": []string{"email"}})
			return false
		}
		writeError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}

// ---- mapping ----

func profileFromDomain(p domain.Profile) ProfileJSON {
	out := ProfileJSON{
		Subject:            string(p.Subject),
		Email:              p.Email,
		DisplayName:        p.DisplayName,
		Bio:                p.Bio,
		AvatarURL:          nullableOf(p.AvatarURL),
		Phone:              nullableOf(p.Phone),
		Latitude:           nullableOf(p.Latitude),
		Longitude:          nullableOf(p.Longitude),
		Street:             nullableOf(p.Street),
		City:               nullableOf(p.City),
		State:              nullableOf(p.State),
		Country:            nullableOf(p.Country),
		LocationUpdatedAt:  nullableOf(p.LocationUpdatedAt),
		NeighborhoodRadius: nullable.NewNullNullable[int](),
		Complete:           domain.IsComplete(&p),
		UpdatedAt:          p.UpdatedAt,
	}
	if p.NeighborhoodRadius != nil {
		out.NeighborhoodRadius = nullable.NewNullableWithValue(int(*p.NeighborhoodRadius))
	}
	return out
}

func nullableOf[T any](p *T) nullable.Nullable[T] {
	if p == nil {
		return nullable.NewNullNullable[T]()
	}
	return nullable.NewNullableWithValue(*p)
}

func optionalFromNullable(n nullable.Nullable[string]) domain.Optional[string] {
	if !n.IsSpecified() {
		return domain.Unspecified[string]()
	}
	if n.IsNull() {
		return domain.Null[string]()
	}
	v, err := n.Get()
	if err != nil {
		return domain.Unspecified[string]()
	}
	return domain.Some(v)
}

func addressFromJSON(a AddressJSON) domain.Address {
	return domain.Address{Street: a.Street, City: a.City, State: a.State, Country: a.Country}
}

// hashSubmitLocationBody canonicalizes the submission (trimmed address,
// resolved radius) before hashing.
func hashSubmitLocationBody(b SubmitLocationRequest, radius domain.Radius) (string, error) {
	canon := struct {
		Latitude  float64     `json:"latitude"`
		Longitude float64     `json:"longitude"`
		Address   AddressJSON `json:"address"`
		Radius    int         `json:"radius"`
	}{
		Latitude:  b.Latitude,
		Longitude: b.Longitude,
		Address: AddressJSON{
			Street:  strings.TrimSpace(b.Address.Street),
			City:    strings.TrimSpace(b.Address.City),
			State:   strings.TrimSpace(b.Address.State),
			Country: strings.TrimSpace(b.Address.Country),
		},
		Radius: int(radius),
	}
	raw, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
