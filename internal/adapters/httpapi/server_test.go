package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	memclock "github.com/shomaj/neighborhood-client/internal/adapters/memory/clock"
	memdevice "github.com/shomaj/neighborhood-client/internal/adapters/memory/device"
	memidempotency "github.com/shomaj/neighborhood-client/internal/adapters/memory/idempotency"
	memidentity "github.com/shomaj/neighborhood-client/internal/adapters/memory/identity"
	memnavigator "github.com/shomaj/neighborhood-client/internal/adapters/memory/navigator"
	memnotice "github.com/shomaj/neighborhood-client/internal/adapters/memory/notice"
	memprofilerepo "github.com/shomaj/neighborhood-client/internal/adapters/memory/profilerepo"
	memvault "github.com/shomaj/neighborhood-client/internal/adapters/memory/sessionvault"
	"github.com/shomaj/neighborhood-client/internal/app/address"
	"github.com/shomaj/neighborhood-client/internal/app/location"
	"github.com/shomaj/neighborhood-client/internal/app/onboarding"
	"github.com/shomaj/neighborhood-client/internal/app/profile"
	"github.com/shomaj/neighborhood-client/internal/app/session"
	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/device"
)

var dhaka = domain.Coordinates{Latitude: 23.8103, Longitude: 90.4125}

type harness struct {
	idp     *memidentity.Service
	repo    *memprofilerepo.Repo
	dev     *memdevice.Provider
	nav     *memnavigator.Recorder
	api     *Server
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	idp := memidentity.NewService(clk, memvault.NewVault())
	repo := memprofilerepo.NewRepo()
	dev := memdevice.NewProvider(dhaka)
	dev.SetAddress(dhaka, domain.Address{Street: "Road 11", City: "Dhaka", Country: "Bangladesh"})
	nav := memnavigator.NewRecorder()
	notices := memnotice.NewRecorder()

	store := session.NewStore(idp, repo, clk, nil)
	t.Cleanup(store.Watch())
	gate := onboarding.NewGate(store, nav, notices, nil)
	t.Cleanup(gate.Start())
	acq := location.NewAcquisition(dev, address.NewValidator("Bangladesh"), store, nil)
	t.Cleanup(acq.Close)
	store.RestoreSession(context.Background())

	api := NewServer(Services{
		Sessions: store,
		Gate:     gate,
		Profiles: profile.NewService(store),
		Location: acq,
		Screen:   nav,
		Notices:  notices,
	}, memidempotency.NewStore(time.Hour), clk, nil)

	return &harness{
		idp:     idp,
		repo:    repo,
		dev:     dev,
		nav:     nav,
		api:     api,
		handler: NewRouter(api),
	}
}

func (h *harness) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *harness) signUp(t *testing.T, email string) {
	t.Helper()
	rr := h.do(t, http.MethodPost, "/v1/session/sign-up", map[string]string{"email": email, "password": "secret1"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign-up status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func decodeAs[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, rr.Body.String())
	}
	return out
}

func requireError(t *testing.T, rr *httptest.ResponseRecorder, wantStatus int, wantCode string) ErrorResponse {
	t.Helper()
	if rr.Code != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", rr.Code, wantStatus, rr.Body.String())
	}
	er := decodeAs[ErrorResponse](t, rr)
	if er.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", er.Error.Code, wantCode, rr.Body.String())
	}
	return er
}

func onboardingState(t *testing.T, h *harness) OnboardingResponse {
	t.Helper()
	rr := h.do(t, http.MethodGet, "/v1/onboarding", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("onboarding status=%d", rr.Code)
	}
	return decodeAs[OnboardingResponse](t, rr)
}

func TestOnboardingThroughLocationSetup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	got := onboardingState(t, h)
	if got.State != domain.StateUnauthenticated || got.Screen != string(domain.RouteLogin) || !got.Restored {
		t.Fatalf("initial onboarding=%+v, want unauthenticated on login", got)
	}

	h.signUp(t, "nadia@example.com")
	got = onboardingState(t, h)
	if got.State != domain.StateIncomplete || got.Route != string(domain.RouteLocationSetup) {
		t.Fatalf("after sign-up onboarding=%+v, want incomplete", got)
	}

	rr := h.do(t, http.MethodPost, "/v1/location/detect", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("detect status=%d body=%s", rr.Code, rr.Body.String())
	}
	detected := decodeAs[struct {
		Candidate CandidateJSON `json:"candidate"`
	}](t, rr)
	if detected.Candidate.Address.Country != "Bangladesh" || detected.Candidate.Source != string(location.SourceDevice) {
		t.Fatalf("candidate=%+v, want device candidate in Bangladesh", detected.Candidate)
	}

	radius := 500
	submit := SubmitLocationRequest{CandidateJSON: detected.Candidate, Radius: &radius}
	rr = h.do(t, http.MethodPost, "/v1/location", submit, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit status=%d body=%s", rr.Code, rr.Body.String())
	}
	p := decodeAs[ProfileResponse](t, rr).Profile
	if !p.Complete {
		t.Fatalf("profile not complete after submit: %s", rr.Body.String())
	}
	if r, err := p.NeighborhoodRadius.Get(); err != nil || r != 500 {
		t.Fatalf("neighborhoodRadius=%v err=%v, want 500", r, err)
	}

	got = onboardingState(t, h)
	if got.State != domain.StateReady || got.Screen != string(domain.RouteMain) {
		t.Fatalf("after submit onboarding=%+v, want ready on main", got)
	}
}

func TestSubmitLocationIdempotency(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "k@example.com")

	body := SubmitLocationRequest{CandidateJSON: CandidateJSON{
		Latitude:  dhaka.Latitude,
		Longitude: dhaka.Longitude,
		Address:   AddressJSON{City: "Dhaka", Country: "Bangladesh"},
	}}
	hdr := map[string]string{"Idempotency-Key": "k-1"}

	first := h.do(t, http.MethodPost, "/v1/location", body, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first status=%d body=%s", first.Code, first.Body.String())
	}

	// A write failure would surface if the retry reached the record store.
	h.repo.FailUpdate(context.DeadlineExceeded)
	replay := h.do(t, http.MethodPost, "/v1/location", body, hdr)
	if replay.Code != http.StatusOK {
		t.Fatalf("replay status=%d body=%s", replay.Code, replay.Body.String())
	}
	if replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay missing Idempotent-Replayed header")
	}
	if !bytes.Equal(bytes.TrimSpace(first.Body.Bytes()), bytes.TrimSpace(replay.Body.Bytes())) {
		t.Fatalf("replay body differs:\nfirst=%s\nreplay=%s", first.Body.String(), replay.Body.String())
	}

	body.Address.City = "Chattogram"
	requireError(t, h.do(t, http.MethodPost, "/v1/location", body, hdr), http.StatusConflict, "IDEMPOTENCY_KEY_REUSE")
}

func TestProfileRoutesRequireSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	requireError(t, h.do(t, http.MethodGet, "/v1/profile", nil, nil), http.StatusUnauthorized, "not_signed_in")
	requireError(t, h.do(t, http.MethodPost, "/v1/location/detect", nil, nil), http.StatusUnauthorized, "not_signed_in")
}

func TestSignInErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")
	h.do(t, http.MethodPost, "/v1/session/sign-out", nil, nil)

	requireError(t,
		h.do(t, http.MethodPost, "/v1/session/sign-in", map[string]string{"email": "a@example.com", "password": "wrong"}, nil),
		http.StatusUnauthorized, "invalid_credentials")

	er := requireError(t,
		h.do(t, http.MethodPost, "/v1/session/sign-in", map[string]string{"email": "not-an-email", "password": "secret1"}, nil),
		http.StatusUnprocessableEntity, domain.CodeInvalidField)
	if details, err := er.Error.Details.Get(); err != nil || details["fields"] == nil {
		t.Fatalf("details=%v err=%v, want fields", details, err)
	}

	h.idp.SetUnreachable(true)
	requireError(t,
		h.do(t, http.MethodPost, "/v1/session/sign-in", map[string]string{"email": "a@example.com", "password": "secret1"}, nil),
		http.StatusServiceUnavailable, "network_error")
}

func TestSignOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")

	rr := h.do(t, http.MethodGet, "/v1/session", nil, nil)
	if s := decodeAs[SessionResponse](t, rr); !s.SignedIn {
		t.Fatalf("session signedIn=false after sign-up")
	}

	rr = h.do(t, http.MethodPost, "/v1/session/sign-out", nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("sign-out status=%d, want 204", rr.Code)
	}
	rr = h.do(t, http.MethodGet, "/v1/session", nil, nil)
	s := decodeAs[SessionResponse](t, rr)
	if s.SignedIn || !s.Subject.IsNull() {
		t.Fatalf("session=%s, want signed out with null subject", rr.Body.String())
	}
	if got := onboardingState(t, h); got.Screen != string(domain.RouteLogin) {
		t.Fatalf("screen=%q, want login", got.Screen)
	}
}

func TestDetectPermissionDeniedFallsBackToManual(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")
	h.dev.SetPermission(device.PermissionDenied, nil)

	er := requireError(t, h.do(t, http.MethodPost, "/v1/location/detect", nil, nil), http.StatusForbidden, "permission_denied")
	details, err := er.Error.Details.Get()
	if err != nil {
		t.Fatalf("details missing: %v", err)
	}
	if details["step"] != string(location.StepPermission) || details["mode"] != "manual" {
		t.Fatalf("details=%v, want permission step in manual mode", details)
	}

	rr := h.do(t, http.MethodPost, "/v1/location/manual", CandidateJSON{
		Latitude:  dhaka.Latitude,
		Longitude: dhaka.Longitude,
		Address:   AddressJSON{City: " Dhaka ", Country: "bangladesh"},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("manual status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSubmitLocationValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")

	er := requireError(t, h.do(t, http.MethodPost, "/v1/location", SubmitLocationRequest{CandidateJSON: CandidateJSON{
		Latitude:  28.6139,
		Longitude: 77.2090,
		Address:   AddressJSON{City: "Delhi", Country: "India"},
	}}, nil), http.StatusUnprocessableEntity, domain.CodeUnsupportedCountry)
	if details, _ := er.Error.Details.Get(); details["fields"] == nil {
		t.Fatalf("details=%v, want fields", details)
	}

	requireError(t, h.do(t, http.MethodPost, "/v1/location", SubmitLocationRequest{CandidateJSON: CandidateJSON{
		Latitude:  dhaka.Latitude,
		Longitude: dhaka.Longitude,
		Address:   AddressJSON{Country: "Bangladesh"},
	}}, nil), http.StatusUnprocessableEntity, domain.CodeMissingCityOrCountry)

	bad := 250
	requireError(t, h.do(t, http.MethodPost, "/v1/location/current", CurrentLocationRequest{Radius: &bad}, nil),
		http.StatusUnprocessableEntity, domain.CodeUnsupportedRadius)

	if got := onboardingState(t, h); got.State != domain.StateIncomplete {
		t.Fatalf("state=%q after rejected submissions, want incomplete", got.State)
	}
}

func TestUseCurrentLocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")

	rr := h.do(t, http.MethodPost, "/v1/location/current", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	p := decodeAs[ProfileResponse](t, rr).Profile
	if r, _ := p.NeighborhoodRadius.Get(); r != int(domain.DefaultRadius) {
		t.Fatalf("radius=%d, want default %d", r, domain.DefaultRadius)
	}
}

func TestSelectPlaceAndPin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")

	rr := h.do(t, http.MethodPost, "/v1/location/place", map[string]any{
		"location": map[string]float64{"latitude": 22.3569, "longitude": 91.7832},
		"addressComponents": []map[string]any{
			{"long_name": "Chattogram", "short_name": "CTG", "types": []string{"locality", "political"}},
			{"long_name": "Bangladesh", "short_name": "BD", "types": []string{"country", "political"}},
		},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("place status=%d body=%s", rr.Code, rr.Body.String())
	}
	place := decodeAs[struct {
		Candidate CandidateJSON `json:"candidate"`
	}](t, rr).Candidate
	if place.Address.City != "Chattogram" || place.Source != string(location.SourcePlace) {
		t.Fatalf("place candidate=%+v", place)
	}

	rr = h.do(t, http.MethodPost, "/v1/location/pin", PinRequest{Latitude: dhaka.Latitude, Longitude: dhaka.Longitude}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pin status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := onboardingState(t, h); got.State != domain.StateIncomplete {
		t.Fatalf("state=%q, want incomplete: selection never submits", got.State)
	}
}

func TestUpdateProfileNullable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")

	rr := h.do(t, http.MethodPatch, "/v1/profile", `{"displayName":"  Nadia   Rahman ","avatarUrl":"https://cdn.example.com/a.png"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	p := decodeAs[ProfileResponse](t, rr).Profile
	if p.DisplayName != "Nadia Rahman" {
		t.Fatalf("displayName=%q, want normalized", p.DisplayName)
	}
	if v, err := p.AvatarURL.Get(); err != nil || v != "https://cdn.example.com/a.png" {
		t.Fatalf("avatarUrl=%q err=%v", v, err)
	}

	rr = h.do(t, http.MethodPatch, "/v1/profile", `{"avatarUrl":null}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status=%d body=%s", rr.Code, rr.Body.String())
	}
	p = decodeAs[ProfileResponse](t, rr).Profile
	if !p.AvatarURL.IsNull() {
		t.Fatalf("avatarUrl not cleared: %s", rr.Body.String())
	}
	if p.DisplayName != "Nadia Rahman" {
		t.Fatalf("displayName=%q changed by an unrelated patch", p.DisplayName)
	}

	requireError(t, h.do(t, http.MethodPatch, "/v1/profile", `{"displayName":null}`, nil), http.StatusUnprocessableEntity, domain.CodeInvalidField)
}

func TestListRadii(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, "/v1/location/radii", nil, nil)
	got := decodeAs[struct {
		Radii []RadiusOption `json:"radii"`
	}](t, rr).Radii
	if len(got) != len(domain.AllowedRadii) {
		t.Fatalf("len(radii)=%d, want %d", len(got), len(domain.AllowedRadii))
	}
	defaults := 0
	for _, r := range got {
		if r.Default {
			defaults++
			if r.Meters != 1000 || r.Label != "1 kilometer" {
				t.Fatalf("default option=%+v, want 1000 m", r)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("defaults=%d, want 1", defaults)
	}
}

func TestMalformedBody(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	requireError(t, h.do(t, http.MethodPost, "/v1/session/sign-in", `{"email":`, nil), http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestDetectValidationFailureReturnsCandidate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.signUp(t, "a@example.com")
	h.dev.SetAddress(dhaka, domain.Address{Street: "Road 11", Country: "Bangladesh"})

	er := requireError(t, h.do(t, http.MethodPost, "/v1/location/detect", nil, nil), http.StatusUnprocessableEntity, domain.CodeMissingCityOrCountry)
	details, err := er.Error.Details.Get()
	if err != nil {
		t.Fatalf("details missing: %v", err)
	}
	if details["step"] != string(location.StepValidate) || details["mode"] != "manual" {
		t.Fatalf("details=%v, want validate step in manual mode", details)
	}
	cand, ok := details["candidate"].(map[string]any)
	if !ok {
		t.Fatalf("details[candidate]=%v, want the located candidate", details["candidate"])
	}
	addr, _ := cand["address"].(map[string]any)
	if cand["latitude"] != dhaka.Latitude || cand["longitude"] != dhaka.Longitude || addr["street"] != "Road 11" || cand["source"] != string(location.SourceDevice) {
		t.Fatalf("candidate=%v", cand)
	}

	rr := h.do(t, http.MethodGet, "/v1/profile", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("profile status=%d body=%s", rr.Code, rr.Body.String())
	}
	if p := decodeAs[ProfileResponse](t, rr).Profile; p.Latitude.IsSpecified() && !p.Latitude.IsNull() {
		t.Fatalf("profile located after a failed detection: %+v", p)
	}
	if st := onboardingState(t, h); st.State != domain.StateIncomplete {
		t.Fatalf("state=%q, want incomplete", st.State)
	}
}
