package itest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shomaj/neighborhood-client/internal/adapters/gotrue"
	"github.com/shomaj/neighborhood-client/internal/adapters/httpapi"
	memclock "github.com/shomaj/neighborhood-client/internal/adapters/memory/clock"
	memdevice "github.com/shomaj/neighborhood-client/internal/adapters/memory/device"
	memidempotency "github.com/shomaj/neighborhood-client/internal/adapters/memory/idempotency"
	memnavigator "github.com/shomaj/neighborhood-client/internal/adapters/memory/navigator"
	memnotice "github.com/shomaj/neighborhood-client/internal/adapters/memory/notice"
	memprofilerepo "github.com/shomaj/neighborhood-client/internal/adapters/memory/profilerepo"
	pgprofilerepo "github.com/shomaj/neighborhood-client/internal/adapters/postgres/profilerepo"
	postgres_testutil "github.com/shomaj/neighborhood-client/internal/adapters/postgres/testutil"
	sqlitevault "github.com/shomaj/neighborhood-client/internal/adapters/sqlite/sessionvault"
	"github.com/shomaj/neighborhood-client/internal/app/address"
	"github.com/shomaj/neighborhood-client/internal/app/location"
	"github.com/shomaj/neighborhood-client/internal/app/onboarding"
	"github.com/shomaj/neighborhood-client/internal/app/profile"
	"github.com/shomaj/neighborhood-client/internal/app/session"
	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/platform/devidentity"
	profilerepoport "github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

const shellToken = "itest-shell-token"

var dhaka = domain.Coordinates{Latitude: 23.8103, Longitude: 90.4125}

type backend string

const (
	backendMemory   backend = "memory"
	backendPostgres backend = "postgres"
)

func backendsFromEnv(t *testing.T) []backend {
	t.Helper()
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ITEST_BACKEND"))) {
	case "", "memory":
		return []backend{backendMemory}
	case "postgres":
		return []backend{backendPostgres}
	case "all":
		return []backend{backendMemory, backendPostgres}
	default:
		t.Fatalf("unknown ITEST_BACKEND value (expected memory|postgres|all)")
		return nil
	}
}

// world is everything that outlives one shell process: the identity server,
// the record store and the device's session vault file.
type world struct {
	clk       *memclock.ManualClock
	identity  *devidentity.Server
	authURL   string
	profiles  profilerepoport.Repository
	vaultPath string
}

func newWorld(t *testing.T, b backend) *world {
	t.Helper()
	clk := memclock.NewManualClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	idp := devidentity.NewServer(devidentity.Options{
		AnonKey:    "itest-anon",
		JWTSecret:  []byte("itest-secret"),
		TokenTTL:   time.Hour,
		Now:        clk.Now,
		BcryptCost: bcrypt.MinCost,
	}, nil)
	authSrv := httptest.NewServer(idp.Handler())
	t.Cleanup(authSrv.Close)

	w := &world{
		clk:       clk,
		identity:  idp,
		authURL:   authSrv.URL,
		vaultPath: filepath.Join(t.TempDir(), "session.db"),
	}
	switch b {
	case backendPostgres:
		w.profiles = pgprofilerepo.NewRepo(postgres_testutil.OpenMigratedPool(t))
	case backendMemory:
		w.profiles = memprofilerepo.NewRepo()
	default:
		t.Fatalf("unknown backend: %s", b)
	}
	return w
}

type testServer struct {
	baseURL string
	client  *http.Client
	device  *memdevice.Provider
}

// launch starts one shell process against w, the way cmd/shell wires it.
func (w *world) launch(t *testing.T) *testServer {
	t.Helper()

	vault, err := sqlitevault.Open(w.vaultPath)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	t.Cleanup(func() { _ = vault.Close() })

	idp, err := gotrue.New(gotrue.Options{BaseURL: w.authURL, AnonKey: "itest-anon", RefreshMargin: time.Minute}, vault, w.clk, nil)
	if err != nil {
		t.Fatalf("gotrue.New: %v", err)
	}
	dev := memdevice.NewProvider(dhaka)
	dev.SetAddress(dhaka, domain.Address{Street: "Road 11", City: "Dhaka", State: "Dhaka Division", Country: "Bangladesh"})
	nav := memnavigator.NewRecorder()
	notices := memnotice.NewRecorder()

	store := session.NewStore(idp, w.profiles, w.clk, nil)
	t.Cleanup(store.Watch())
	gate := onboarding.NewGate(store, nav, notices, nil)
	t.Cleanup(gate.Start())
	acq := location.NewAcquisition(dev, address.NewValidator("Bangladesh"), store, nil)
	t.Cleanup(acq.Close)
	store.RestoreSession(context.Background())

	api := httpapi.NewServer(httpapi.Services{
		Sessions: store,
		Gate:     gate,
		Profiles: profile.NewService(store),
		Location: acq,
		Screen:   nav,
		Notices:  notices,
	}, memidempotency.NewStore(time.Hour), w.clk, nil)
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{AuthMiddleware: httpapi.NewAuthMiddleware(shellToken)})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		baseURL: srv.URL,
		client:  srv.Client(),
		device:  dev,
	}
}

func (s *testServer) url(path string) string {
	if strings.HasPrefix(path, "/") {
		return s.baseURL + path
	}
	return s.baseURL + "/" + path
}

func (s *testServer) doJSON(t *testing.T, method string, path string, body any, hdr map[string]string) (int, []byte, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.url(path), r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+shellToken)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, resp.Header
}

func (s *testServer) onboarding(t *testing.T) httpapi.OnboardingResponse {
	t.Helper()
	status, body, _ := s.doJSON(t, http.MethodGet, "/v1/onboarding", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("onboarding status=%d body=%s", status, string(body))
	}
	return mustUnmarshal[httpapi.OnboardingResponse](t, body)
}

func mustUnmarshal[T any](t *testing.T, b []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v\nbody=%s", err, string(b))
	}
	return out
}

func requireErrorCode(t *testing.T, status int, body []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("status=%d want=%d body=%s", status, wantStatus, string(body))
	}
	got := mustUnmarshal[httpapi.ErrorResponse](t, body)
	if got.Error.Code != wantCode {
		t.Fatalf("error.code=%q want=%q body=%s", got.Error.Code, wantCode, string(body))
	}
}

func requireStatus(t *testing.T, status int, body []byte, want int) {
	t.Helper()
	if status != want {
		t.Fatalf("status=%d want=%d body=%s", status, want, string(body))
	}
}
