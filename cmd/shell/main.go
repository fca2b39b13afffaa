package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/adapters/gotrue"
	"github.com/shomaj/neighborhood-client/internal/adapters/httpapi"
	memdevice "github.com/shomaj/neighborhood-client/internal/adapters/memory/device"
	memidempotency "github.com/shomaj/neighborhood-client/internal/adapters/memory/idempotency"
	memidentity "github.com/shomaj/neighborhood-client/internal/adapters/memory/identity"
	memnavigator "github.com/shomaj/neighborhood-client/internal/adapters/memory/navigator"
	memnotice "github.com/shomaj/neighborhood-client/internal/adapters/memory/notice"
	memprofilerepo "github.com/shomaj/neighborhood-client/internal/adapters/memory/profilerepo"
	memvault "github.com/shomaj/neighborhood-client/internal/adapters/memory/sessionvault"
	"github.com/shomaj/neighborhood-client/internal/adapters/postgres"
	pgidempotency "github.com/shomaj/neighborhood-client/internal/adapters/postgres/idempotency"
	pgprofilerepo "github.com/shomaj/neighborhood-client/internal/adapters/postgres/profilerepo"
	sqlitevault "github.com/shomaj/neighborhood-client/internal/adapters/sqlite/sessionvault"
	"github.com/shomaj/neighborhood-client/internal/app/address"
	"github.com/shomaj/neighborhood-client/internal/app/location"
	"github.com/shomaj/neighborhood-client/internal/app/onboarding"
	"github.com/shomaj/neighborhood-client/internal/app/profile"
	"github.com/shomaj/neighborhood-client/internal/app/session"
	"github.com/shomaj/neighborhood-client/internal/domain"
	platformclock "github.com/shomaj/neighborhood-client/internal/platform/clock"
	"github.com/shomaj/neighborhood-client/internal/platform/config"
	"github.com/shomaj/neighborhood-client/internal/platform/logging"
	"github.com/shomaj/neighborhood-client/internal/ports/out/device"
	idempotencyport "github.com/shomaj/neighborhood-client/internal/ports/out/idempotency"
	identityport "github.com/shomaj/neighborhood-client/internal/ports/out/identity"
	"github.com/shomaj/neighborhood-client/internal/ports/out/notice"
	profilerepoport "github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
	sessionvaultport "github.com/shomaj/neighborhood-client/internal/ports/out/sessionvault"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := platformclock.NewSystemClock()

	var vault sessionvaultport.Vault = memvault.NewVault()
	if cfg.SessionVaultPath != "" {
		v, err := sqlitevault.Open(cfg.SessionVaultPath)
		if err != nil {
			logger.Fatal("open session vault", zap.String("path", cfg.SessionVaultPath), zap.Error(err))
		}
		defer func() { _ = v.Close() }()
		vault = v
	}

	var idp identityport.Service
	switch cfg.IdentityBackend {
	case "gotrue":
		client, err := gotrue.New(gotrue.Options{
			BaseURL:       cfg.SupabaseURL,
			AnonKey:       cfg.SupabaseAnonKey,
			RefreshMargin: cfg.TokenRefreshMargin,
		}, vault, clk, logger.Named("gotrue"))
		if err != nil {
			logger.Fatal("invalid identity config", zap.Error(err))
		}
		go client.Run(ctx, refreshInterval(cfg.TokenRefreshMargin))
		idp = client
	default:
		idp = memidentity.NewService(clk, vault)
	}

	var (
		profiles  profilerepoport.Repository
		idemStore idempotencyport.Store
	)
	switch cfg.StorageBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			logger.Fatal("invalid postgres config", zap.Error(err))
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		profiles = pgprofilerepo.NewRepo(pool)
		idemStore = pgidempotency.NewStore(pool, idempotencyTTL)
	default:
		profiles = memprofilerepo.NewRepo()
		idemStore = memidempotency.NewStore(idempotencyTTL)
	}

	dev := memdevice.NewProvider(domain.Coordinates{Latitude: cfg.Device.Latitude, Longitude: cfg.Device.Longitude})
	dev.SetDefaultAddress(domain.Address{
		Street:  cfg.Device.Street,
		City:    cfg.Device.City,
		State:   cfg.Device.State,
		Country: cfg.Device.Country,
	})
	if cfg.Device.Permission == "denied" {
		dev.SetPermission(device.PermissionDenied, nil)
	}

	nav := &screenLog{Recorder: memnavigator.NewRecorder(), log: logger}
	notices := &noticeLog{Recorder: memnotice.NewRecorder(), log: logger}

	store := session.NewStore(idp, profiles, clk, logger.Named("session"))
	store.FetchTimeout = cfg.ProfileFetchTimeout
	defer store.Watch()()

	gate := onboarding.NewGate(store, nav, notices, logger.Named("onboarding"))
	defer gate.Start()()

	acq := location.NewAcquisition(dev, address.NewValidator(cfg.AllowedCountry), store, logger.Named("location"))
	acq.PositionTimeout = cfg.PositionTimeout
	defer acq.Close()

	restoreCtx, cancel := context.WithTimeout(ctx, cfg.ProfileFetchTimeout)
	snap := store.RestoreSession(restoreCtx)
	cancel()
	logger.Info("session restored", zap.Bool("signed_in", snap.Session != nil), zap.String("state", string(onboarding.Derive(snap))))

	api := httpapi.NewServer(httpapi.Services{
		Sessions: store,
		Gate:     gate,
		Profiles: profile.NewService(store),
		Location: acq,
		Screen:   nav,
		Notices:  notices,
	}, idemStore, clk, logger.Named("http"))
	api.DefaultRadius = cfg.DefaultRadius()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{AuthMiddleware: httpapi.NewAuthMiddleware(cfg.Token)}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("shell listening",
			zap.String("addr", cfg.Addr),
			zap.String("identity", cfg.IdentityBackend),
			zap.String("storage", cfg.StorageBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
}

// refreshInterval checks often enough that a session is refreshed well
// inside its margin.
func refreshInterval(margin time.Duration) time.Duration {
	if iv := margin / 2; iv >= 5*time.Second {
		return iv
	}
	return 5 * time.Second
}

// screenLog records the route the UI shows and logs each navigation.
type screenLog struct {
	*memnavigator.Recorder
	log *zap.Logger
}

func (s *screenLog) Replace(ctx context.Context, route domain.Route) error {
	s.log.Info("navigate", zap.String("route", string(route)))
	return s.Recorder.Replace(ctx, route)
}

// noticeLog queues notices for the UI and logs them.
type noticeLog struct {
	*memnotice.Recorder
	log *zap.Logger
}

func (n *noticeLog) Post(nt notice.Notice) {
	n.log.Warn("notice", zap.String("kind", string(nt.Kind)), zap.String("message", nt.Message))
	n.Recorder.Post(nt)
}
