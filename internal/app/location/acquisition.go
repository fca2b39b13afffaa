package location

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/device"
	"github.com/shomaj/neighborhood-client/internal/ports/out/profilerepo"
)

// Step names where automatic detection stopped.
type Step string

const (
	StepPermission Step = "permission"
	StepPosition   Step = "position"
	StepGeocode    Step = "geocode"
	StepValidate   Step = "validate"
)

// Source records how a candidate was produced.
type Source string

const (
	SourceDevice Source = "device"
	SourceManual Source = "manual"
	SourcePlace  Source = "place"
	SourceMap    Source = "map"
)

// ErrSuperseded is returned when a newer request replaced this one, or the
// acquisition was closed, before the result arrived.
var ErrSuperseded = &domain.Error{Kind: domain.KindUnknown, Code: "superseded", Message: "location request superseded"}

// FallbackError reports that automatic detection stopped at Step. The flow
// stays in manual-entry mode; nothing was submitted.
type FallbackError struct {
	Step Step
	Err  error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("location %s: %v", e.Step, e.Err)
}

func (e *FallbackError) Unwrap() error { return e.Err }

// Candidate is a located address. It is ready for submission when returned
// without an error; alongside a validation error it carries the point and the
// unvalidated address so the user can correct the fields in place.
type Candidate struct {
	Coordinates domain.Coordinates
	Address     domain.Address
	Source      Source
}

// AddressValidator checks candidate addresses.
type AddressValidator interface {
	Validate(addr domain.Address) (domain.Address, error)
}

// ProfileWriter is the single write path for the profile.
type ProfileWriter interface {
	UpdateProfile(ctx context.Context, patch profilerepo.Patch) (domain.Profile, error)
}

// Acquisition obtains a validated location and submits it with a radius as
// one profile update. Device failures fall back to manual entry; validation
// failures never auto-submit.
type Acquisition struct {
	device    device.LocationProvider
	validator AddressValidator
	profiles  ProfileWriter
	log       *zap.Logger

	Accuracy        device.Accuracy
	PositionTimeout time.Duration

	mu     sync.Mutex
	gen    uint64
	closed bool
}

func NewAcquisition(dev device.LocationProvider, validator AddressValidator, profiles ProfileWriter, log *zap.Logger) *Acquisition {
	if log == nil {
		log = zap.NewNop()
	}
	return &Acquisition{
		device:          dev,
		validator:       validator,
		profiles:        profiles,
		log:             log,
		Accuracy:        device.AccuracyBalanced,
		PositionTimeout: 15 * time.Second,
	}
}

// Close discards the results of any request still in flight.
func (a *Acquisition) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.gen++
}

// Detect runs permission, position and reverse geocoding, then validates the
// address. It never submits.
func (a *Acquisition) Detect(ctx context.Context) (Candidate, error) {
	tok := a.begin()

	perm, err := a.device.RequestPermission(ctx)
	if !a.live(tok) {
		return Candidate{}, ErrSuperseded
	}
	if err != nil {
		a.log.Warn("location permission request failed", zap.Error(err))
		return Candidate{}, &FallbackError{Step: StepPermission, Err: classify(err, device.ErrPermissionDenied)}
	}
	if perm != device.PermissionGranted {
		return Candidate{}, &FallbackError{Step: StepPermission, Err: device.ErrPermissionDenied}
	}

	pctx, cancel := context.WithTimeout(ctx, a.PositionTimeout)
	at, err := a.device.CurrentPosition(pctx, a.Accuracy)
	cancel()
	if !a.live(tok) {
		return Candidate{}, ErrSuperseded
	}
	if err != nil {
		a.log.Warn("current position unavailable", zap.Error(err))
		return Candidate{}, &FallbackError{Step: StepPosition, Err: classify(err, device.ErrPositionUnavailable)}
	}

	cand, err := a.resolve(ctx, at, SourceDevice)
	if !a.live(tok) {
		return Candidate{}, ErrSuperseded
	}
	return cand, err
}

// UseCurrentLocation detects the device location and, if it validates,
// submits it with radius.
func (a *Acquisition) UseCurrentLocation(ctx context.Context, radius domain.Radius) (domain.Profile, error) {
	if _, err := domain.ParseRadius(int(radius)); err != nil {
		return domain.Profile{}, err
	}
	cand, err := a.Detect(ctx)
	if err != nil {
		return domain.Profile{}, err
	}
	return a.Submit(ctx, cand, radius)
}

// PickOnMap reverse-geocodes a point the user chose on the map and validates it.
func (a *Acquisition) PickOnMap(ctx context.Context, at domain.Coordinates) (Candidate, error) {
	if err := checkCoordinates(at); err != nil {
		return Candidate{}, err
	}
	tok := a.begin()
	cand, err := a.resolve(ctx, at, SourceMap)
	if !a.live(tok) {
		return Candidate{}, ErrSuperseded
	}
	return cand, err
}

// Manual validates an address the user typed, pinned at at.
func (a *Acquisition) Manual(at domain.Coordinates, addr domain.Address) (Candidate, error) {
	if err := checkCoordinates(at); err != nil {
		return Candidate{}, err
	}
	valid, err := a.validator.Validate(addr)
	if err != nil {
		return Candidate{Coordinates: at, Address: addr, Source: SourceManual}, err
	}
	return Candidate{Coordinates: at, Address: valid, Source: SourceManual}, nil
}

// SelectPlace validates the address of a place-search result.
func (a *Acquisition) SelectPlace(d PlaceDetails) (Candidate, error) {
	if err := checkCoordinates(d.Location); err != nil {
		return Candidate{}, err
	}
	addr := d.Address()
	valid, err := a.validator.Validate(addr)
	if err != nil {
		return Candidate{Coordinates: d.Location, Address: addr, Source: SourcePlace}, err
	}
	return Candidate{Coordinates: d.Location, Address: valid, Source: SourcePlace}, nil
}

// Submit re-validates cand and writes coordinates, address and radius as one
// profile update.
func (a *Acquisition) Submit(ctx context.Context, cand Candidate, radius domain.Radius) (domain.Profile, error) {
	if _, err := domain.ParseRadius(int(radius)); err != nil {
		return domain.Profile{}, err
	}
	if err := checkCoordinates(cand.Coordinates); err != nil {
		return domain.Profile{}, err
	}
	addr, err := a.validator.Validate(cand.Address)
	if err != nil {
		return domain.Profile{}, err
	}

	p, err := a.profiles.UpdateProfile(ctx, profilerepo.Patch{
		Location: &profilerepo.LocationFix{
			Coordinates: cand.Coordinates,
			Address:     addr,
			Radius:      radius,
		},
	})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("submit location: %w", err)
	}
	a.log.Info("location saved",
		zap.String("subject", string(p.Subject)),
		zap.String("source", string(cand.Source)),
		zap.Int("radius_m", int(radius)),
	)
	return p, nil
}

// resolve reverse-geocodes at and validates the result.
func (a *Acquisition) resolve(ctx context.Context, at domain.Coordinates, src Source) (Candidate, error) {
	addr, err := a.device.ReverseGeocode(ctx, at)
	if err != nil {
		a.log.Warn("reverse geocoding failed", zap.Error(err))
		return Candidate{}, &FallbackError{Step: StepGeocode, Err: classify(err, device.ErrGeocodeUnavailable)}
	}
	valid, err := a.validator.Validate(addr)
	if err != nil {
		return Candidate{Coordinates: at, Address: addr, Source: src}, &FallbackError{Step: StepValidate, Err: err}
	}
	return Candidate{Coordinates: at, Address: valid, Source: src}, nil
}

func (a *Acquisition) begin() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	return a.gen
}

func (a *Acquisition) live(tok uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed && a.gen == tok
}

// classify keeps err if it already carries a kind, otherwise attaches fallback's.
func classify(err, fallback error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("%w: %v", fallback, err)
}

func checkCoordinates(at domain.Coordinates) error {
	var bad []string
	if !inRange(at.Latitude, 90) {
		bad = append(bad, "latitude")
	}
	if !inRange(at.Longitude, 180) {
		bad = append(bad, "longitude")
	}
	if len(bad) > 0 {
		return domain.ValidationFailed(domain.CodeInvalidField, "coordinates out of range", bad...)
	}
	return nil
}

// inRange reports whether v is a finite value within [-limit, limit].
func inRange(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}
