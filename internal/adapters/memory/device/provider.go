package device

import (
	"context"
	"sync"

	"github.com/shomaj/neighborhood-client/internal/domain"
	"github.com/shomaj/neighborhood-client/internal/ports/out/device"
)

// Provider is a scripted device.LocationProvider. It answers from its fields
// and records how many times each call was made.
// It is safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	permission    device.Permission
	permissionErr error
	position      domain.Coordinates
	positionErr   error
	addresses     map[domain.Coordinates]domain.Address
	fallback      *domain.Address
	geocodeErr    error

	// beforePosition, if set, runs at the start of CurrentPosition outside the lock.
	beforePosition func(ctx context.Context)

	permissionCalls int
	positionCalls   int
	geocodeCalls    int
}

// NewProvider returns a provider that grants permission and reports at.
func NewProvider(at domain.Coordinates) *Provider {
	return &Provider{
		permission: device.PermissionGranted,
		position:   at,
		addresses:  make(map[domain.Coordinates]domain.Address),
	}
}

func (p *Provider) SetPermission(perm device.Permission, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission, p.permissionErr = perm, err
}

func (p *Provider) SetPosition(at domain.Coordinates, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position, p.positionErr = at, err
}

// SetAddress makes ReverseGeocode return addr for at.
func (p *Provider) SetAddress(at domain.Coordinates, addr domain.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addresses[at] = addr
}

// SetDefaultAddress makes ReverseGeocode return addr for any point without its own address.
func (p *Provider) SetDefaultAddress(addr domain.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = &addr
}

func (p *Provider) SetGeocodeErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.geocodeErr = err
}

// OnPosition installs a hook that runs at the start of every CurrentPosition.
func (p *Provider) OnPosition(fn func(ctx context.Context)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beforePosition = fn
}

// Calls returns how many times each operation ran.
func (p *Provider) Calls() (permission, position, geocode int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permissionCalls, p.positionCalls, p.geocodeCalls
}

func (p *Provider) RequestPermission(ctx context.Context) (device.Permission, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permissionCalls++
	return p.permission, p.permissionErr
}

func (p *Provider) CurrentPosition(ctx context.Context, accuracy device.Accuracy) (domain.Coordinates, error) {
	_ = accuracy
	p.mu.Lock()
	p.positionCalls++
	hook := p.beforePosition
	at, err := p.position, p.positionErr
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return domain.Coordinates{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Coordinates{}, device.ErrPositionUnavailable
	}
	return at, nil
}

func (p *Provider) ReverseGeocode(ctx context.Context, at domain.Coordinates) (domain.Address, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.geocodeCalls++
	if p.geocodeErr != nil {
		return domain.Address{}, p.geocodeErr
	}
	if addr, ok := p.addresses[at]; ok {
		return addr, nil
	}
	if p.fallback != nil {
		return *p.fallback, nil
	}
	return domain.Address{}, device.ErrGeocodeUnavailable
}
