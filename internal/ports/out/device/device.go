package device

import (
	"context"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Permission is the outcome of a foreground location permission request.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Accuracy is a hint for how precise a position fix should be.
type Accuracy string

const (
	AccuracyLow      Accuracy = "low"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyHigh     Accuracy = "high"
)

// LocationProvider is the device location contract.
type LocationProvider interface {
	RequestPermission(ctx context.Context) (Permission, error)
	// CurrentPosition performs a single fix attempt; implementations must not retry indefinitely.
	CurrentPosition(ctx context.Context, accuracy Accuracy) (domain.Coordinates, error)
	ReverseGeocode(ctx context.Context, at domain.Coordinates) (domain.Address, error)
}
