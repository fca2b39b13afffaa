package device

import "github.com/shomaj/neighborhood-client/internal/domain"

var (
	// ErrPermissionDenied indicates the user refused location access.
	ErrPermissionDenied = &domain.Error{Kind: domain.KindPermissionDenied, Code: "permission_denied", Message: "Permission to access location was denied"}

	// ErrPositionUnavailable indicates the device could not produce a fix.
	ErrPositionUnavailable = &domain.Error{Kind: domain.KindNetworkUnreachable, Code: "position_unavailable", Message: "Error getting location"}

	// ErrGeocodeUnavailable indicates reverse geocoding failed or returned no result.
	ErrGeocodeUnavailable = &domain.Error{Kind: domain.KindNetworkUnreachable, Code: "geocode_unavailable", Message: "Failed to get address for selected location"}
)
