package domain

// OnboardingState is derived from (session presence, fetch in flight, profile completeness).
// It is never stored.
type OnboardingState string

const (
	StateUnauthenticated OnboardingState = "unauthenticated"
	StateAuthenticating  OnboardingState = "authenticating"
	StateIncomplete      OnboardingState = "incomplete"
	StateReady           OnboardingState = "ready"
)

// Route is a screen the app can be forced to.
type Route string

const (
	RouteNone          Route = ""
	RouteLogin         Route = "/(auth)/login"
	RouteLocationSetup Route = "/location-setup"
	RouteMain          Route = "/(tabs)"
)

// RouteFor returns the route a state forces. Authenticating forces none: the
// current screen keeps showing its loading state until the fetch resolves.
func RouteFor(s OnboardingState) Route {
	switch s {
	case StateUnauthenticated:
		return RouteLogin
	case StateIncomplete:
		return RouteLocationSetup
	case StateReady:
		return RouteMain
	default:
		return RouteNone
	}
}
