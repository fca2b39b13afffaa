package navigator

import (
	"context"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Navigator replaces the current screen with route.
type Navigator interface {
	Replace(ctx context.Context, route domain.Route) error
}
