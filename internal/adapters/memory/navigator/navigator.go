package navigator

import (
	"context"
	"sync"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// Recorder is a navigator.Navigator that records every route it is asked to show.
// It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	routes []domain.Route
	err    error
}

func NewRecorder() *Recorder { return &Recorder{} }

// Fail makes subsequent Replace calls return err. The route is still recorded.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Replace(ctx context.Context, route domain.Route) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
	return r.err
}

// Routes returns the routes in the order they were requested.
func (r *Recorder) Routes() []domain.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Route(nil), r.routes...)
}

// Current returns the most recent route, or RouteNone.
func (r *Recorder) Current() domain.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return domain.RouteNone
	}
	return r.routes[len(r.routes)-1]
}
