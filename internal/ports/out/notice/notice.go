package notice

import "github.com/shomaj/neighborhood-client/internal/domain"

// Notice is a dismissible, non-blocking message shown to the user.
type Notice struct {
	Kind    domain.Kind
	Message string
}

// Sink receives notices.
type Sink interface {
	Post(n Notice)
}
