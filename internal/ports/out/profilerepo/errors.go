package profilerepo

import "github.com/shomaj/neighborhood-client/internal/domain"

var (
	// ErrNotFound indicates no profile exists for the subject.
	ErrNotFound = &domain.Error{Kind: domain.KindUnknown, Code: "profile_not_found", Message: "profile not found"}

	// ErrAlreadyExists indicates a profile already exists for the subject.
	ErrAlreadyExists = &domain.Error{Kind: domain.KindUnknown, Code: "profile_exists", Message: "profile already exists"}

	// ErrUnreachable indicates the record store could not be reached.
	ErrUnreachable = &domain.Error{Kind: domain.KindNetworkUnreachable, Code: "network_error", Message: "record store unreachable"}
)
