package identity

import "github.com/shomaj/neighborhood-client/internal/domain"

var (
	// ErrInvalidCredentials indicates the identifier/secret pair was rejected.
	ErrInvalidCredentials = &domain.Error{Kind: domain.KindCredentialRejected, Code: "invalid_credentials", Message: "invalid login credentials"}

	// ErrAccountExists indicates sign-up for an identifier that is already registered.
	ErrAccountExists = &domain.Error{Kind: domain.KindCredentialRejected, Code: "account_exists", Message: "account already registered"}

	// ErrUnreachable indicates the identity service could not be reached.
	ErrUnreachable = &domain.Error{Kind: domain.KindNetworkUnreachable, Code: "network_error", Message: "identity service unreachable"}

	// ErrSessionExpired indicates the persisted session can no longer be refreshed.
	ErrSessionExpired = &domain.Error{Kind: domain.KindCredentialRejected, Code: "session_expired", Message: "session expired"}
)
