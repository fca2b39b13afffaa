package domain

// SubjectID is the authenticated subject issued by the identity service (the token "sub").
// We model it as an opaque identifier: its format is controlled by the identity service.
type SubjectID string
