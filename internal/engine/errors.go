package engine

import "fmt"

// Kind classifies why an operation was rejected. Every rejection is
// terminal for the invoking operation; nothing is written.
type Kind string

const (
	KindAlreadyExists     Kind = "already_exists"
	KindNotFound          Kind = "not_found"
	KindUnauthenticated   Kind = "unauthenticated"
	KindSpeciesNotAllowed Kind = "species_not_allowed"
	KindGeoFenceViolation Kind = "geo_fence_violation"
	KindSeasonalViolation Kind = "seasonal_violation"
	KindInvalidState      Kind = "invalid_state"
	KindNotOwner          Kind = "not_owner"
	KindNotApproved       Kind = "not_approved"
	KindMalformedInput    Kind = "malformed_input"
)

// Error carries the rejection kind and the offending identifier.
type Error struct {
	Kind Kind
	ID   string
	Msg  string
}

func (e *Error) Error() string {
	if e.ID == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Msg)
}

func reject(kind Kind, id, format string, args ...any) *Error {
	return &Error{Kind: kind, ID: id, Msg: fmt.Sprintf(format, args...)}
}

func alreadyExists(id string) *Error {
	return reject(KindAlreadyExists, id, "record already exists")
}

func notFound(id string) *Error {
	return reject(KindNotFound, id, "record does not exist")
}
