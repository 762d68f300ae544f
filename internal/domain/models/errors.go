package models

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is
var (
	// ErrNoPersona is returned when a campaign is started before a persona is set
	ErrNoPersona = errors.New("no persona set")

	// ErrPersonaNotFound indicates the name matches no curated, custom or known group
	ErrPersonaNotFound = errors.New("persona not found")

	// ErrGroupNotFound indicates no group in the knowledge store has the given name or alias
	ErrGroupNotFound = errors.New("group not found")

	// ErrCampaignNotFound indicates no campaign with the given id is in history
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrInvalidPersona indicates a persona definition with unknown levels or out of range values
	ErrInvalidPersona = errors.New("invalid persona definition")

	// ErrInvalidBundle indicates the ingested data is not a well-formed bundle
	ErrInvalidBundle = errors.New("invalid bundle")
)

// IngestError describes the first malformed object found in a bundle
type IngestError struct {
	Index    int
	ObjectID string
	Field    string
	Err      error
}

func (e *IngestError) Error() string {
	switch {
	case e.Field != "" && e.ObjectID != "":
		return fmt.Sprintf("object %d (%s): missing %s: %v", e.Index, e.ObjectID, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("object %d: missing %s: %v", e.Index, e.Field, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("object %d: %v", e.Index, e.Err)
	default:
		return e.Err.Error()
	}
}

// Unwrap exposes ErrInvalidBundle and any decode error underneath
func (e *IngestError) Unwrap() []error {
	if errors.Is(e.Err, ErrInvalidBundle) {
		return []error{e.Err}
	}
	return []error{ErrInvalidBundle, e.Err}
}
