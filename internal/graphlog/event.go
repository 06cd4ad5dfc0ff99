package graphlog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Edge is one provenance record: the URIs of a completed batch and the URIs
// discovered while crawling them.
type Edge struct {
	// ID is a UUIDv7, so edges sort by creation time.
	ID uuid.UUID `json:"id"`
	// TS is the UTC time the frontier accepted the report.
	TS         time.Time `json:"ts"`
	Completed  []string  `json:"completed"`
	Discovered []string  `json:"discovered"`
}

// Validate rejects edges that carry no information.
func (e Edge) Validate() error {
	if e.ID == uuid.Nil {
		return errors.New("edge id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if len(e.Completed) == 0 && len(e.Discovered) == 0 {
		return errors.New("edge has neither completed nor discovered uris")
	}
	return nil
}
