package knowledge

import (
	"errors"
	"fmt"
)

// ErrUnknownKnowledgePoint is returned when an id is not in the catalog.
var ErrUnknownKnowledgePoint = errors.New("unknown knowledge point")

// UnknownPointError carries the offending id.
type UnknownPointError struct {
	ID string
}

func (e *UnknownPointError) Error() string {
	return fmt.Sprintf("unknown knowledge point: %q", e.ID)
}

func (e *UnknownPointError) Unwrap() error {
	return ErrUnknownKnowledgePoint
}

func unknown(id string) error {
	return &UnknownPointError{ID: id}
}
