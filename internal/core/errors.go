package core

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
	ErrImportNotFound   = errors.New("import not found")
	ErrInvalidCSVFormat = errors.New("invalid CSV format")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrEmptyFile        = errors.New("empty file")
	ErrFileTooLarge     = errors.New("file too large")
	ErrMissingUser      = errors.New("missing user")
	ErrNoValidData      = errors.New("no valid data to publish")
	ErrInvalidState     = errors.New("invalid import state")
)

// StateError rejects an operation the import's current status does not allow.
type StateError struct {
	Op     string
	Status ImportStatus
}

func (e *StateError) Error() string {
	switch e.Op {
	case "publish":
		if e.Status == StatusPublished {
			return "cannot publish import: it has already been published"
		}
		return fmt.Sprintf("cannot publish import in status %q: only validated imports can be published", e.Status)
	default:
		return fmt.Sprintf("cannot %s import in status %q", e.Op, e.Status)
	}
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
