package collab

import "errors"

var (
	// ErrInvalidIndex is returned when an edit position lies outside the document.
	// The table is left untouched.
	ErrInvalidIndex = errors.New("INVALID_INDEX")
	// ErrInvalidOp is returned for a delta op with an unknown kind.
	ErrInvalidOp = errors.New("INVALID_OP")
	// ErrNoPersistTarget is returned by Persist when no destination was given and the
	// document was not loaded from storage.
	ErrNoPersistTarget = errors.New("NO_PERSIST_TARGET: supply an explicit destination")

	ErrDocumentNotFound      = errors.New("DOCUMENT_NOT_FOUND")
	ErrDocumentExists        = errors.New("DOCUMENT_ALREADY_OPEN")
	ErrRevisionConflict      = errors.New("REVISION_CONFLICT")
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
)
