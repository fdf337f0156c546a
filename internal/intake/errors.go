package intake

import (
	"errors"
	"fmt"
)

// ValidationError reports unusable caller input. Nothing was stored,
// written to the ledger or published.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// StorageError reports that the uploaded file could not be persisted.
type StorageError struct {
	DocumentID string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store upload for %s: %v", e.DocumentID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// LedgerError reports a failed status ledger write during intake.
type LedgerError struct {
	DocumentID string
	Err        error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger write for %s: %v", e.DocumentID, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// PublishError reports that the ingest message never reached the broker.
type PublishError struct {
	DocumentID string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.DocumentID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation"
	KindStorage    ErrorKind = "storage"
	KindLedger     ErrorKind = "ledger"
	KindPublish    ErrorKind = "publish"
	KindInternal   ErrorKind = "internal"
)

// Kind returns the category of an error returned by the Coordinator.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		validation *ValidationError
		storage    *StorageError
		ledger     *LedgerError
		publish    *PublishError
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &storage):
		return KindStorage
	case errors.As(err, &ledger):
		return KindLedger
	case errors.As(err, &publish):
		return KindPublish
	default:
		return KindInternal
	}
}
