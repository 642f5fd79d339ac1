package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthMissing and ErrAuthInvalid end the session. Everything else is
	// recoverable and only surfaced.
	ErrAuthMissing = errors.New("authentication credential missing")
	ErrAuthInvalid = errors.New("authentication credential rejected")

	ErrTransportDisconnected = errors.New("disconnected from sync service")
	ErrLoadFailure           = errors.New("document failed to load")
	ErrSaveAck               = errors.New("document save was not acknowledged")
	ErrTitlePersist          = errors.New("title could not be saved")
	ErrServerRejection       = errors.New("sync service rejected the request")

	ErrNotLoaded  = errors.New("document is not loaded yet")
	ErrReadOnly   = errors.New("document is read-only")
	ErrOutOfRange = errors.New("change reaches past the end of the document")
	ErrClosed     = errors.New("session is closed")
)

// IsFatal reports whether err terminates the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthMissing) || errors.Is(err, ErrAuthInvalid)
}

// RejectionError is a server-signalled error event.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v: %s", ErrServerRejection, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", ErrServerRejection, e.Code, e.Message)
}

func (e *RejectionError) Unwrap() error { return ErrServerRejection }
