package ledger

import "errors"

var (
	// ErrNoMoreRecords is returned when a requested page lies entirely past
	// the stored greetings. Callers use it to stop paging.
	ErrNoMoreRecords = errors.New("no more greetings to return")

	ErrInvalidPage   = errors.New("invalid page request")
	ErrEmptyText     = errors.New("greeting text is empty")
	ErrMissingAuthor = errors.New("greeting author is missing")
	ErrNotFound      = errors.New("greeting not found")
	ErrInvalidConfig = errors.New("invalid reward config")

	// ErrNonceReused is returned when an author submits a nonce that one of
	// their greetings already carries.
	ErrNonceReused = errors.New("nonce already used")
)
