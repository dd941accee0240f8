package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luca-patrignani/greetme/ledger"
)

// Error codes returned in the body of failed requests.
const (
	CodeNoMoreRecords    = "NO_MORE_RECORDS"
	CodeInvalidPage      = "INVALID_PAGE"
	CodeNotFound         = "NOT_FOUND"
	CodeEmptyText        = "EMPTY_TEXT"
	CodeTextTooLong      = "TEXT_TOO_LONG"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidKey       = "INVALID_PUBLIC_KEY"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeNonceReused      = "NONCE_REUSED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL"
)

// Error is the JSON body of every failed request. On the client side it
// unwraps to the matching ledger sentinel, so errors.Is works across the wire.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeNoMoreRecords:
		return ledger.ErrNoMoreRecords
	case CodeInvalidPage:
		return ledger.ErrInvalidPage
	case CodeNotFound:
		return ledger.ErrNotFound
	case CodeEmptyText:
		return ledger.ErrEmptyText
	case CodeNonceReused:
		return ledger.ErrNonceReused
	}
	return nil
}

func newError(status int, code, format string, args ...any) *Error {
	return &Error{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

// toError maps an error returned by the ledger to its HTTP representation.
func toError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ledger.ErrNoMoreRecords):
		return newError(http.StatusNotFound, CodeNoMoreRecords, "%v", err)
	case errors.Is(err, ledger.ErrInvalidPage):
		return newError(http.StatusBadRequest, CodeInvalidPage, "%v", err)
	case errors.Is(err, ledger.ErrNotFound):
		return newError(http.StatusNotFound, CodeNotFound, "%v", err)
	case errors.Is(err, ledger.ErrEmptyText):
		return newError(http.StatusBadRequest, CodeEmptyText, "%v", err)
	case errors.Is(err, ledger.ErrNonceReused):
		return newError(http.StatusConflict, CodeNonceReused, "%v", err)
	default:
		return newError(http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, e)
}
