package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"lexicms/api/internal/store"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeDuplicateSlug      = "DUPLICATE_SLUG"
	CodeNotAuthorized      = "NOT_AUTHORIZED"
	CodeNoContentAvailable = "NO_CONTENT_AVAILABLE"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
)

// Sentinels for errors.Is; any DomainError with the same Code matches.
var (
	ErrValidation         = &DomainError{Code: CodeValidation}
	ErrDuplicateSlug      = &DomainError{Code: CodeDuplicateSlug}
	ErrNotAuthorized      = &DomainError{Code: CodeNotAuthorized}
	ErrNoContentAvailable = &DomainError{Code: CodeNoContentAvailable}
	ErrStoreUnavailable   = &DomainError{Code: CodeStoreUnavailable}
	ErrNotFound           = &DomainError{Code: CodeNotFound}
	ErrConflict           = &DomainError{Code: CodeConflict}
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return e.Code == other.Code
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func notAuthorized(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeNotAuthorized, message, nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func duplicateSlug(slug string) *DomainError {
	return domainError(http.StatusConflict, CodeDuplicateSlug, "A page already uses this slug", map[string]any{"slug": slug})
}

func noContentAvailable(pageID string) *DomainError {
	return domainError(http.StatusOK, CodeNoContentAvailable, "No content found", map[string]any{"pageId": pageID})
}

// classifyStoreError maps a datastore failure onto the domain taxonomy. what
// names the missing row for not-found errors.
func classifyStoreError(err error, what string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return notFound(what)
	case errors.Is(err, store.ErrVersionConflict):
		e := domainError(http.StatusConflict, CodeConflict, "Blocks changed while reordering, reload and retry", nil)
		e.cause = err
		return e
	case store.IsPermissionDenied(err):
		e := notAuthorized("Permission denied by the datastore")
		e.cause = err
		return e
	case store.IsUniqueViolation(err):
		e := domainError(http.StatusConflict, CodeDuplicateSlug, "A page already uses this slug", nil)
		e.cause = err
		return e
	case store.IsQueryError(err):
		return err
	default:
		e := domainError(http.StatusServiceUnavailable, CodeStoreUnavailable, err.Error(), nil)
		e.cause = err
		return e
	}
}
