// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a write would replace an existing immutable entity
// or an already-set field.
var ErrConflict = errors.New("conflict: resource already exists")

// ErrValidation indicates a request or entity failed structural checks.
var ErrValidation = errors.New("validation failed")

// ErrMalformed indicates a persisted entity exists but could not be decoded.
var ErrMalformed = errors.New("malformed record")
