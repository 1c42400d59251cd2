package models

import "errors"

// Structural errors are fatal to a single call and never retried.
var (
	ErrSchemaMismatch             = errors.New("schema mismatch")
	ErrUnknownSeverity            = errors.New("unknown severity")
	ErrInvalidWeightConfiguration = errors.New("invalid weight configuration")
	ErrUnknownLabel               = errors.New("unknown classification label")
)

// Transient dependency errors degrade the affected scoring term to zero.
var (
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrRetrievalUnavailable      = errors.New("retrieval unavailable")
)
