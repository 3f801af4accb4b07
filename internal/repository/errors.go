package repository

import "errors"

// ErrExamNotFound is returned when no exam matches the given ID.
var ErrExamNotFound = errors.New("exam not found")
