package models

import "errors"

// ErrNotFound is returned when a referenced session or pull request does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalid is returned when a record fails validation before it is stored.
var ErrInvalid = errors.New("invalid")
