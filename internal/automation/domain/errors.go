package automation

import "errors"

// ErrNotFound indicates a missing rule or log record.
var ErrNotFound = errors.New("automation: not found")

// ErrInvalidRule wraps validation failures at the API boundary.
var ErrInvalidRule = errors.New("automation: invalid rule")
