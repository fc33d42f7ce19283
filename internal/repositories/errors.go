package repositories

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrNoBackends     = errors.New("no storage backends configured")
	errReadOnly       = errors.New("backend is read-only")
)
