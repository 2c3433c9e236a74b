package service

import "errors"

// Sentinel errors.
var (
	ErrNotStarted = errors.New("dashboard not started")
	ErrStopped    = errors.New("dashboard stopped")
)
