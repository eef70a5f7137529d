package domain

import "errors"

var (
	// ErrInvalidInput signals malformed or missing invoice fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRender signals that the rendering backend failed or exhausted its retries.
	ErrRender = errors.New("render failed")
	// ErrDispatch signals that a print dispatch could not be completed.
	// It is never surfaced as an HTTP failure, only inside a PrintResult.
	ErrDispatch = errors.New("dispatch failed")
	// ErrConfig signals a missing or invalid deployment setting, such as the
	// cloud print API key.
	ErrConfig = errors.New("configuration error")
)
