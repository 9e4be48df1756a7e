package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrBadQuery    = errors.New("invalid query parameter")
	ErrEmptyUpload = errors.New("request carries no items or comparisons")
)
