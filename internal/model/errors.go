package model

import "errors"

// Error taxonomy shared by every package. Package level errors wrap one of
// these so callers can branch on the class with errors.Is.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrPrediction        = errors.New("prediction error")
	ErrResourceExhausted = errors.New("resource exhausted")
)
