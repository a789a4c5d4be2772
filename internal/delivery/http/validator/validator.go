// Package validator adapts go-playground/validator to echo's Validator.
package validator

import (
	playground "github.com/go-playground/validator/v10"
)

// Validator carries a single shared validator instance; it caches struct
// metadata and is safe for concurrent use.
type Validator struct {
	validate *playground.Validate
}

// New creates the echo request validator.
func New() *Validator {
	return &Validator{
		validate: playground.New(playground.WithRequiredStructEnabled()),
	}
}

// Validate implements echo.Validator.
func (v *Validator) Validate(i any) error {
	return v.validate.Struct(i)
}
