package iotools

import (
	"errors"
	"io"
)

// ErrInvalidData is returned by a Validator at end of stream when the bytes
// read do not satisfy the validatable writer.
var ErrInvalidData = errors.New("data failed validation")

// Validatable is a writer that can pass judgement on everything written to
// it, typically a running digest.
type Validatable interface {
	io.Writer
	Validate() bool
}

// Validator siphons a reader into a Validatable and converts end-of-file into
// ErrInvalidData when the accumulated bytes do not check out. Integrity
// failures therefore always surface on the final read.
type Validator struct {
	s *Siphon
	v Validatable
}

// NewValidator wraps r so all bytes flow through v.
func NewValidator(r io.Reader, v Validatable) *Validator {
	return &Validator{s: NewSiphon(r, v), v: v}
}

func (v *Validator) Read(p []byte) (int, error) {
	n, err := v.s.Read(p)
	if errors.Is(err, io.EOF) && !v.v.Validate() {
		return n, ErrInvalidData
	}
	return n, err
}
