package digest

import "errors"

var (
	ErrAlgorithm = errors.New("invalid digest algorithm")
	ErrEncoding  = errors.New("invalid digest encoding")
	ErrLength    = errors.New("invalid digest length")
)
