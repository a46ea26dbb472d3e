package tutor

import "errors"

var (
	ErrGenerationFailed = errors.New("speech generation failed")
	ErrSynthesisFailed  = errors.New("speech synthesis failed")
	ErrEvaluationFailed = errors.New("evaluation failed")
	// ErrMalformedTerms is returned when the term list cannot be parsed or a
	// term misses a required field.
	ErrMalformedTerms = errors.New("malformed term list")
)
