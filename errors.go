package lecturequiz

import "errors"

// User-visible failures. Everything else the pipeline recovers from locally.
var (
	ErrMissingUpload     = errors.New("no document uploaded")
	ErrMissingOwner      = errors.New("session expired, please log in again")
	ErrNoExtractableText = errors.New("could not extract text from file, please upload a valid PDF or PPT")
	ErrQuizNotFound      = errors.New("quiz not found")
	ErrQuizCompleted     = errors.New("quiz already completed")
)

// Internal conditions that trigger a fallback path.
var (
	ErrAIUnavailable     = errors.New("generative text service is not configured")
	ErrMalformedResponse = errors.New("generative text service returned a malformed response")
)
