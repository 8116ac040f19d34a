package domain

import "errors"

var (
	// ErrQuestionNotFound indicates the question content could not be loaded.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrPageNotFound indicates the report page could not be loaded.
	ErrPageNotFound = errors.New("page not found")
	// ErrAlreadyVoted is returned when a finalized vote exists for the user and question.
	ErrAlreadyVoted = errors.New("already voted")
	// ErrInvalidValue indicates an answer that does not satisfy the question constraints.
	ErrInvalidValue = errors.New("invalid vote value")
	// ErrNotVotable is returned for questions that accept no answers.
	ErrNotVotable = errors.New("question does not accept votes")
	// ErrMissingIdentity indicates no voter identity could be resolved.
	ErrMissingIdentity = errors.New("missing identity")
	// ErrInputClosed is returned when the question is outside its input phase.
	ErrInputClosed = errors.New("question is not accepting input")
	// ErrSubmitInProgress is returned when a finalize is already running.
	ErrSubmitInProgress = errors.New("vote submission in progress")
)
