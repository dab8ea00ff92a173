package domain

import "errors"

var (
	ErrNotFound           = errors.New("journal_line_not_found")
	ErrInvalidPayload     = errors.New("invalid_journal_payload")
	ErrInvalidErrorStatus = errors.New("invalid_error_status")
	ErrNotAnErrorLine     = errors.New("journal_line_not_in_error")
	ErrFinalPool          = errors.New("journal_line_in_final_pool")
	ErrNotReplayable      = errors.New("journal_line_not_replayable")
)
