package practice

import "errors"

var (
	ErrNoQuestions = errors.New("no questions available")
	ErrEmptyAnswer = errors.New("answer is empty")
	ErrWrongStep   = errors.New("action not available in this step")
	ErrNoStage     = errors.New("unknown interview stage")
)
