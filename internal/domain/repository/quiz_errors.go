package repository

import "errors"

var (
	// ErrQuizCodeTaken означает, что код уже занят другой незавершенной викториной.
	ErrQuizCodeTaken = errors.New("quiz code already taken")
	// ErrStaleQuizState означает проигранную CAS-гонку: состояние викторины
	// изменилось между чтением и записью либо переход недопустим.
	ErrStaleQuizState = errors.New("quiz state changed concurrently")
	// ErrDuplicateAnswer означает, что ответ на этот вопрос у участника уже записан.
	ErrDuplicateAnswer = errors.New("answer already recorded for this question")
	// ErrParticipantExists означает, что участник уже присоединился к викторине.
	ErrParticipantExists = errors.New("participant already joined")
)
