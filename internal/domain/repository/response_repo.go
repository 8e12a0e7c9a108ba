package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// OptionCount - количество ответов за один вариант вопроса
type OptionCount struct {
	SelectedOption int   `json:"selected_option"`
	Count          int64 `json:"count"`
}

// ResponseRepository определяет методы чтения журнала ответов.
// Журнал только на добавление: записи создает ParticipantRepository.ApplyAnswer,
// изменять их нельзя, удаляются они целиком при перезапуске или удалении викторины.
type ResponseRepository interface {
	GetByQuizAndUser(quizID uint, userID string) ([]entity.Response, error)
	GetByQuiz(quizID uint) ([]entity.Response, error)
	// CountByOption возвращает распределение ответов по вариантам вопроса
	CountByOption(quizID uint, questionIndex int) ([]OptionCount, error)
	CountByQuiz(quizID uint) (int64, error)
}
