package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// QuestionRepository определяет методы для работы с вопросами
type QuestionRepository interface {
	// Create в одной транзакции создает вопрос и увеличивает счетчик
	// total_questions викторины.
	Create(question *entity.Question) error
	GetByQuizAndIndex(quizID uint, index int) (*entity.Question, error)
	// GetByQuizID возвращает вопросы викторины, упорядоченные по индексу
	GetByQuizID(quizID uint) ([]entity.Question, error)
	Update(question *entity.Question) error
	// DeleteAndReindex в одной транзакции удаляет вопрос, сдвигает индексы
	// последующих вопросов на единицу вниз (сохраняя непрерывность нумерации)
	// и уменьшает счетчик total_questions викторины.
	DeleteAndReindex(quizID uint, index int) error
	CountByQuiz(quizID uint) (int64, error)
}
