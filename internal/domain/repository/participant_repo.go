package repository

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// ParticipantRepository определяет методы для работы с участниками викторины
type ParticipantRepository interface {
	// Create сохраняет нового участника. Повторное присоединение той же пары
	// (викторина, пользователь) возвращается как ErrParticipantExists.
	Create(participant *entity.Participant) error
	GetByQuizAndUser(quizID uint, userID string) (*entity.Participant, error)
	// ListByQuiz возвращает участников в порядке таблицы лидеров:
	// очки по убыванию, при равенстве выше тот, кто раньше набрал.
	ListByQuiz(quizID uint, limit, offset int) ([]entity.Participant, int64, error)
	CountByQuiz(quizID uint) (int64, error)
	// ApplyAnswer атомарно записывает ответ и начисляет очки: вставка Response
	// и обновление score/answered_questions участника в одной транзакции.
	// Повторная запись той же пары (участник, вопрос) возвращается как
	// ErrDuplicateAnswer без каких-либо изменений.
	ApplyAnswer(response *entity.Response) error
}
