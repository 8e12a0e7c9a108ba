package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// ParticipantRepo реализует repository.ParticipantRepository
type ParticipantRepo struct {
	db *gorm.DB
}

// NewParticipantRepo создает новый репозиторий участников
func NewParticipantRepo(db *gorm.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

// Create сохраняет нового участника.
// Unique index idx_quiz_user гарантирует одну запись на пару (викторина,
// пользователь); 23505 транслируется в ErrParticipantExists, чтобы сервис
// перечитал существующую запись (идемпотентное присоединение).
func (r *ParticipantRepo) Create(participant *entity.Participant) error {
	if err := r.db.Create(participant).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: quiz #%d user %s",
				repository.ErrParticipantExists, participant.QuizID, participant.UserID)
		}
		return err
	}
	return nil
}

// GetByQuizAndUser возвращает участника по паре (викторина, пользователь)
func (r *ParticipantRepo) GetByQuizAndUser(quizID uint, userID string) (*entity.Participant, error) {
	var participant entity.Participant
	err := r.db.Where("quiz_id = ? AND user_id = ?", quizID, userID).First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &participant, nil
}

// ListByQuiz возвращает участников в порядке таблицы лидеров с пагинацией и total count
func (r *ParticipantRepo) ListByQuiz(quizID uint, limit, offset int) ([]entity.Participant, int64, error) {
	var participants []entity.Participant
	var total int64

	// Используем транзакцию для согласованности чтения данных и общего количества
	tx := r.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()
	if tx.Error != nil {
		return nil, 0, tx.Error
	}

	err := tx.Model(&entity.Participant{}).Where("quiz_id = ?", quizID).Count(&total).Error
	if err != nil {
		tx.Rollback()
		return nil, 0, err
	}

	// Очки по убыванию; при равенстве выше тот, кто набрал их раньше
	err = tx.Where("quiz_id = ?", quizID).
		Order("score DESC, updated_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&participants).Error
	if err != nil {
		tx.Rollback()
		return nil, 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, 0, err
	}

	return participants, total, nil
}

// CountByQuiz возвращает количество участников викторины
func (r *ParticipantRepo) CountByQuiz(quizID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Participant{}).Where("quiz_id = ?", quizID).Count(&count).Error
	return count, err
}

// ApplyAnswer атомарно записывает ответ и начисляет очки.
// Вставка в журнал и обновление участника выполняются в одной транзакции:
// либо обе записи видны, либо ни одной. Повторная отправка нарушает unique
// index idx_quiz_user_question; 23505 транслируется в ErrDuplicateAnswer
// и откатывает транзакцию целиком.
func (r *ParticipantRepo) ApplyAnswer(response *entity.Response) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(response).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: quiz #%d user %s question %d",
					repository.ErrDuplicateAnswer, response.QuizID, response.UserID, response.QuestionIndex)
			}
			return err
		}

		result := tx.Model(&entity.Participant{}).
			Where("quiz_id = ? AND user_id = ?", response.QuizID, response.UserID).
			Updates(map[string]interface{}{
				"score":              gorm.Expr("score + ?", response.Points),
				"answered_questions": gorm.Expr("answered_questions || ?::jsonb", fmt.Sprintf("[%d]", response.QuestionIndex)),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: participant quiz #%d user %s",
				apperrors.ErrNotFound, response.QuizID, response.UserID)
		}

		return nil
	})
}
