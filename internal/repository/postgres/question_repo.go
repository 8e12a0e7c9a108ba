package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// QuestionRepo реализует repository.QuestionRepository
type QuestionRepo struct {
	db *gorm.DB
}

// NewQuestionRepo создает новый репозиторий вопросов
func NewQuestionRepo(db *gorm.DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// Create создает новый вопрос и увеличивает счетчик total_questions
// викторины в той же транзакции.
func (r *QuestionRepo) Create(question *entity.Question) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// Устанавливаем кодировку UTF-8 внутри транзакции
		if err := tx.Exec("SET CLIENT_ENCODING TO 'UTF8'").Error; err != nil {
			return err
		}
		if err := tx.Create(question).Error; err != nil {
			return err
		}
		return tx.Model(&entity.Quiz{}).
			Where("id = ?", question.QuizID).
			Update("total_questions", gorm.Expr("total_questions + 1")).
			Error
	})
}

// GetByQuizAndIndex возвращает вопрос викторины по его позиции
func (r *QuestionRepo) GetByQuizAndIndex(quizID uint, index int) (*entity.Question, error) {
	var question entity.Question
	err := r.db.Where("quiz_id = ? AND order_index = ?", quizID, index).First(&question).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &question, nil
}

// GetByQuizID возвращает все вопросы викторины в порядке индексов
func (r *QuestionRepo) GetByQuizID(quizID uint) ([]entity.Question, error) {
	var questions []entity.Question
	err := r.db.Where("quiz_id = ?", quizID).Order("order_index").Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// Update обновляет информацию о вопросе
func (r *QuestionRepo) Update(question *entity.Question) error {
	return r.db.Save(question).Error
}

// DeleteAndReindex удаляет вопрос и уплотняет нумерацию в одной транзакции:
// индексы всех последующих вопросов сдвигаются на единицу вниз, так что
// нумерация остается непрерывной с нуля, а счетчик total_questions
// викторины уменьшается.
func (r *QuestionRepo) DeleteAndReindex(quizID uint, index int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("quiz_id = ? AND order_index = ?", quizID, index).
			Delete(&entity.Question{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: quiz #%d question index %d", apperrors.ErrNotFound, quizID, index)
		}

		if err := tx.Model(&entity.Question{}).
			Where("quiz_id = ? AND order_index > ?", quizID, index).
			Update("order_index", gorm.Expr("order_index - 1")).
			Error; err != nil {
			return err
		}

		return tx.Model(&entity.Quiz{}).
			Where("id = ? AND total_questions > 0", quizID).
			Update("total_questions", gorm.Expr("total_questions - 1")).
			Error
	})
}

// CountByQuiz возвращает количество вопросов викторины
func (r *QuestionRepo) CountByQuiz(quizID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Question{}).Where("quiz_id = ?", quizID).Count(&count).Error
	return count, err
}
