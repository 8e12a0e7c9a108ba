package postgres

import (
	"gorm.io/gorm"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
)

// ResponseRepo реализует repository.ResponseRepository
type ResponseRepo struct {
	db *gorm.DB
}

// NewResponseRepo создает новый репозиторий журнала ответов
func NewResponseRepo(db *gorm.DB) *ResponseRepo {
	return &ResponseRepo{db: db}
}

// GetByQuizAndUser возвращает все ответы участника в порядке вопросов
func (r *ResponseRepo) GetByQuizAndUser(quizID uint, userID string) ([]entity.Response, error) {
	var responses []entity.Response
	err := r.db.Where("quiz_id = ? AND user_id = ?", quizID, userID).
		Order("question_index").
		Find(&responses).Error
	return responses, err
}

// GetByQuiz возвращает все ответы викторины в порядке поступления
func (r *ResponseRepo) GetByQuiz(quizID uint) ([]entity.Response, error) {
	var responses []entity.Response
	err := r.db.Where("quiz_id = ?", quizID).
		Order("created_at").
		Find(&responses).Error
	return responses, err
}

// CountByOption возвращает распределение ответов по вариантам вопроса
func (r *ResponseRepo) CountByOption(quizID uint, questionIndex int) ([]repository.OptionCount, error) {
	var counts []repository.OptionCount
	err := r.db.Model(&entity.Response{}).
		Select("selected_option, COUNT(*) as count").
		Where("quiz_id = ? AND question_index = ?", quizID, questionIndex).
		Group("selected_option").
		Order("selected_option").
		Scan(&counts).Error
	return counts, err
}

// CountByQuiz возвращает общее количество ответов викторины
func (r *ResponseRepo) CountByQuiz(quizID uint) (int64, error) {
	var count int64
	err := r.db.Model(&entity.Response{}).Where("quiz_id = ?", quizID).Count(&count).Error
	return count, err
}
