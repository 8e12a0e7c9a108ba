package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// QuizRepo реализует repository.QuizRepository
type QuizRepo struct {
	db *gorm.DB
}

// NewQuizRepo создает новый репозиторий викторин
func NewQuizRepo(db *gorm.DB) *QuizRepo {
	return &QuizRepo{db: db}
}

// Create создает новую викторину.
// Partial unique index idx_quiz_code_active гарантирует уникальность кода
// среди незавершенных викторин; 23505 транслируется в ErrQuizCodeTaken,
// чтобы сервис мог перегенерировать код и повторить.
func (r *QuizRepo) Create(quiz *entity.Quiz) error {
	if err := r.db.Create(quiz).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", repository.ErrQuizCodeTaken, quiz.Code)
		}
		return err
	}
	return nil
}

// CreateWithQuestions создает викторину вместе с вопросами в одной транзакции
// (используется при дублировании). total_questions проставляется по числу
// переданных вопросов, их порядковые индексы сохраняются как есть.
func (r *QuizRepo) CreateWithQuestions(quiz *entity.Quiz, questions []entity.Question) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// Устанавливаем кодировку UTF-8 внутри транзакции
		if err := tx.Exec("SET CLIENT_ENCODING TO 'UTF8'").Error; err != nil {
			return err
		}

		quiz.TotalQuestions = len(questions)
		if err := tx.Create(quiz).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", repository.ErrQuizCodeTaken, quiz.Code)
			}
			return err
		}
		if len(questions) == 0 {
			return nil
		}

		for i := range questions {
			questions[i].ID = 0
			questions[i].QuizID = quiz.ID
		}
		return tx.Create(&questions).Error
	})
}

// GetByID возвращает викторину по ID
func (r *QuizRepo) GetByID(id uint) (*entity.Quiz, error) {
	var quiz entity.Quiz
	err := r.db.First(&quiz, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &quiz, nil
}

// GetByCode возвращает незавершенную викторину по коду присоединения
func (r *QuizRepo) GetByCode(code string) (*entity.Quiz, error) {
	var quiz entity.Quiz
	err := r.db.Where("code = ? AND status <> ?", code, entity.QuizStatusEnded).
		Order("id DESC").
		First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &quiz, nil
}

// GetWithQuestions возвращает викторину вместе с вопросами в порядке индексов
func (r *QuizRepo) GetWithQuestions(id uint) (*entity.Quiz, error) {
	var quiz entity.Quiz
	err := r.db.Preload("Questions", func(db *gorm.DB) *gorm.DB {
		return db.Order("questions.order_index ASC")
	}).First(&quiz, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &quiz, nil
}

// ListWithFilters возвращает список викторин с фильтрами и total count
func (r *QuizRepo) ListWithFilters(filters repository.QuizFilters, limit, offset int) ([]entity.Quiz, int64, error) {
	var quizzes []entity.Quiz
	var total int64

	// Строим базовый запрос
	query := r.db.Model(&entity.Quiz{})

	// Применяем фильтры
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}

	if filters.Search != "" {
		search := "%" + filters.Search + "%"
		query = query.Where("title ILIKE ?", search)
	}

	if filters.CreatorEmail != "" {
		query = query.Where("creator_email = ?", entity.NormalizeEmail(filters.CreatorEmail))
	}

	// Получаем total count
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Применяем пагинацию и сортировку
	err := query.Limit(limit).Offset(offset).Order("id DESC").Find(&quizzes).Error
	if err != nil {
		return nil, 0, err
	}

	return quizzes, total, nil
}

// UpdateTitle точечно обновляет название викторины
func (r *QuizRepo) UpdateTitle(quizID uint, title string) error {
	return r.db.Model(&entity.Quiz{}).
		Where("id = ?", quizID).
		Update("title", title).
		Error
}

// UpdateAccess точечно обновляет флаг ограничения и список допущенных
func (r *QuizRepo) UpdateAccess(quizID uint, isRestricted bool, allowed entity.StringArray) error {
	return r.db.Model(&entity.Quiz{}).
		Where("id = ?", quizID).
		Updates(map[string]interface{}{
			"is_restricted":        isRestricted,
			"allowed_participants": allowed,
		}).Error
}

// UpdateSharedWith точечно обновляет список соадминистраторов
func (r *QuizRepo) UpdateSharedWith(quizID uint, shared entity.StringArray) error {
	return r.db.Model(&entity.Quiz{}).
		Where("id = ?", quizID).
		Update("shared_with", shared).
		Error
}

// AtomicPrepare атомарно переводит draft|waiting → waiting.
// - RowsAffected == 0 → ErrStaleQuizState (викторина live/ended или не существует)
// - Другая DB ошибка → возвращается как есть
func (r *QuizRepo) AtomicPrepare(quizID uint) error {
	result := r.db.Model(&entity.Quiz{}).
		Where("id = ? AND status IN ?", quizID, []string{entity.QuizStatusDraft, entity.QuizStatusWaiting}).
		Updates(map[string]interface{}{
			"status":                 entity.QuizStatusWaiting,
			"current_question_index": -1,
			"quiz_start_time":        nil,
			"question_start_time":    nil,
		})

	if result.Error != nil {
		return fmt.Errorf("prepare quiz #%d failed: %w", quizID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: quiz #%d", repository.ErrStaleQuizState, quizID)
	}

	return nil
}

// AtomicAdvance атомарно продвигает указатель вопроса относительно значения,
// прочитанного сервисом. CAS по current_question_index в WHERE не дает двум
// конкурентным вызовам продвинуть один и тот же индекс дважды.
// Отметка старта викторины ставится только если была пустой.
func (r *QuizRepo) AtomicAdvance(quizID uint, expectedIndex int, startedAt time.Time) error {
	result := r.db.Model(&entity.Quiz{}).
		Where("id = ? AND current_question_index = ? AND status IN ?",
			quizID, expectedIndex, []string{entity.QuizStatusWaiting, entity.QuizStatusLive}).
		Updates(map[string]interface{}{
			"current_question_index": expectedIndex + 1,
			"status":                 entity.QuizStatusLive,
			"question_start_time":    startedAt,
			"quiz_start_time":        gorm.Expr("COALESCE(quiz_start_time, ?)", startedAt),
		})

	if result.Error != nil {
		return fmt.Errorf("advance quiz #%d failed: %w", quizID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: quiz #%d expected index %d", repository.ErrStaleQuizState, quizID, expectedIndex)
	}

	return nil
}

// AtomicStartSelfPaced атомарно переводит waiting → live в режиме общего времени.
// Повторный вызов при уже идущей викторине не пройдет по статусу и вернет
// ErrStaleQuizState; отметка старта при этом не перезаписывается.
func (r *QuizRepo) AtomicStartSelfPaced(quizID uint, startedAt time.Time) error {
	result := r.db.Model(&entity.Quiz{}).
		Where("id = ? AND status = ?", quizID, entity.QuizStatusWaiting).
		Updates(map[string]interface{}{
			"status":                 entity.QuizStatusLive,
			"current_question_index": 0,
			"quiz_start_time":        startedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("start self-paced quiz #%d failed: %w", quizID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: quiz #%d", repository.ErrStaleQuizState, quizID)
	}

	return nil
}

// AtomicFinish атомарно переводит live → ended
func (r *QuizRepo) AtomicFinish(quizID uint) error {
	result := r.db.Model(&entity.Quiz{}).
		Where("id = ? AND status = ?", quizID, entity.QuizStatusLive).
		Update("status", entity.QuizStatusEnded)

	if result.Error != nil {
		return fmt.Errorf("finish quiz #%d failed: %w", quizID, result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: quiz #%d", repository.ErrStaleQuizState, quizID)
	}

	return nil
}

// ResetForRestart выполняет жесткий перезапуск в одной транзакции:
// ended|waiting|live → waiting, указатель и отметки времени сброшены,
// участники и журнал ответов удалены. Откат при любой ошибке, чтобы статус
// и каскадное удаление не разошлись.
func (r *QuizRepo) ResetForRestart(quizID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.Quiz{}).
			Where("id = ? AND status IN ?", quizID,
				[]string{entity.QuizStatusEnded, entity.QuizStatusWaiting, entity.QuizStatusLive}).
			Updates(map[string]interface{}{
				"status":                 entity.QuizStatusWaiting,
				"current_question_index": -1,
				"quiz_start_time":        nil,
				"question_start_time":    nil,
			})

		if result.Error != nil {
			return fmt.Errorf("restart quiz #%d failed: %w", quizID, result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: quiz #%d", repository.ErrStaleQuizState, quizID)
		}

		if err := tx.Where("quiz_id = ?", quizID).Delete(&entity.Response{}).Error; err != nil {
			return fmt.Errorf("restart quiz #%d: delete responses: %w", quizID, err)
		}

		if err := tx.Where("quiz_id = ?", quizID).Delete(&entity.Participant{}).Error; err != nil {
			return fmt.Errorf("restart quiz #%d: delete participants: %w", quizID, err)
		}

		return nil
	})
}

// Delete удаляет викторину. Вопросы, участники и ответы удаляются каскадно
// по внешним ключам (ON DELETE CASCADE в миграциях).
func (r *QuizRepo) Delete(id uint) error {
	return r.db.Delete(&entity.Quiz{}, id).Error
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
