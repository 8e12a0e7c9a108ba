package repository

import (
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// QuizFilters определяет фильтры для поиска викторин
type QuizFilters struct {
	Status       string // Фильтр по статусу (draft, waiting, live, ended)
	Search       string // Поиск по названию
	CreatorEmail string // Викторины конкретного создателя
}

// QuizRepository определяет методы для работы с викторинами.
// Atomic* методы выполняют переходы жизненного цикла одним UPDATE с проверкой
// текущего состояния в WHERE: проигранная гонка возвращает ErrStaleQuizState,
// после чего сервис перечитывает запись и решает, поглотить дубль или отклонить.
type QuizRepository interface {
	// Create сохраняет новую викторину. Занятый код среди незавершенных
	// викторин возвращается как ErrQuizCodeTaken.
	Create(quiz *entity.Quiz) error
	// CreateWithQuestions в одной транзакции сохраняет викторину вместе с
	// вопросами и проставляет total_questions. Занятый код возвращается
	// как ErrQuizCodeTaken.
	CreateWithQuestions(quiz *entity.Quiz, questions []entity.Question) error
	GetByID(id uint) (*entity.Quiz, error)
	// GetByCode ищет незавершенную викторину по коду
	GetByCode(code string) (*entity.Quiz, error)
	GetWithQuestions(id uint) (*entity.Quiz, error)
	ListWithFilters(filters QuizFilters, limit, offset int) ([]entity.Quiz, int64, error) // Возвращает также total count
	UpdateTitle(quizID uint, title string) error
	// UpdateAccess точечно обновляет флаг ограничения и список допущенных
	UpdateAccess(quizID uint, isRestricted bool, allowed entity.StringArray) error
	UpdateSharedWith(quizID uint, shared entity.StringArray) error

	// AtomicPrepare переводит draft|waiting → waiting: сбрасывает указатель
	// вопроса в -1 и обнуляет отметки времени.
	AtomicPrepare(quizID uint) error
	// AtomicAdvance продвигает current_question_index на единицу относительно
	// expectedIndex (значения, прочитанного сервисом), переводит в live и
	// ставит отметку старта вопроса; отметка старта викторины ставится только
	// если еще не стояла.
	AtomicAdvance(quizID uint, expectedIndex int, startedAt time.Time) error
	// AtomicStartSelfPaced переводит waiting → live в режиме общего времени:
	// указатель на 0, отметка старта викторины ровно один раз.
	AtomicStartSelfPaced(quizID uint, startedAt time.Time) error
	// AtomicFinish переводит live → ended.
	AtomicFinish(quizID uint) error
	// ResetForRestart в одной транзакции возвращает викторину в waiting
	// (указатель -1, отметки времени NULL) и удаляет всех участников и все
	// ответы. Вопросы не затрагиваются. Из draft перезапуск невозможен.
	ResetForRestart(quizID uint) error

	Delete(id uint) error
}
