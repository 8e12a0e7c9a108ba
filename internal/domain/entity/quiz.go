package entity

import (
	"strings"
	"time"
)

// Константы статусов викторины
const (
	QuizStatusDraft   = "draft"
	QuizStatusWaiting = "waiting"
	QuizStatusLive    = "live"
	QuizStatusEnded   = "ended"
)

// Режимы отсчета времени. Режим выбирается при создании и не меняется.
const (
	TimeModePerQuestion = "perQuestion"
	TimeModeOverall     = "overall"
)

// Границы валидации времени (секунды)
const (
	MinTimePerQuestion = 10
	MaxTimePerQuestion = 120
	MinTotalTime       = 60
	MaxTotalTime       = 3600
)

// Quiz представляет викторину
type Quiz struct {
	ID                   uint        `gorm:"primaryKey" json:"id"`
	Code                 string      `gorm:"size:6;not null;index" json:"code"`
	Title                string      `gorm:"size:100;not null" json:"title"`
	CreatorEmail         string      `gorm:"size:255;not null;index" json:"creator_email"`
	TimeMode             string      `gorm:"size:20;not null" json:"time_mode"`
	TimePerQuestion      int         `gorm:"not null;default:0" json:"time_per_question"`
	TotalTime            int         `gorm:"not null;default:0" json:"total_time"`
	Status               string      `gorm:"size:20;not null;default:'draft';index" json:"status"`
	CurrentQuestionIndex int         `gorm:"not null;default:-1" json:"current_question_index"`
	TotalQuestions       int         `gorm:"not null;default:0" json:"total_questions"`
	QuizStartTime        *time.Time  `json:"quiz_start_time,omitempty"`
	QuestionStartTime    *time.Time  `json:"question_start_time,omitempty"`
	IsRestricted         bool        `gorm:"not null;default:false" json:"is_restricted"`
	AllowedParticipants  StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"allowed_participants"`
	SharedWith           StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"shared_with"`
	Questions            []Question  `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Quiz) TableName() string {
	return "quizzes"
}

// IsDraft проверяет, находится ли викторина в черновике
func (q *Quiz) IsDraft() bool {
	return q.Status == QuizStatusDraft
}

// IsWaiting проверяет, открыта ли викторина для присоединения
func (q *Quiz) IsWaiting() bool {
	return q.Status == QuizStatusWaiting
}

// IsLive проверяет, идет ли викторина
func (q *Quiz) IsLive() bool {
	return q.Status == QuizStatusLive
}

// IsEnded проверяет, завершена ли викторина
func (q *Quiz) IsEnded() bool {
	return q.Status == QuizStatusEnded
}

// IsPerQuestion проверяет, ведется ли викторина в поочередном режиме
func (q *Quiz) IsPerQuestion() bool {
	return q.TimeMode == TimeModePerQuestion
}

// IsOverall проверяет, ведется ли викторина в режиме общего времени
func (q *Quiz) IsOverall() bool {
	return q.TimeMode == TimeModeOverall
}

// TimeBudgetSeconds возвращает действующий лимит времени согласно режиму:
// время на вопрос в поочередном режиме, общее время в режиме общего времени.
func (q *Quiz) TimeBudgetSeconds() int {
	if q.IsOverall() {
		return q.TotalTime
	}
	return q.TimePerQuestion
}

// AllowsParticipant проверяет членство нормализованного email в списке допущенных.
// Для неограниченной викторины всегда true.
func (q *Quiz) AllowsParticipant(email string) bool {
	if !q.IsRestricted {
		return true
	}
	normalized := NormalizeEmail(email)
	for _, allowed := range q.AllowedParticipants {
		if allowed == normalized {
			return true
		}
	}
	return false
}

// IsManagedBy проверяет, имеет ли email права управления викториной
// (создатель либо член списка shared_with). Глобальные администраторы
// проверяются отдельно на уровне middleware.
func (q *Quiz) IsManagedBy(email string) bool {
	normalized := NormalizeEmail(email)
	if NormalizeEmail(q.CreatorEmail) == normalized {
		return true
	}
	for _, shared := range q.SharedWith {
		if shared == normalized {
			return true
		}
	}
	return false
}

// NormalizeEmail приводит email к каноническому виду для сравнения и хранения
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
