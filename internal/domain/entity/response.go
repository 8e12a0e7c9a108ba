package entity

import (
	"time"
)

// NoAnswerOption - сентинел "ответ не дан": клиент отправляет его,
// когда время вопроса истекло без выбора варианта
const NoAnswerOption = -1

// Response представляет одно событие подсчета очков (журнал только на добавление).
// Ровно одна запись на пару (участник, вопрос); записи никогда не изменяются,
// удаляются целиком при перезапуске или удалении викторины.
type Response struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	QuizID         uint      `gorm:"not null;index;uniqueIndex:idx_quiz_user_question" json:"quiz_id"`
	UserID         string    `gorm:"size:128;not null;uniqueIndex:idx_quiz_user_question" json:"user_id"`
	QuestionIndex  int       `gorm:"not null;uniqueIndex:idx_quiz_user_question" json:"question_index"`
	SelectedOption int       `gorm:"not null;default:-1" json:"selected_option"`
	IsCorrect      bool      `gorm:"not null" json:"is_correct"`
	TimeTakenMs    int64     `gorm:"not null" json:"time_taken_ms"`
	Points         int       `gorm:"not null;default:0" json:"points"`
	SubmittedAt    time.Time `gorm:"not null" json:"submitted_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (Response) TableName() string {
	return "responses"
}
