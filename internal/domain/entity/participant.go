package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// IntArray - пользовательский тип для хранения множества индексов вопросов в JSONB
type IntArray []int

// Scan реализует интерфейс sql.Scanner для IntArray
func (o *IntArray) Scan(value interface{}) error {
	if value == nil {
		*o = IntArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}

	if len(bytes) == 0 {
		*o = IntArray{}
		return nil
	}

	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для IntArray
func (o IntArray) Value() (driver.Value, error) {
	if o == nil || len(o) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(o)
}

// Contains проверяет членство индекса
func (o IntArray) Contains(index int) bool {
	for _, v := range o {
		if v == index {
			return true
		}
	}
	return false
}

// Participant представляет участника викторины. Запись создается лениво
// (при первом присоединении или первом ответе) и уникальна для пары
// (викторина, идентификатор пользователя).
type Participant struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	QuizID            uint      `gorm:"not null;index;uniqueIndex:idx_quiz_user" json:"quiz_id"`
	UserID            string    `gorm:"size:128;not null;uniqueIndex:idx_quiz_user" json:"user_id"`
	Email             string    `gorm:"size:255;not null" json:"email"`
	DisplayName       string    `gorm:"size:100;not null;default:''" json:"display_name"`
	Score             int       `gorm:"not null;default:0" json:"score"`
	AnsweredQuestions IntArray  `gorm:"type:jsonb;not null;default:'[]'" json:"answered_questions"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Participant) TableName() string {
	return "participants"
}

// HasAnswered проверяет, начислялись ли участнику очки за вопрос.
// Вопрос считается учтенным, если его индекс уже записан в answered_questions.
func (p *Participant) HasAnswered(questionIndex int) bool {
	return p.AnsweredQuestions.Contains(questionIndex)
}
