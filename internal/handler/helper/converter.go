package helper

import (
	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// QuestionOption представляет вариант ответа для фронтенда
type QuestionOption struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// ConvertOptionsToObjects преобразует массив строк в массив объектов с id и text.
// ID использует 0-based индексацию для совместимости с correct_answer и
// selected_option. Картинка варианта подставляется из optionImages по индексу,
// если загружена.
func ConvertOptionsToObjects(options, optionImages entity.StringArray) []QuestionOption {
	converted := make([]QuestionOption, len(options))
	for i, opt := range options {
		if opt == "" {
			opt = "(пустой вариант)"
		}
		converted[i] = QuestionOption{ID: i, Text: opt}
		if i < len(optionImages) {
			converted[i].Image = optionImages[i]
		}
	}
	return converted
}
