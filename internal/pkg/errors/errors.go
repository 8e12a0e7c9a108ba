package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized используется для ошибок авторизации (неверный токен, нет прав).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden используется, когда у пользователя недостаточно прав для действия
	// (в том числе попытка присоединиться к викторине с ограниченным списком участников).
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния: недопустимый переход
	// жизненного цикла викторины или проигранная CAS-гонка.
	ErrConflict = errors.New("resource state conflict")

	// ErrAlreadyAnswered используется, когда участник повторно отвечает на тот же вопрос.
	// Подсчет очков выполняется не более одного раза на пару (участник, вопрос).
	ErrAlreadyAnswered = errors.New("question already answered")
)
