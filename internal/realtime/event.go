package realtime

// Типы событий, рассылаемых подписчикам викторины.
// Клиенты восстанавливают состояние по последнему снимку: события сигнализируют
// "перечитай", порядок доставки сверх "последний выигрывает" не гарантируется.
const (
	// EventQuizStatus - изменение статуса жизненного цикла (waiting/live/ended)
	EventQuizStatus = "quiz:status"
	// EventQuizQuestion - продвижение указателя вопроса в поочередном режиме
	EventQuizQuestion = "quiz:question"
	// EventQuizRestarted - жесткий перезапуск: очки и ответы стерты
	EventQuizRestarted = "quiz:restarted"
	// EventParticipantJoined - новый участник присоединился
	EventParticipantJoined = "participant:joined"
	// EventParticipantAnswered - участник ответил (без правильного ответа)
	EventParticipantAnswered = "participant:answered"
)

// Event представляет одно событие изменения викторины
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StatusData - полезная нагрузка EventQuizStatus
type StatusData struct {
	QuizID               uint   `json:"quiz_id"`
	Status               string `json:"status"`
	CurrentQuestionIndex int    `json:"current_question_index"`
}

// QuestionData - полезная нагрузка EventQuizQuestion.
// Правильный ответ не включается: участники получают его только после завершения.
type QuestionData struct {
	QuizID            uint     `json:"quiz_id"`
	QuestionIndex     int      `json:"question_index"`
	Text              string   `json:"text"`
	Options           []string `json:"options"`
	TimeLimitSeconds  int      `json:"time_limit_seconds"`
	QuestionStartedAt int64    `json:"question_started_at_ms"`
}

// ParticipantData - полезная нагрузка событий участников
type ParticipantData struct {
	QuizID        uint   `json:"quiz_id"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name,omitempty"`
	QuestionIndex *int   `json:"question_index,omitempty"`
}
