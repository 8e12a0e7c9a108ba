package dto

import (
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/handler/helper"
)

// QuestionResponse представляет вопрос в формате для ответа клиенту.
// CorrectAnswer равен -1, пока правильный ответ скрыт от аудитории.
type QuestionResponse struct {
	ID            uint                    `json:"id"`
	QuizID        uint                    `json:"quiz_id"`
	Index         int                     `json:"index"`
	Text          string                  `json:"text"`
	Options       []helper.QuestionOption `json:"options"`
	CorrectAnswer int                     `json:"correct_answer"`
	ImageURL      string                  `json:"image_url,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// QuizResponse представляет викторину в формате для ответа клиенту
type QuizResponse struct {
	ID                   uint               `json:"id"`
	Code                 string             `json:"code"`
	Title                string             `json:"title"`
	CreatorEmail         string             `json:"creator_email"`
	TimeMode             string             `json:"time_mode"`
	TimePerQuestion      int                `json:"time_per_question,omitempty"`
	TotalTime            int                `json:"total_time,omitempty"`
	Status               string             `json:"status"`
	CurrentQuestionIndex int                `json:"current_question_index"`
	TotalQuestions       int                `json:"total_questions"`
	QuizStartTime        *time.Time         `json:"quiz_start_time,omitempty"`
	QuestionStartTime    *time.Time         `json:"question_start_time,omitempty"`
	IsRestricted         bool               `json:"is_restricted"`
	AllowedParticipants  []string           `json:"allowed_participants"`
	SharedWith           []string           `json:"shared_with"`
	Questions            []QuestionResponse `json:"questions,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// PlayQuizResponse представляет публичное состояние викторины для участника.
// Список допуска, соадминистраторы и адрес создателя не раскрываются.
type PlayQuizResponse struct {
	ID                   uint              `json:"id"`
	Code                 string            `json:"code"`
	Title                string            `json:"title"`
	TimeMode             string            `json:"time_mode"`
	TimePerQuestion      int               `json:"time_per_question,omitempty"`
	TotalTime            int               `json:"total_time,omitempty"`
	Status               string            `json:"status"`
	CurrentQuestionIndex int               `json:"current_question_index"`
	TotalQuestions       int               `json:"total_questions"`
	QuizStartTime        *time.Time        `json:"quiz_start_time,omitempty"`
	QuestionStartTime    *time.Time        `json:"question_start_time,omitempty"`
	IsRestricted         bool              `json:"is_restricted"`
	CurrentQuestion      *QuestionResponse `json:"current_question,omitempty"`
}

// ParticipantResponse представляет участника в формате для ответа клиенту
type ParticipantResponse struct {
	UserID            string    `json:"user_id"`
	DisplayName       string    `json:"display_name"`
	Score             int       `json:"score"`
	AnsweredQuestions []int     `json:"answered_questions"`
	JoinedAt          time.Time `json:"joined_at"`
}

// AnswerResponse представляет результат подсчета очков за один вопрос.
// Правильный вариант не включается: клиент узнает только свой исход.
type AnswerResponse struct {
	QuestionIndex  int       `json:"question_index"`
	SelectedOption int       `json:"selected_option"`
	IsCorrect      bool      `json:"is_correct"`
	Points         int       `json:"points"`
	TimeTakenMs    int64     `json:"time_taken_ms"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// ProgressResponse представляет собственный прогресс участника
type ProgressResponse struct {
	Participant *ParticipantResponse `json:"participant"`
	Answers     []AnswerResponse     `json:"answers"`
}

// LeaderboardEntry представляет строку таблицы лидеров
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Answered    int    `json:"answered"`
}

// LeaderboardResponse представляет пагинированную таблицу лидеров
type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
}

// OptionCountResponse представляет количество ответов на один вариант
type OptionCountResponse struct {
	Option int   `json:"option"`
	Count  int64 `json:"count"`
}

// QuestionStatsResponse представляет распределение ответов на вопрос
type QuestionStatsResponse struct {
	QuestionIndex int                     `json:"question_index"`
	Text          string                  `json:"text"`
	Options       []helper.QuestionOption `json:"options"`
	CorrectAnswer int                     `json:"correct_answer"`
	Counts        []OptionCountResponse   `json:"counts"`
	TotalAnswers  int64                   `json:"total_answers"`
	CorrectCount  int64                   `json:"correct_count"`
}

// NewQuestionResponse создает DTO для вопроса.
// При revealAnswer=false правильный вариант заменяется на -1.
func NewQuestionResponse(q *entity.Question, revealAnswer bool) QuestionResponse {
	correct := q.CorrectAnswer
	if !revealAnswer {
		correct = -1
	}
	return QuestionResponse{
		ID:            q.ID,
		QuizID:        q.QuizID,
		Index:         q.Index,
		Text:          q.Text,
		Options:       helper.ConvertOptionsToObjects(q.Options, q.OptionImages),
		CorrectAnswer: correct,
		ImageURL:      q.ImageURL,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
}

// NewQuizResponse создает DTO для викторины.
// revealAnswers управляет видимостью правильных ответов во вложенных вопросах:
// создателю они нужны при редактировании, участникам - только после завершения.
func NewQuizResponse(quiz *entity.Quiz, includeQuestions, revealAnswers bool) *QuizResponse {
	if quiz == nil {
		return nil
	}

	var questionsDTO []QuestionResponse
	if includeQuestions {
		questionsDTO = make([]QuestionResponse, len(quiz.Questions))
		for i := range quiz.Questions {
			questionsDTO[i] = NewQuestionResponse(&quiz.Questions[i], revealAnswers)
		}
	}

	return &QuizResponse{
		ID:                   quiz.ID,
		Code:                 quiz.Code,
		Title:                quiz.Title,
		CreatorEmail:         quiz.CreatorEmail,
		TimeMode:             quiz.TimeMode,
		TimePerQuestion:      quiz.TimePerQuestion,
		TotalTime:            quiz.TotalTime,
		Status:               quiz.Status,
		CurrentQuestionIndex: quiz.CurrentQuestionIndex,
		TotalQuestions:       quiz.TotalQuestions,
		QuizStartTime:        quiz.QuizStartTime,
		QuestionStartTime:    quiz.QuestionStartTime,
		IsRestricted:         quiz.IsRestricted,
		AllowedParticipants:  quiz.AllowedParticipants,
		SharedWith:           quiz.SharedWith,
		Questions:            questionsDTO,
		CreatedAt:            quiz.CreatedAt,
		UpdatedAt:            quiz.UpdatedAt,
	}
}

// NewPlayQuizResponse создает публичное DTO викторины для участника
func NewPlayQuizResponse(quiz *entity.Quiz) *PlayQuizResponse {
	if quiz == nil {
		return nil
	}
	return &PlayQuizResponse{
		ID:                   quiz.ID,
		Code:                 quiz.Code,
		Title:                quiz.Title,
		TimeMode:             quiz.TimeMode,
		TimePerQuestion:      quiz.TimePerQuestion,
		TotalTime:            quiz.TotalTime,
		Status:               quiz.Status,
		CurrentQuestionIndex: quiz.CurrentQuestionIndex,
		TotalQuestions:       quiz.TotalQuestions,
		QuizStartTime:        quiz.QuizStartTime,
		QuestionStartTime:    quiz.QuestionStartTime,
		IsRestricted:         quiz.IsRestricted,
	}
}

// NewParticipantResponse создает DTO для участника
func NewParticipantResponse(p *entity.Participant) *ParticipantResponse {
	if p == nil {
		return nil
	}
	return &ParticipantResponse{
		UserID:            p.UserID,
		DisplayName:       p.DisplayName,
		Score:             p.Score,
		AnsweredQuestions: p.AnsweredQuestions,
		JoinedAt:          p.CreatedAt,
	}
}

// NewAnswerResponse создает DTO для записи журнала ответов
func NewAnswerResponse(r *entity.Response) AnswerResponse {
	return AnswerResponse{
		QuestionIndex:  r.QuestionIndex,
		SelectedOption: r.SelectedOption,
		IsCorrect:      r.IsCorrect,
		Points:         r.Points,
		TimeTakenMs:    r.TimeTakenMs,
		SubmittedAt:    r.SubmittedAt,
	}
}

// NewProgressResponse создает DTO собственного прогресса участника
func NewProgressResponse(p *entity.Participant, responses []entity.Response) *ProgressResponse {
	answers := make([]AnswerResponse, len(responses))
	for i := range responses {
		answers[i] = NewAnswerResponse(&responses[i])
	}
	return &ProgressResponse{
		Participant: NewParticipantResponse(p),
		Answers:     answers,
	}
}

// NewLeaderboardResponse создает DTO пагинированной таблицы лидеров.
// Ранг сквозной: первая строка страницы N продолжает нумерацию страницы N-1.
func NewLeaderboardResponse(participants []entity.Participant, total int64, page, perPage int) *LeaderboardResponse {
	entries := make([]LeaderboardEntry, len(participants))
	for i := range participants {
		p := &participants[i]
		entries[i] = LeaderboardEntry{
			Rank:        (page-1)*perPage + i + 1,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Answered:    len(p.AnsweredQuestions),
		}
	}
	return &LeaderboardResponse{
		Entries: entries,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	}
}

// NewListQuizResponse создает слайс DTO для списка викторин
func NewListQuizResponse(quizzes []entity.Quiz) []*QuizResponse {
	list := make([]*QuizResponse, len(quizzes))
	for i := range quizzes {
		// Вопросы в список не включаются
		list[i] = NewQuizResponse(&quizzes[i], false, false)
	}
	return list
}
