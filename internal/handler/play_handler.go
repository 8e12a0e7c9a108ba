package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/handler/dto"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/service"
)

// PlayHandler обрабатывает запросы участников: вход по коду, ответы
// на вопросы и просмотр собственного прогресса
type PlayHandler struct {
	quizService        *service.QuizService
	participantService *service.ParticipantService
}

// NewPlayHandler создает новый обработчик участников
func NewPlayHandler(quizService *service.QuizService, participantService *service.ParticipantService) *PlayHandler {
	return &PlayHandler{
		quizService:        quizService,
		participantService: participantService,
	}
}

// identityFromContext собирает идентичность участника из контекста запроса.
// Ключи устанавливаются middleware RequireAuth.
func identityFromContext(c *gin.Context) service.Identity {
	return service.Identity{
		UserID:      c.MustGet("user_id").(string),
		Email:       c.MustGet("email").(string),
		DisplayName: c.GetString("display_name"),
	}
}

func (h *PlayHandler) resolveQuiz(c *gin.Context) (*entity.Quiz, bool) {
	code := c.MustGet("quizCode").(string) // Нормализован middleware ExtractCodeParam
	quiz, err := h.quizService.GetQuizByCode(code)
	if err != nil {
		handleServiceError(c, err)
		return nil, false
	}
	return quiz, true
}

// ResolveCode возвращает публичное состояние викторины по коду присоединения.
// В пошаговом режиме при идущей викторине ответ содержит текущий вопрос,
// чтобы опоздавший участник не ждал следующего события.
func (h *PlayHandler) ResolveCode(c *gin.Context) {
	quiz, ok := h.resolveQuiz(c)
	if !ok {
		return
	}

	resp := dto.NewPlayQuizResponse(quiz)
	if quiz.IsLive() && quiz.IsPerQuestion() && quiz.CurrentQuestionIndex >= 0 {
		full, err := h.quizService.GetQuizWithQuestions(quiz.ID)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		if quiz.CurrentQuestionIndex < len(full.Questions) {
			q := dto.NewQuestionResponse(&full.Questions[quiz.CurrentQuestionIndex], false)
			resp.CurrentQuestion = &q
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ListQuestions возвращает вопросы викторины участнику.
// В режиме общего времени вопросы доступны с момента запуска, правильные
// ответы скрыты до завершения. В пошаговом режиме вопросы раздаются
// по одному, поэтому до завершения список недоступен.
func (h *PlayHandler) ListQuestions(c *gin.Context) {
	quiz, ok := h.resolveQuiz(c)
	if !ok {
		return
	}

	revealAnswers := false
	switch {
	case quiz.IsEnded():
		revealAnswers = true
	case quiz.IsLive() && quiz.IsOverall():
		// Ответы остаются скрытыми до завершения
	default:
		handleServiceError(c, fmt.Errorf("%w: questions are not available while quiz is %s", apperrors.ErrConflict, quiz.Status))
		return
	}

	full, err := h.quizService.GetQuizWithQuestions(quiz.ID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	questions := make([]dto.QuestionResponse, len(full.Questions))
	for i := range full.Questions {
		questions[i] = dto.NewQuestionResponse(&full.Questions[i], revealAnswers)
	}

	c.JSON(http.StatusOK, gin.H{
		"questions": questions,
		"total":     len(questions),
	})
}

// Join обрабатывает вход участника в викторину.
// Повторный вход возвращает существующего участника с сохраненным счетом.
func (h *PlayHandler) Join(c *gin.Context) {
	quiz, ok := h.resolveQuiz(c)
	if !ok {
		return
	}

	participant, err := h.participantService.Join(c.Request.Context(), quiz.ID, identityFromContext(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewParticipantResponse(participant))
}

// SubmitAnswerRequest представляет ответ участника на вопрос.
// Указатели различают отсутствующее поле и легитимный ноль:
// question_index=0 и selected_option=-1 (нет ответа) валидны.
type SubmitAnswerRequest struct {
	QuestionIndex  *int   `json:"question_index" binding:"required,gte=0"`
	SelectedOption *int   `json:"selected_option" binding:"required,gte=-1"`
	TimeTakenMs    *int64 `json:"time_taken_ms" binding:"required,gte=0"`
}

// SubmitAnswer обрабатывает ответ участника на вопрос
func (h *PlayHandler) SubmitAnswer(c *gin.Context) {
	quiz, ok := h.resolveQuiz(c)
	if !ok {
		return
	}

	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.participantService.SubmitAnswer(
		c.Request.Context(),
		quiz.ID,
		identityFromContext(c),
		*req.QuestionIndex,
		*req.SelectedOption,
		*req.TimeTakenMs,
	)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAnswerResponse(response))
}

// Progress возвращает участнику его счет и историю ответов
func (h *PlayHandler) Progress(c *gin.Context) {
	quiz, ok := h.resolveQuiz(c)
	if !ok {
		return
	}

	participant, responses, err := h.participantService.Progress(c.Request.Context(), quiz.ID, identityFromContext(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewProgressResponse(participant, responses))
}

// Leaderboard возвращает участнику страницу таблицы лидеров
func (h *PlayHandler) Leaderboard(c *gin.Context) {
	quiz, ok := h.resolveQuiz(c)
	if !ok {
		return
	}

	pageStr := c.DefaultQuery("page", "1")
	pageSizeStr := c.DefaultQuery("page_size", "20")

	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(pageSizeStr)
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	participants, total, err := h.participantService.Leaderboard(c.Request.Context(), quiz.ID, page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewLeaderboardResponse(participants, total, page, pageSize))
}
