package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	"github.com/yourusername/livequiz-api/internal/handler/dto"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/service"
)

// размер пачки при постраничной выгрузке таблицы лидеров в файл
const exportPageSize = 100

// QuizHandler обрабатывает административные запросы: создание и редактирование
// викторин, переходы жизненного цикла, списки допуска и выгрузку результатов
type QuizHandler struct {
	quizService        *service.QuizService
	lifecycleService   *service.LifecycleService
	participantService *service.ParticipantService
	accessService      *service.AccessService
	roster             *service.AdminRoster
}

// NewQuizHandler создает новый обработчик викторин
func NewQuizHandler(
	quizService *service.QuizService,
	lifecycleService *service.LifecycleService,
	participantService *service.ParticipantService,
	accessService *service.AccessService,
	roster *service.AdminRoster,
) *QuizHandler {
	return &QuizHandler{
		quizService:        quizService,
		lifecycleService:   lifecycleService,
		participantService: participantService,
		accessService:      accessService,
		roster:             roster,
	}
}

// actorEmail возвращает email аутентифицированного пользователя.
// Устанавливается middleware RequireAuth, поэтому MustGet безопасен.
func actorEmail(c *gin.Context) string {
	return c.MustGet("email").(string)
}

// CreateQuizRequest представляет запрос на создание викторины
type CreateQuizRequest struct {
	Title           string `json:"title" binding:"required,min=3,max=100"`
	TimeMode        string `json:"time_mode" binding:"required,oneof=perQuestion overall"`
	TimePerQuestion int    `json:"time_per_question" binding:"omitempty,min=10,max=120"`
	TotalTime       int    `json:"total_time" binding:"omitempty,min=60,max=3600"`
}

// CreateQuiz обрабатывает запрос на создание викторины
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	var req CreateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quiz, err := h.quizService.CreateQuiz(req.Title, req.TimeMode, req.TimePerQuestion, req.TotalTime, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewQuizResponse(quiz, false, false))
}

// GetQuiz возвращает викторину вместе с вопросами. Только для управляющих:
// ответ раскрывает правильные варианты и список допуска.
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint) // Получаем из контекста

	quiz, err := h.quizService.GetQuizWithQuestions(quizID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if !h.accessService.CanManage(quiz, actorEmail(c)) {
		handleServiceError(c, fmt.Errorf("%w: only quiz managers can view quiz details", apperrors.ErrForbidden))
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, true, true))
}

// ListQuizzes возвращает список викторин с пагинацией и фильтрацией.
// Обычный пользователь видит только собственные викторины; администратор
// платформы - все, либо свои при ?mine=true.
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	email := actorEmail(c)

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

	filters := repository.QuizFilters{
		Status: c.Query("status"), // draft, waiting, live, ended
		Search: c.Query("search"), // Поиск по названию
	}

	isRosterAdmin := h.roster != nil && h.roster.IsAdmin(email)
	if !isRosterAdmin || c.Query("mine") == "true" {
		filters.CreatorEmail = email
	}

	quizzes, total, err := h.quizService.ListQuizzes(filters, page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quizzes": dto.NewListQuizResponse(quizzes),
		"total":   total,
		"page":    page,
		"size":    pageSize,
	})
}

// UpdateQuizRequest представляет запрос на переименование викторины
type UpdateQuizRequest struct {
	Title string `json:"title" binding:"required,min=3,max=100"`
}

// UpdateQuiz обрабатывает запрос на переименование викторины
func (h *QuizHandler) UpdateQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req UpdateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.quizService.UpdateTitle(quizID, actorEmail(c), req.Title); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz updated successfully"})
}

// DeleteQuiz обрабатывает запрос на удаление викторины
func (h *QuizHandler) DeleteQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	if err := h.quizService.DeleteQuiz(quizID, actorEmail(c)); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz deleted successfully"})
}

// DuplicateQuiz обрабатывает запрос на дублирование существующей викторины.
// Копия создается в статусе draft с новым кодом присоединения.
func (h *QuizHandler) DuplicateQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	newQuiz, err := h.quizService.DuplicateQuiz(quizID, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewQuizResponse(newQuiz, false, false))
}

// QuestionRequest представляет вопрос при добавлении и обновлении
type QuestionRequest struct {
	Text          string   `json:"text" binding:"required,min=5,max=500"`
	Options       []string `json:"options" binding:"required,len=4"`
	CorrectAnswer *int     `json:"correct_answer" binding:"required,gte=0"`
	ImageURL      string   `json:"image_url" binding:"omitempty,max=500"`
	OptionImages  []string `json:"option_images" binding:"omitempty,max=4"`
}

func (r *QuestionRequest) toInput() service.QuestionInput {
	return service.QuestionInput{
		Text:          r.Text,
		Options:       r.Options,
		CorrectAnswer: *r.CorrectAnswer,
		ImageURL:      r.ImageURL,
		OptionImages:  r.OptionImages,
	}
}

// AddQuestion обрабатывает запрос на добавление вопроса к викторине
func (h *QuizHandler) AddQuestion(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.quizService.AddQuestion(quizID, actorEmail(c), req.toInput())
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewQuestionResponse(question, true))
}

// UpdateQuestion обрабатывает запрос на изменение вопроса по его индексу
func (h *QuizHandler) UpdateQuestion(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)
	index := int(c.MustGet("questionIndex").(uint))

	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	question, err := h.quizService.UpdateQuestion(quizID, actorEmail(c), index, req.toInput())
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuestionResponse(question, true))
}

// DeleteQuestion обрабатывает запрос на удаление вопроса.
// Индексы последующих вопросов уплотняются без разрывов.
func (h *QuizHandler) DeleteQuestion(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)
	index := int(c.MustGet("questionIndex").(uint))

	if err := h.quizService.DeleteQuestion(quizID, actorEmail(c), index); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Question deleted successfully"})
}

// ListQuestions возвращает вопросы викторины с правильными ответами.
// Только для управляющих викториной.
func (h *QuizHandler) ListQuestions(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.quizService.GetQuizWithQuestions(quizID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if !h.accessService.CanManage(quiz, actorEmail(c)) {
		handleServiceError(c, fmt.Errorf("%w: only quiz managers can view questions with answers", apperrors.ErrForbidden))
		return
	}

	questions := make([]dto.QuestionResponse, len(quiz.Questions))
	for i := range quiz.Questions {
		questions[i] = dto.NewQuestionResponse(&quiz.Questions[i], true)
	}

	c.JSON(http.StatusOK, gin.H{
		"questions": questions,
		"total":     len(questions),
	})
}

// StartQuiz открывает викторину для входа участников
func (h *QuizHandler) StartQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.lifecycleService.Start(c.Request.Context(), quizID, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, false, false))
}

// AdvanceQuiz переключает викторину на следующий вопрос.
// После последнего вопроса викторина завершается.
func (h *QuizHandler) AdvanceQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.lifecycleService.Advance(c.Request.Context(), quizID, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, false, false))
}

// StartSelfPaced запускает викторину в режиме общего времени
func (h *QuizHandler) StartSelfPaced(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.lifecycleService.StartSelfPaced(c.Request.Context(), quizID, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, false, false))
}

// EndQuiz завершает идущую викторину
func (h *QuizHandler) EndQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.lifecycleService.End(c.Request.Context(), quizID, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, false, false))
}

// RestartQuiz сбрасывает викторину к повторному проведению.
// Участники и их ответы удаляются, вопросы сохраняются.
func (h *QuizHandler) RestartQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	quiz, err := h.lifecycleService.Restart(c.Request.Context(), quizID, actorEmail(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewQuizResponse(quiz, false, false))
}

// AddAllowedRequest представляет запрос на пополнение списка допуска
type AddAllowedRequest struct {
	Emails      []string `json:"emails" binding:"required,min=1,max=500"`
	SendInvites bool     `json:"send_invites"`
}

// AddAllowed добавляет адреса в список допуска викторины.
// Непустой список автоматически включает ограничение входа.
func (h *QuizHandler) AddAllowed(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req AddAllowedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.accessService.AddAllowed(c.Request.Context(), quizID, actorEmail(c), req.Emails, req.SendInvites)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"added": added})
}

// RemoveAllowedRequest представляет запрос на удаление адреса из списка допуска
type RemoveAllowedRequest struct {
	Email string `json:"email" binding:"required"`
}

// RemoveAllowed удаляет адрес из списка допуска.
// Опустевший список автоматически снимает ограничение входа.
func (h *QuizHandler) RemoveAllowed(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req RemoveAllowedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.accessService.RemoveAllowed(c.Request.Context(), quizID, actorEmail(c), req.Email); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email removed from allowed list"})
}

// ShareRequest представляет запрос на управление соадминистраторами
type ShareRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ShareQuiz выдает адресу права управления викториной
func (h *QuizHandler) ShareQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.accessService.Share(c.Request.Context(), quizID, actorEmail(c), req.Email); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz shared successfully"})
}

// UnshareQuiz отзывает у адреса права управления викториной
func (h *QuizHandler) UnshareQuiz(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

	var req ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.accessService.Unshare(c.Request.Context(), quizID, actorEmail(c), req.Email); err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quiz unshared successfully"})
}

// GetLeaderboard возвращает страницу таблицы лидеров викторины вместе со
// счетчиком участников, ответивших на все вопросы
func (h *QuizHandler) GetLeaderboard(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)

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

	participants, total, err := h.participantService.Leaderboard(c.Request.Context(), quizID, page, pageSize)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaderboard":    dto.NewLeaderboardResponse(participants, total, page, pageSize),
		"finished_count": h.participantService.FinishedCount(c.Request.Context(), quizID),
	})
}

// GetQuestionStats возвращает распределение ответов по вариантам вопроса.
// Доступно только управляющим: ответ раскрывает правильный вариант.
func (h *QuizHandler) GetQuestionStats(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)
	index := int(c.MustGet("questionIndex").(uint))

	question, counts, err := h.participantService.QuestionStats(c.Request.Context(), quizID, actorEmail(c), index)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	resp := dto.QuestionStatsResponse{
		QuestionIndex: question.Index,
		Text:          question.Text,
		Options:       dto.NewQuestionResponse(question, true).Options,
		CorrectAnswer: question.CorrectAnswer,
		Counts:        make([]dto.OptionCountResponse, 0, len(counts)),
	}
	for _, oc := range counts {
		resp.Counts = append(resp.Counts, dto.OptionCountResponse{Option: oc.SelectedOption, Count: oc.Count})
		resp.TotalAnswers += oc.Count
		if oc.SelectedOption == question.CorrectAnswer {
			resp.CorrectCount = oc.Count
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ExportLeaderboard экспортирует полную таблицу лидеров в CSV или Excel
// GET /api/quizzes/:id/leaderboard/export?format=csv|xlsx
func (h *QuizHandler) ExportLeaderboard(c *gin.Context) {
	quizID := c.MustGet("quizID").(uint)
	format := c.DefaultQuery("format", "csv")

	quiz, err := h.quizService.GetQuizByID(quizID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if !h.accessService.CanManage(quiz, actorEmail(c)) {
		handleServiceError(c, fmt.Errorf("%w: only quiz managers can export the leaderboard", apperrors.ErrForbidden))
		return
	}

	// Выгружаем всех участников постранично
	var all []entity.Participant
	for page := 1; ; page++ {
		participants, total, err := h.participantService.Leaderboard(c.Request.Context(), quizID, page, exportPageSize)
		if err != nil {
			handleServiceError(c, err)
			return
		}
		all = append(all, participants...)
		if len(participants) == 0 || int64(len(all)) >= total {
			break
		}
	}

	filename := fmt.Sprintf("quiz_%d_leaderboard_%s", quizID, time.Now().Format("2006-01-02"))

	switch format {
	case "xlsx":
		h.exportXLSX(c, all, filename)
	default:
		h.exportCSV(c, all, filename)
	}
}

// exportCSV экспортирует таблицу лидеров в CSV с правильным экранированием спецсимволов
func (h *QuizHandler) exportCSV(c *gin.Context, participants []entity.Participant, filename string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.csv\"", filename))

	// BOM для корректного отображения UTF-8 в Excel
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	// Используем encoding/csv для правильного экранирования запятых/кавычек
	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	// Заголовки
	writer.Write([]string{"Место", "Участник", "Email", "Очки", "Отвечено вопросов", "Присоединился"})

	// Данные
	for i, p := range participants {
		writer.Write([]string{
			strconv.Itoa(i + 1),
			sanitizeForExcel(p.DisplayName),
			sanitizeForExcel(p.Email),
			strconv.Itoa(p.Score),
			strconv.Itoa(len(p.AnsweredQuestions)),
			p.CreatedAt.Format(time.RFC3339),
		})
	}
}

// exportXLSX экспортирует таблицу лидеров в Excel с использованием StreamWriter
func (h *QuizHandler) exportXLSX(c *gin.Context, participants []entity.Participant, filename string) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Таблица лидеров"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[QuizHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	// Заголовки
	headers := []interface{}{"Место", "Участник", "Email", "Очки", "Отвечено вопросов", "Присоединился"}
	if err := sw.SetRow("A1", headers); err != nil {
		log.Printf("[QuizHandler] Ошибка записи заголовков: %v", err)
	}

	// Данные
	for i, p := range participants {
		rowNum := i + 2 // Начинаем с 2 строки (1 - заголовки)
		cell := fmt.Sprintf("A%d", rowNum)

		row := []interface{}{
			i + 1,
			sanitizeForExcel(p.DisplayName),
			sanitizeForExcel(p.Email),
			p.Score,
			len(p.AnsweredQuestions),
			p.CreatedAt.Format(time.RFC3339),
		}
		if err := sw.SetRow(cell, row); err != nil {
			log.Printf("[QuizHandler] Ошибка записи строки %d: %v", rowNum, err)
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[QuizHandler] Ошибка при Flush: %v", err)
	}

	// Записываем в response
	if err := f.Write(c.Writer); err != nil {
		log.Printf("[QuizHandler] Ошибка записи Excel в response: %v", err)
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}

// handleServiceError обрабатывает ошибки сервисов и отправляет соответствующий HTTP ответ
func handleServiceError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrAlreadyAnswered) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
