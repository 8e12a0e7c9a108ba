package handler

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/livequiz-api/internal/realtime"
	"github.com/yourusername/livequiz-api/internal/service"
)

// EventsHandler обрабатывает подключения к потоку событий викторины
type EventsHandler struct {
	quizService *service.QuizService
	gateway     *realtime.Gateway
}

// NewEventsHandler создает новый обработчик потока событий
func NewEventsHandler(quizService *service.QuizService, gateway *realtime.Gateway) *EventsHandler {
	return &EventsHandler{
		quizService: quizService,
		gateway:     gateway,
	}
}

// HandleConnection обрабатывает запрос на установку WebSocket соединения
// GET /ws?quiz_id=N&token=...
// Токен проверяется middleware RequireAuth (поддерживает токен в query).
func (h *EventsHandler) HandleConnection(c *gin.Context) {
	quizID64, err := strconv.ParseUint(c.Query("quiz_id"), 10, 32)
	if err != nil || quizID64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quiz_id query parameter is required"})
		return
	}
	quizID := uint(quizID64)

	// Убеждаемся, что викторина существует, до апгрейда соединения
	if _, err := h.quizService.GetQuizByID(quizID); err != nil {
		handleServiceError(c, err)
		return
	}

	identity := identityFromContext(c)
	log.Printf("[EventsHandler] Подключение к потоку событий: quiz_id=%d, user_id=%s", quizID, identity.UserID)

	h.gateway.Serve(c.Writer, c.Request, quizID, identity.UserID)
}
