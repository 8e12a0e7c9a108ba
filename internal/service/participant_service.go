package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/realtime"
	"github.com/yourusername/livequiz-api/pkg/clock"
)

const (
	maxUserIDLength = 128

	leaderboardCacheTTL = 5 * time.Second
)

// Identity описывает участника, подтвержденного внешним провайдером
// аутентификации
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
}

// Validate проверяет обязательные поля личности
func (i Identity) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	if len(i.UserID) > maxUserIDLength {
		return fmt.Errorf("%w: user id длиннее %d символов", apperrors.ErrValidation, maxUserIDLength)
	}
	if entity.NormalizeEmail(i.Email) == "" {
		return fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}
	return nil
}

// ParticipantService обслуживает игровую сторону викторины: вход, прием
// ответов, прогресс и таблицу лидеров
type ParticipantService struct {
	quizRepo        repository.QuizRepository
	questionRepo    repository.QuestionRepository
	participantRepo repository.ParticipantRepository
	responseRepo    repository.ResponseRepository
	cacheRepo       repository.CacheRepository
	broker          realtime.Broker
	clk             clock.Clock
	roster          *AdminRoster
}

// NewParticipantService создает игровой сервис.
// broker и cacheRepo могут быть nil (события и кеш отключены).
func NewParticipantService(
	quizRepo repository.QuizRepository,
	questionRepo repository.QuestionRepository,
	participantRepo repository.ParticipantRepository,
	responseRepo repository.ResponseRepository,
	cacheRepo repository.CacheRepository,
	broker realtime.Broker,
	clk clock.Clock,
	roster *AdminRoster,
) *ParticipantService {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &ParticipantService{
		quizRepo:        quizRepo,
		questionRepo:    questionRepo,
		participantRepo: participantRepo,
		responseRepo:    responseRepo,
		cacheRepo:       cacheRepo,
		broker:          broker,
		clk:             clk,
		roster:          roster,
	}
}

// Join регистрирует участника в викторине. Повторный вход того же
// пользователя идемпотентен: возвращается существующая запись с накопленным
// счетом. Вход возможен в статусах waiting и live при условии допуска.
func (s *ParticipantService) Join(ctx context.Context, quizID uint, identity Identity) (*entity.Participant, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if quiz.IsDraft() {
		return nil, fmt.Errorf("%w: викторина еще не открыта для входа", apperrors.ErrConflict)
	}
	if quiz.IsEnded() {
		return nil, fmt.Errorf("%w: викторина завершена", apperrors.ErrConflict)
	}
	if !quiz.AllowsParticipant(identity.Email) {
		return nil, fmt.Errorf("%w: адрес не входит в список допуска", apperrors.ErrForbidden)
	}

	existing, err := s.participantRepo.GetByQuizAndUser(quizID, identity.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	participant := s.newParticipant(quiz, identity)
	if err := s.participantRepo.Create(participant); err != nil {
		// Параллельный вход того же пользователя: возвращаем созданную им запись
		if errors.Is(err, repository.ErrParticipantExists) {
			return s.participantRepo.GetByQuizAndUser(quizID, identity.UserID)
		}
		return nil, err
	}

	s.publishJoined(quizID, participant)
	log.Printf("[ParticipantService] Викторина ID=%d: участник %s (%s) присоединился",
		quizID, participant.UserID, participant.DisplayName)
	return participant, nil
}

// SubmitAnswer принимает ответ участника на вопрос и начисляет очки.
// Каждая пара (участник, вопрос) оценивается не более одного раза; повтор
// возвращает ErrAlreadyAnswered без изменения счета. Участник без
// предварительного входа регистрируется на месте (с проверкой допуска).
// selectedOption = -1 означает истекшее время без выбора.
func (s *ParticipantService) SubmitAnswer(ctx context.Context, quizID uint, identity Identity, questionIndex, selectedOption int, timeTakenMs int64) (*entity.Response, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsLive() {
		return nil, fmt.Errorf("%w: прием ответов открыт только пока викторина идет", apperrors.ErrConflict)
	}
	if questionIndex < 0 || questionIndex >= quiz.TotalQuestions {
		return nil, fmt.Errorf("%w: индекс вопроса %d вне диапазона", apperrors.ErrValidation, questionIndex)
	}
	if quiz.IsPerQuestion() && questionIndex != quiz.CurrentQuestionIndex {
		return nil, fmt.Errorf("%w: принимаются ответы только на текущий вопрос #%d",
			apperrors.ErrValidation, quiz.CurrentQuestionIndex)
	}
	if timeTakenMs < 0 {
		return nil, fmt.Errorf("%w: отрицательное время ответа", apperrors.ErrValidation)
	}
	if !quiz.AllowsParticipant(identity.Email) {
		return nil, fmt.Errorf("%w: адрес не входит в список допуска", apperrors.ErrForbidden)
	}

	participant, err := s.participantRepo.GetByQuizAndUser(quizID, identity.UserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		participant, err = s.lazyJoin(quiz, identity)
	}
	if err != nil {
		return nil, err
	}

	if participant.HasAnswered(questionIndex) {
		return nil, fmt.Errorf("%w: вопрос #%d уже отвечен", apperrors.ErrAlreadyAnswered, questionIndex)
	}

	question, err := s.questionRepo.GetByQuizAndIndex(quizID, questionIndex)
	if err != nil {
		return nil, err
	}
	if selectedOption != entity.NoAnswerOption && !question.IsValidOption(selectedOption) {
		return nil, fmt.Errorf("%w: вариант ответа %d вне диапазона", apperrors.ErrValidation, selectedOption)
	}

	isCorrect := question.IsCorrect(selectedOption)
	budgetMs := int64(quiz.TimeBudgetSeconds()) * 1000
	points := entity.CalculateScore(isCorrect, timeTakenMs, budgetMs)

	response := &entity.Response{
		QuizID:         quizID,
		UserID:         identity.UserID,
		QuestionIndex:  questionIndex,
		SelectedOption: selectedOption,
		IsCorrect:      isCorrect,
		TimeTakenMs:    timeTakenMs,
		Points:         points,
		SubmittedAt:    s.clk.Now(),
	}
	if err := s.participantRepo.ApplyAnswer(response); err != nil {
		// Гонка двух запросов одного участника: выигравший уже записан
		if errors.Is(err, repository.ErrDuplicateAnswer) {
			return nil, fmt.Errorf("%w: вопрос #%d уже отвечен", apperrors.ErrAlreadyAnswered, questionIndex)
		}
		return nil, err
	}

	s.markFinished(quiz, participant)
	s.publishAnswered(quizID, identity, questionIndex)
	log.Printf("[ParticipantService] Викторина ID=%d: участник %s ответил на вопрос #%d (+%d очков)",
		quizID, identity.UserID, questionIndex, points)
	return response, nil
}

// HasAnswered сообщает, засчитан ли у участника ответ на вопрос.
// Незарегистрированный участник не отвечал ни на что.
func (s *ParticipantService) HasAnswered(ctx context.Context, quizID uint, identity Identity, questionIndex int) (bool, error) {
	if err := identity.Validate(); err != nil {
		return false, err
	}
	participant, err := s.participantRepo.GetByQuizAndUser(quizID, identity.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return participant.HasAnswered(questionIndex), nil
}

// Progress возвращает запись участника вместе с его ответами в порядке
// вопросов
func (s *ParticipantService) Progress(ctx context.Context, quizID uint, identity Identity) (*entity.Participant, []entity.Response, error) {
	if err := identity.Validate(); err != nil {
		return nil, nil, err
	}
	participant, err := s.participantRepo.GetByQuizAndUser(quizID, identity.UserID)
	if err != nil {
		return nil, nil, err
	}
	responses, err := s.responseRepo.GetByQuizAndUser(quizID, identity.UserID)
	if err != nil {
		return nil, nil, err
	}
	return participant, responses, nil
}

// leaderboardCacheEntry хранит кешированную первую страницу таблицы лидеров
type leaderboardCacheEntry struct {
	Participants []entity.Participant `json:"participants"`
	Total        int64                `json:"total"`
}

// Leaderboard возвращает страницу таблицы лидеров: очки по убыванию, при
// равенстве выше тот, кто набрал их раньше. Первая страница стандартного
// размера кешируется на несколько секунд.
func (s *ParticipantService) Leaderboard(ctx context.Context, quizID uint, page, pageSize int) ([]entity.Participant, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	useCache := s.cacheRepo != nil && page == 1 && pageSize == defaultPageSize
	if useCache {
		var cached leaderboardCacheEntry
		if err := s.cacheRepo.GetJSON(leaderboardCacheKey(quizID), &cached); err == nil {
			return cached.Participants, cached.Total, nil
		}
	}

	offset := (page - 1) * pageSize
	participants, total, err := s.participantRepo.ListByQuiz(quizID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}

	if useCache {
		entry := leaderboardCacheEntry{Participants: participants, Total: total}
		if err := s.cacheRepo.SetJSON(leaderboardCacheKey(quizID), entry, leaderboardCacheTTL); err != nil {
			log.Printf("[ParticipantService] Ошибка кеширования таблицы лидеров викторины ID=%d: %v", quizID, err)
		}
	}
	return participants, total, nil
}

// QuestionStats возвращает вопрос и распределение выбранных вариантов
// по нему. Доступно только управляющим викториной.
func (s *ParticipantService) QuestionStats(ctx context.Context, quizID uint, actorEmail string, questionIndex int) (*entity.Question, []repository.OptionCount, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, nil, fmt.Errorf("%w: only quiz managers can view answer stats", apperrors.ErrForbidden)
	}

	question, err := s.questionRepo.GetByQuizAndIndex(quizID, questionIndex)
	if err != nil {
		return nil, nil, err
	}
	counts, err := s.responseRepo.CountByOption(quizID, questionIndex)
	if err != nil {
		return nil, nil, err
	}
	return question, counts, nil
}

// FinishedCount возвращает число участников, ответивших на все вопросы
// (счетчик ведется в кеше и обнуляется перезапуском; 0 при недоступном кеше)
func (s *ParticipantService) FinishedCount(ctx context.Context, quizID uint) int64 {
	if s.cacheRepo == nil {
		return 0
	}
	val, err := s.cacheRepo.Get(finishedCountCacheKey(quizID))
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// lazyJoin регистрирует участника прямо в момент первого ответа
func (s *ParticipantService) lazyJoin(quiz *entity.Quiz, identity Identity) (*entity.Participant, error) {
	participant := s.newParticipant(quiz, identity)
	if err := s.participantRepo.Create(participant); err != nil {
		if errors.Is(err, repository.ErrParticipantExists) {
			return s.participantRepo.GetByQuizAndUser(quiz.ID, identity.UserID)
		}
		return nil, err
	}
	s.publishJoined(quiz.ID, participant)
	return participant, nil
}

func (s *ParticipantService) newParticipant(quiz *entity.Quiz, identity Identity) *entity.Participant {
	name := strings.TrimSpace(identity.DisplayName)
	if name == "" {
		name = entity.NormalizeEmail(identity.Email)
	}
	return &entity.Participant{
		QuizID:            quiz.ID,
		UserID:            strings.TrimSpace(identity.UserID),
		Email:             entity.NormalizeEmail(identity.Email),
		DisplayName:       name,
		AnsweredQuestions: entity.IntArray{},
	}
}

// markFinished увеличивает счетчик завершивших, когда участник закрыл
// последний оставшийся вопрос
func (s *ParticipantService) markFinished(quiz *entity.Quiz, participant *entity.Participant) {
	if s.cacheRepo == nil {
		return
	}
	if len(participant.AnsweredQuestions)+1 < quiz.TotalQuestions {
		return
	}
	if _, err := s.cacheRepo.Increment(finishedCountCacheKey(quiz.ID)); err != nil {
		log.Printf("[ParticipantService] Ошибка инкремента счетчика завершивших викторины ID=%d: %v", quiz.ID, err)
	}
}

func (s *ParticipantService) publishJoined(quizID uint, participant *entity.Participant) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(quizID, realtime.Event{
		Type: realtime.EventParticipantJoined,
		Data: realtime.ParticipantData{
			QuizID:      quizID,
			UserID:      participant.UserID,
			DisplayName: participant.DisplayName,
		},
	})
}

// publishAnswered рассылает факт ответа без правильности и очков
func (s *ParticipantService) publishAnswered(quizID uint, identity Identity, questionIndex int) {
	if s.broker == nil {
		return
	}
	idx := questionIndex
	s.broker.Publish(quizID, realtime.Event{
		Type: realtime.EventParticipantAnswered,
		Data: realtime.ParticipantData{
			QuizID:        quizID,
			UserID:        identity.UserID,
			DisplayName:   strings.TrimSpace(identity.DisplayName),
			QuestionIndex: &idx,
		},
	})
}

func leaderboardCacheKey(quizID uint) string {
	return fmt.Sprintf("quiz:leaderboard:%d", quizID)
}

func finishedCountCacheKey(quizID uint) string {
	return fmt.Sprintf("quiz:finished:%d", quizID)
}
