package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

const (
	minTitleLength        = 3
	minQuestionTextLength = 5
	maxQuestionTextLength = 500
	requiredOptionCount   = 4

	// Алфавит кода присоединения: заглавные буквы и цифры, чтобы код
	// легко диктовался вслух
	quizCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	quizCodeLength   = 6
	maxCodeAttempts  = 5

	quizCodeCacheTTL = time.Hour
	// Короткий негативный кеш прикрывает БД от перебора несуществующих кодов
	quizCodeMissTTL = 5 * time.Second

	defaultPageSize = 20
	maxPageSize     = 100
)

// QuizService предоставляет методы создания и редактирования викторин
type QuizService struct {
	quizRepo     repository.QuizRepository
	questionRepo repository.QuestionRepository
	cacheRepo    repository.CacheRepository
	roster       *AdminRoster
}

// NewQuizService создает новый сервис викторин
func NewQuizService(
	quizRepo repository.QuizRepository,
	questionRepo repository.QuestionRepository,
	cacheRepo repository.CacheRepository,
	roster *AdminRoster,
) *QuizService {
	return &QuizService{
		quizRepo:     quizRepo,
		questionRepo: questionRepo,
		cacheRepo:    cacheRepo,
		roster:       roster,
	}
}

// QuestionInput описывает данные вопроса при создании и обновлении
type QuestionInput struct {
	Text          string
	Options       []string
	CorrectAnswer int
	ImageURL      string
	OptionImages  []string
}

// CreateQuiz создает новую викторину в статусе draft с сгенерированным кодом
// присоединения. Занятый код перегенерируется, всего до maxCodeAttempts
// попыток.
func (s *QuizService) CreateQuiz(title, timeMode string, timePerQuestion, totalTime int, creatorEmail string) (*entity.Quiz, error) {
	title = strings.TrimSpace(title)
	if len([]rune(title)) < minTitleLength {
		return nil, fmt.Errorf("%w: название должно содержать не менее %d символов", apperrors.ErrValidation, minTitleLength)
	}
	creator := entity.NormalizeEmail(creatorEmail)
	if creator == "" {
		return nil, fmt.Errorf("%w: creator email is required", apperrors.ErrValidation)
	}
	if err := validateTimeSettings(timeMode, timePerQuestion, totalTime); err != nil {
		return nil, err
	}

	quiz := &entity.Quiz{
		Title:                title,
		CreatorEmail:         creator,
		TimeMode:             timeMode,
		TimePerQuestion:      timePerQuestion,
		TotalTime:            totalTime,
		Status:               entity.QuizStatusDraft,
		CurrentQuestionIndex: -1,
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateQuizCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate quiz code: %w", err)
		}
		quiz.ID = 0
		quiz.Code = code

		err = s.quizRepo.Create(quiz)
		if err == nil {
			if s.cacheRepo != nil {
				// Свежий код мог попасть в негативный кеш до создания
				if cerr := s.cacheRepo.Delete(quizCodeMissKey(quiz.Code)); cerr != nil {
					log.Printf("[QuizService] Ошибка очистки негативного кеша кода %s: %v", quiz.Code, cerr)
				}
			}
			log.Printf("[QuizService] Викторина ID=%d создана (код %s, режим %s)", quiz.ID, quiz.Code, quiz.TimeMode)
			return quiz, nil
		}
		if errors.Is(err, repository.ErrQuizCodeTaken) {
			log.Printf("[QuizService] Код %s занят, попытка %d из %d", code, attempt+1, maxCodeAttempts)
			continue
		}
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}

	return nil, fmt.Errorf("не удалось подобрать свободный код за %d попыток", maxCodeAttempts)
}

// GetQuizByID возвращает викторину по ID
func (s *QuizService) GetQuizByID(quizID uint) (*entity.Quiz, error) {
	return s.quizRepo.GetByID(quizID)
}

// GetQuizWithQuestions возвращает викторину вместе с вопросами
func (s *QuizService) GetQuizWithQuestions(quizID uint) (*entity.Quiz, error) {
	return s.quizRepo.GetWithQuestions(quizID)
}

// GetQuizByCode ищет незавершенную викторину по коду присоединения.
// Соответствие код → ID кешируется; запись о завершенной или переизданной
// викторине инвалидируется при чтении.
func (s *QuizService) GetQuizByCode(code string) (*entity.Quiz, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", apperrors.ErrValidation)
	}

	if s.cacheRepo != nil {
		if miss, err := s.cacheRepo.Exists(quizCodeMissKey(code)); err == nil && miss {
			return nil, apperrors.ErrNotFound
		}
		if cached, err := s.cacheRepo.Get(quizCodeCacheKey(code)); err == nil {
			if id, parseErr := strconv.ParseUint(cached, 10, 64); parseErr == nil {
				quiz, getErr := s.quizRepo.GetByID(uint(id))
				if getErr == nil && quiz.Code == code && !quiz.IsEnded() {
					return quiz, nil
				}
			}
			if err := s.cacheRepo.Delete(quizCodeCacheKey(code)); err != nil {
				log.Printf("[QuizService] Ошибка инвалидации кеша кода %s: %v", code, err)
			}
		}
	}

	quiz, err := s.quizRepo.GetByCode(code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) && s.cacheRepo != nil {
			if cerr := s.cacheRepo.Set(quizCodeMissKey(code), "1", quizCodeMissTTL); cerr != nil {
				log.Printf("[QuizService] Ошибка негативного кеширования кода %s: %v", code, cerr)
			}
		}
		return nil, err
	}

	if s.cacheRepo != nil {
		if err := s.cacheRepo.Set(quizCodeCacheKey(code), strconv.FormatUint(uint64(quiz.ID), 10), quizCodeCacheTTL); err != nil {
			log.Printf("[QuizService] Ошибка кеширования кода %s: %v", code, err)
		}
	}

	return quiz, nil
}

// ListQuizzes возвращает страницу викторин по фильтрам вместе с общим числом
func (s *QuizService) ListQuizzes(filters repository.QuizFilters, page, pageSize int) ([]entity.Quiz, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	offset := (page - 1) * pageSize
	return s.quizRepo.ListWithFilters(filters, pageSize, offset)
}

// UpdateTitle меняет название викторины. Во время live-сессии название
// заморожено.
func (s *QuizService) UpdateTitle(quizID uint, actorEmail, title string) error {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return fmt.Errorf("%w: only quiz managers can edit the quiz", apperrors.ErrForbidden)
	}
	if quiz.IsLive() {
		return fmt.Errorf("%w: викторина идет, название заморожено", apperrors.ErrConflict)
	}

	title = strings.TrimSpace(title)
	if len([]rune(title)) < minTitleLength {
		return fmt.Errorf("%w: название должно содержать не менее %d символов", apperrors.ErrValidation, minTitleLength)
	}

	return s.quizRepo.UpdateTitle(quizID, title)
}

// DeleteQuiz удаляет викторину вместе с вопросами, участниками и ответами.
// Идущую викторину сначала нужно завершить.
func (s *QuizService) DeleteQuiz(quizID uint, actorEmail string) error {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return fmt.Errorf("%w: only quiz managers can delete the quiz", apperrors.ErrForbidden)
	}
	if quiz.IsLive() {
		return fmt.Errorf("%w: завершите викторину перед удалением", apperrors.ErrConflict)
	}

	if err := s.quizRepo.Delete(quizID); err != nil {
		return fmt.Errorf("failed to delete quiz: %w", err)
	}

	if s.cacheRepo != nil {
		for _, key := range []string{quizCodeCacheKey(quiz.Code), leaderboardCacheKey(quizID), finishedCountCacheKey(quizID)} {
			if err := s.cacheRepo.Delete(key); err != nil {
				log.Printf("[QuizService] Ошибка инвалидации кеша %s: %v", key, err)
			}
		}
	}

	log.Printf("[QuizService] Викторина ID=%d удалена (код %s)", quizID, quiz.Code)
	return nil
}

// DuplicateQuiz создает черновик-копию викторины: настройки времени, вопросы
// и список допуска копируются, код генерируется заново, соадминистраторы
// не переносятся. Создателем копии становится инициатор.
func (s *QuizService) DuplicateQuiz(quizID uint, actorEmail string) (*entity.Quiz, error) {
	original, err := s.quizRepo.GetWithQuestions(quizID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("викторина с ID %d не найдена: %w", quizID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения оригинальной викторины: %w", err)
	}
	if !canManageQuiz(s.roster, original, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can duplicate the quiz", apperrors.ErrForbidden)
	}

	actor := entity.NormalizeEmail(actorEmail)

	copies := make([]entity.Question, 0, len(original.Questions))
	for _, q := range original.Questions {
		copies = append(copies, entity.Question{
			Index:         q.Index,
			Text:          q.Text,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			ImageURL:      q.ImageURL,
			OptionImages:  q.OptionImages,
		})
	}

	allowed := make(entity.StringArray, len(original.AllowedParticipants))
	copy(allowed, original.AllowedParticipants)

	newQuiz := &entity.Quiz{
		Title:                fmt.Sprintf("%s (копия)", original.Title),
		CreatorEmail:         actor,
		TimeMode:             original.TimeMode,
		TimePerQuestion:      original.TimePerQuestion,
		TotalTime:            original.TotalTime,
		Status:               entity.QuizStatusDraft,
		CurrentQuestionIndex: -1,
		IsRestricted:         original.IsRestricted,
		AllowedParticipants:  allowed,
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateQuizCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate quiz code: %w", err)
		}
		newQuiz.ID = 0
		newQuiz.Code = code

		err = s.quizRepo.CreateWithQuestions(newQuiz, copies)
		if err == nil {
			log.Printf("[QuizService] Викторина ID=%d дублирована: новый ID=%d, код %s, %d вопросов",
				quizID, newQuiz.ID, newQuiz.Code, len(copies))
			return newQuiz, nil
		}
		if errors.Is(err, repository.ErrQuizCodeTaken) {
			log.Printf("[QuizService] Код %s занят, попытка %d из %d", code, attempt+1, maxCodeAttempts)
			continue
		}
		return nil, fmt.Errorf("ошибка сохранения дубликата викторины: %w", err)
	}

	return nil, fmt.Errorf("не удалось подобрать свободный код за %d попыток", maxCodeAttempts)
}

// AddQuestion добавляет вопрос в конец списка. Вопросы можно изменять
// только пока викторина в черновике.
func (s *QuizService) AddQuestion(quizID uint, actorEmail string, input QuestionInput) (*entity.Question, error) {
	quiz, err := s.guardQuestionMutation(quizID, actorEmail)
	if err != nil {
		return nil, err
	}
	if err := validateQuestionInput(input); err != nil {
		return nil, err
	}

	count, err := s.questionRepo.CountByQuiz(quizID)
	if err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}

	question := &entity.Question{
		QuizID:        quiz.ID,
		Index:         int(count),
		Text:          strings.TrimSpace(input.Text),
		Options:       entity.StringArray(input.Options),
		CorrectAnswer: input.CorrectAnswer,
		ImageURL:      input.ImageURL,
		OptionImages:  entity.StringArray(input.OptionImages),
	}
	if err := s.questionRepo.Create(question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	log.Printf("[QuizService] Викторина ID=%d: добавлен вопрос #%d", quizID, question.Index)
	return question, nil
}

// UpdateQuestion заменяет содержимое вопроса по его позиции
func (s *QuizService) UpdateQuestion(quizID uint, actorEmail string, index int, input QuestionInput) (*entity.Question, error) {
	if _, err := s.guardQuestionMutation(quizID, actorEmail); err != nil {
		return nil, err
	}
	if err := validateQuestionInput(input); err != nil {
		return nil, err
	}

	question, err := s.questionRepo.GetByQuizAndIndex(quizID, index)
	if err != nil {
		return nil, err
	}

	question.Text = strings.TrimSpace(input.Text)
	question.Options = entity.StringArray(input.Options)
	question.CorrectAnswer = input.CorrectAnswer
	question.ImageURL = input.ImageURL
	question.OptionImages = entity.StringArray(input.OptionImages)

	if err := s.questionRepo.Update(question); err != nil {
		return nil, fmt.Errorf("failed to update question: %w", err)
	}
	return question, nil
}

// DeleteQuestion удаляет вопрос по позиции; индексы последующих вопросов
// уплотняются без разрывов
func (s *QuizService) DeleteQuestion(quizID uint, actorEmail string, index int) error {
	if _, err := s.guardQuestionMutation(quizID, actorEmail); err != nil {
		return err
	}

	if err := s.questionRepo.DeleteAndReindex(quizID, index); err != nil {
		return err
	}

	log.Printf("[QuizService] Викторина ID=%d: вопрос #%d удален, нумерация уплотнена", quizID, index)
	return nil
}

// guardQuestionMutation проверяет право управления и статус draft
func (s *QuizService) guardQuestionMutation(quizID uint, actorEmail string) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can edit questions", apperrors.ErrForbidden)
	}
	if !quiz.IsDraft() {
		return nil, fmt.Errorf("%w: вопросы можно изменять только в черновике", apperrors.ErrConflict)
	}
	return quiz, nil
}

func validateTimeSettings(timeMode string, timePerQuestion, totalTime int) error {
	switch timeMode {
	case entity.TimeModePerQuestion:
		if timePerQuestion < entity.MinTimePerQuestion || timePerQuestion > entity.MaxTimePerQuestion {
			return fmt.Errorf("%w: время на вопрос должно быть от %d до %d секунд",
				apperrors.ErrValidation, entity.MinTimePerQuestion, entity.MaxTimePerQuestion)
		}
	case entity.TimeModeOverall:
		if totalTime < entity.MinTotalTime || totalTime > entity.MaxTotalTime {
			return fmt.Errorf("%w: общее время должно быть от %d до %d секунд",
				apperrors.ErrValidation, entity.MinTotalTime, entity.MaxTotalTime)
		}
	default:
		return fmt.Errorf("%w: неизвестный режим времени %q", apperrors.ErrValidation, timeMode)
	}
	return nil
}

func validateQuestionInput(input QuestionInput) error {
	text := strings.TrimSpace(input.Text)
	if len([]rune(text)) < minQuestionTextLength {
		return fmt.Errorf("%w: текст вопроса должен содержать не менее %d символов", apperrors.ErrValidation, minQuestionTextLength)
	}
	if len([]rune(text)) > maxQuestionTextLength {
		return fmt.Errorf("%w: текст вопроса длиннее %d символов", apperrors.ErrValidation, maxQuestionTextLength)
	}
	if len(input.Options) != requiredOptionCount {
		return fmt.Errorf("%w: вопрос должен содержать ровно %d вариантов ответа", apperrors.ErrValidation, requiredOptionCount)
	}
	for i, opt := range input.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: вариант ответа #%d пуст", apperrors.ErrValidation, i+1)
		}
	}
	if input.CorrectAnswer < 0 || input.CorrectAnswer >= len(input.Options) {
		return fmt.Errorf("%w: индекс правильного ответа вне диапазона", apperrors.ErrValidation)
	}
	if len(input.OptionImages) > 0 && len(input.OptionImages) != len(input.Options) {
		return fmt.Errorf("%w: количество изображений должно совпадать с количеством вариантов", apperrors.ErrValidation)
	}
	return nil
}

// generateQuizCode возвращает криптослучайный код присоединения
func generateQuizCode() (string, error) {
	max := big.NewInt(int64(len(quizCodeAlphabet)))
	b := make([]byte, quizCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = quizCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func quizCodeCacheKey(code string) string {
	return "quiz:code:" + code
}

func quizCodeMissKey(code string) string {
	return "quiz:code-miss:" + code
}
