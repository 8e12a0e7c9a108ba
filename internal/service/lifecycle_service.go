package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
	"github.com/yourusername/livequiz-api/internal/realtime"
	"github.com/yourusername/livequiz-api/pkg/clock"
)

// LifecycleService управляет жизненным циклом викторины:
// draft → waiting → live → ended, с перезапуском обратно в waiting.
// Каждый переход выполняется атомарным UPDATE с проверкой текущего состояния;
// проигранная гонка либо поглощается (если параллельный запрос уже привел
// викторину в целевое состояние), либо отклоняется как конфликт.
type LifecycleService struct {
	quizRepo     repository.QuizRepository
	questionRepo repository.QuestionRepository
	cacheRepo    repository.CacheRepository
	broker       realtime.Broker
	clk          clock.Clock
	roster       *AdminRoster
}

// NewLifecycleService создает сервис жизненного цикла.
// broker и cacheRepo могут быть nil (события и кеш отключены).
func NewLifecycleService(
	quizRepo repository.QuizRepository,
	questionRepo repository.QuestionRepository,
	cacheRepo repository.CacheRepository,
	broker realtime.Broker,
	clk clock.Clock,
	roster *AdminRoster,
) *LifecycleService {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &LifecycleService{
		quizRepo:     quizRepo,
		questionRepo: questionRepo,
		cacheRepo:    cacheRepo,
		broker:       broker,
		clk:          clk,
		roster:       roster,
	}
}

// Start открывает викторину для входа участников (draft|waiting → waiting).
// Требуется хотя бы один вопрос. Указатель вопроса сбрасывается в -1,
// отметки времени очищаются.
func (s *LifecycleService) Start(ctx context.Context, quizID uint, actorEmail string) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can start the quiz", apperrors.ErrForbidden)
	}
	if quiz.IsLive() || quiz.IsEnded() {
		return nil, fmt.Errorf("%w: из статуса %s запуск невозможен, используйте перезапуск", apperrors.ErrConflict, quiz.Status)
	}
	if quiz.TotalQuestions < 1 {
		return nil, fmt.Errorf("%w: нельзя открыть викторину без вопросов", apperrors.ErrValidation)
	}

	if err := s.quizRepo.AtomicPrepare(quizID); err != nil {
		if errors.Is(err, repository.ErrStaleQuizState) {
			return s.resolveStale(quizID, entity.QuizStatusWaiting)
		}
		return nil, err
	}

	quiz.Status = entity.QuizStatusWaiting
	quiz.CurrentQuestionIndex = -1
	quiz.QuizStartTime = nil
	quiz.QuestionStartTime = nil

	s.publishStatus(quiz)
	log.Printf("[LifecycleService] Викторина ID=%d открыта для входа (код %s)", quizID, quiz.Code)
	return quiz, nil
}

// Advance переключает викторину на следующий вопрос (режим "вопрос за
// вопросом"). Первый вызов переводит waiting → live и ставит отметку старта
// викторины; каждый вызов ставит отметку старта вопроса. Когда вопросы
// исчерпаны, викторина завершается. Параллельное продвижение поглощается:
// проигравший запрос получает уже продвинутое состояние.
func (s *LifecycleService) Advance(ctx context.Context, quizID uint, actorEmail string) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can advance the quiz", apperrors.ErrForbidden)
	}
	if !quiz.IsPerQuestion() {
		return nil, fmt.Errorf("%w: в режиме общего времени вопросы не переключаются", apperrors.ErrConflict)
	}
	switch quiz.Status {
	case entity.QuizStatusWaiting, entity.QuizStatusLive:
	case entity.QuizStatusDraft:
		return nil, fmt.Errorf("%w: сначала откройте викторину для входа", apperrors.ErrConflict)
	default:
		return nil, fmt.Errorf("%w: викторина завершена, используйте перезапуск", apperrors.ErrConflict)
	}

	next := quiz.CurrentQuestionIndex + 1
	if next >= quiz.TotalQuestions {
		return s.finish(quiz)
	}

	wasWaiting := quiz.IsWaiting()
	now := s.clk.Now()
	if err := s.quizRepo.AtomicAdvance(quizID, quiz.CurrentQuestionIndex, now); err != nil {
		if errors.Is(err, repository.ErrStaleQuizState) {
			fresh, ferr := s.quizRepo.GetByID(quizID)
			if ferr != nil {
				return nil, ferr
			}
			if fresh.CurrentQuestionIndex > quiz.CurrentQuestionIndex || fresh.IsEnded() {
				return fresh, nil
			}
			return nil, fmt.Errorf("%w: состояние викторины изменилось, повторите запрос", apperrors.ErrConflict)
		}
		return nil, err
	}

	quiz.Status = entity.QuizStatusLive
	quiz.CurrentQuestionIndex = next
	quiz.QuestionStartTime = &now
	if quiz.QuizStartTime == nil {
		quiz.QuizStartTime = &now
	}

	if wasWaiting {
		s.publishStatus(quiz)
	}
	s.publishQuestion(quiz, now)
	log.Printf("[LifecycleService] Викторина ID=%d: вопрос #%d из %d", quizID, next, quiz.TotalQuestions)
	return quiz, nil
}

// StartSelfPaced запускает викторину в режиме общего времени
// (waiting → live): указатель вопроса на 0, отметка старта ровно один раз.
// Повторный запуск идущей викторины не считается ошибкой.
func (s *LifecycleService) StartSelfPaced(ctx context.Context, quizID uint, actorEmail string) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can start the quiz", apperrors.ErrForbidden)
	}
	if !quiz.IsOverall() {
		return nil, fmt.Errorf("%w: в режиме вопрос за вопросом используйте переключение вопросов", apperrors.ErrConflict)
	}
	if quiz.IsLive() {
		return quiz, nil
	}
	if !quiz.IsWaiting() {
		return nil, fmt.Errorf("%w: запуск возможен только после открытия для входа", apperrors.ErrConflict)
	}

	now := s.clk.Now()
	if err := s.quizRepo.AtomicStartSelfPaced(quizID, now); err != nil {
		if errors.Is(err, repository.ErrStaleQuizState) {
			return s.resolveStale(quizID, entity.QuizStatusLive)
		}
		return nil, err
	}

	quiz.Status = entity.QuizStatusLive
	quiz.CurrentQuestionIndex = 0
	quiz.QuizStartTime = &now

	s.publishStatus(quiz)
	log.Printf("[LifecycleService] Викторина ID=%d запущена в режиме общего времени (%d секунд)", quizID, quiz.TotalTime)
	return quiz, nil
}

// End завершает идущую викторину (live → ended). Повторное завершение
// не считается ошибкой.
func (s *LifecycleService) End(ctx context.Context, quizID uint, actorEmail string) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can end the quiz", apperrors.ErrForbidden)
	}
	if quiz.IsEnded() {
		return quiz, nil
	}
	if !quiz.IsLive() {
		return nil, fmt.Errorf("%w: завершить можно только идущую викторину", apperrors.ErrConflict)
	}

	return s.finish(quiz)
}

// Restart возвращает викторину в waiting из любого статуса, кроме draft:
// указатель вопроса на -1, отметки времени очищаются, все участники и
// ответы удаляются. Вопросы не затрагиваются.
func (s *LifecycleService) Restart(ctx context.Context, quizID uint, actorEmail string) (*entity.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return nil, fmt.Errorf("%w: only quiz managers can restart the quiz", apperrors.ErrForbidden)
	}
	if quiz.IsDraft() {
		return nil, fmt.Errorf("%w: черновик не перезапускается, откройте викторину для входа", apperrors.ErrConflict)
	}

	if err := s.quizRepo.ResetForRestart(quizID); err != nil {
		if errors.Is(err, repository.ErrStaleQuizState) {
			return s.resolveStale(quizID, entity.QuizStatusWaiting)
		}
		return nil, err
	}

	quiz.Status = entity.QuizStatusWaiting
	quiz.CurrentQuestionIndex = -1
	quiz.QuizStartTime = nil
	quiz.QuestionStartTime = nil

	// Счет и таблица лидеров обнулились вместе с участниками
	s.invalidateQuizCaches(quiz)

	if s.broker != nil {
		s.broker.Publish(quizID, realtime.Event{
			Type: realtime.EventQuizRestarted,
			Data: realtime.StatusData{
				QuizID:               quizID,
				Status:               quiz.Status,
				CurrentQuestionIndex: quiz.CurrentQuestionIndex,
			},
		})
	}
	s.publishStatus(quiz)
	log.Printf("[LifecycleService] Викторина ID=%d перезапущена: участники и ответы удалены", quizID)
	return quiz, nil
}

// finish выполняет переход live → ended и инвалидирует кеш кода
func (s *LifecycleService) finish(quiz *entity.Quiz) (*entity.Quiz, error) {
	if err := s.quizRepo.AtomicFinish(quiz.ID); err != nil {
		if errors.Is(err, repository.ErrStaleQuizState) {
			return s.resolveStale(quiz.ID, entity.QuizStatusEnded)
		}
		return nil, err
	}

	quiz.Status = entity.QuizStatusEnded
	s.invalidateCodeCache(quiz.Code)
	s.publishStatus(quiz)
	log.Printf("[LifecycleService] Викторина ID=%d завершена", quiz.ID)
	return quiz, nil
}

// resolveStale перечитывает викторину после проигранного CAS: если
// параллельный запрос уже привел ее в целевой статус, дубль поглощается
func (s *LifecycleService) resolveStale(quizID uint, wantStatus string) (*entity.Quiz, error) {
	fresh, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return nil, err
	}
	if fresh.Status == wantStatus {
		return fresh, nil
	}
	return nil, fmt.Errorf("%w: статус викторины изменился на %s", apperrors.ErrConflict, fresh.Status)
}

func (s *LifecycleService) publishStatus(quiz *entity.Quiz) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(quiz.ID, realtime.Event{
		Type: realtime.EventQuizStatus,
		Data: realtime.StatusData{
			QuizID:               quiz.ID,
			Status:               quiz.Status,
			CurrentQuestionIndex: quiz.CurrentQuestionIndex,
		},
	})
}

// publishQuestion рассылает текущий вопрос без правильного ответа
func (s *LifecycleService) publishQuestion(quiz *entity.Quiz, startedAt time.Time) {
	if s.broker == nil {
		return
	}
	question, err := s.questionRepo.GetByQuizAndIndex(quiz.ID, quiz.CurrentQuestionIndex)
	if err != nil {
		log.Printf("[LifecycleService] Ошибка загрузки вопроса #%d викторины ID=%d: %v",
			quiz.CurrentQuestionIndex, quiz.ID, err)
		return
	}
	s.broker.Publish(quiz.ID, realtime.Event{
		Type: realtime.EventQuizQuestion,
		Data: realtime.QuestionData{
			QuizID:            quiz.ID,
			QuestionIndex:     quiz.CurrentQuestionIndex,
			Text:              question.Text,
			Options:           []string(question.Options),
			TimeLimitSeconds:  quiz.TimeBudgetSeconds(),
			QuestionStartedAt: startedAt.UnixMilli(),
		},
	})
}

func (s *LifecycleService) invalidateCodeCache(code string) {
	if s.cacheRepo == nil {
		return
	}
	if err := s.cacheRepo.Delete(quizCodeCacheKey(code)); err != nil {
		log.Printf("[LifecycleService] Ошибка инвалидации кеша кода %s: %v", code, err)
	}
}

// invalidateQuizCaches сбрасывает производные от участников кеши; заодно
// очищается негативный кеш кода, чтобы перезапущенная викторина находилась
// сразу
func (s *LifecycleService) invalidateQuizCaches(quiz *entity.Quiz) {
	if s.cacheRepo == nil {
		return
	}
	keys := []string{
		leaderboardCacheKey(quiz.ID),
		finishedCountCacheKey(quiz.ID),
		quizCodeMissKey(quiz.Code),
	}
	for _, key := range keys {
		if err := s.cacheRepo.Delete(key); err != nil {
			log.Printf("[LifecycleService] Ошибка инвалидации кеша %s: %v", key, err)
		}
	}
}
