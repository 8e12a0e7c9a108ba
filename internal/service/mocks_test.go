package service

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	"github.com/yourusername/livequiz-api/internal/realtime"
)

// Общие моки репозиториев для тестов сервисов

// MockQuizRepository - мок для repository.QuizRepository
type MockQuizRepository struct {
	mock.Mock
}

func (m *MockQuizRepository) Create(quiz *entity.Quiz) error {
	args := m.Called(quiz)
	return args.Error(0)
}

func (m *MockQuizRepository) CreateWithQuestions(quiz *entity.Quiz, questions []entity.Question) error {
	args := m.Called(quiz, questions)
	return args.Error(0)
}

func (m *MockQuizRepository) GetByID(id uint) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) GetByCode(code string) (*entity.Quiz, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) GetWithQuestions(id uint) (*entity.Quiz, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Quiz), args.Error(1)
}

func (m *MockQuizRepository) ListWithFilters(filters repository.QuizFilters, limit, offset int) ([]entity.Quiz, int64, error) {
	args := m.Called(filters, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]entity.Quiz), args.Get(1).(int64), args.Error(2)
}

func (m *MockQuizRepository) UpdateTitle(quizID uint, title string) error {
	args := m.Called(quizID, title)
	return args.Error(0)
}

func (m *MockQuizRepository) UpdateAccess(quizID uint, isRestricted bool, allowed entity.StringArray) error {
	args := m.Called(quizID, isRestricted, allowed)
	return args.Error(0)
}

func (m *MockQuizRepository) UpdateSharedWith(quizID uint, shared entity.StringArray) error {
	args := m.Called(quizID, shared)
	return args.Error(0)
}

func (m *MockQuizRepository) AtomicPrepare(quizID uint) error {
	args := m.Called(quizID)
	return args.Error(0)
}

func (m *MockQuizRepository) AtomicAdvance(quizID uint, expectedIndex int, startedAt time.Time) error {
	args := m.Called(quizID, expectedIndex, startedAt)
	return args.Error(0)
}

func (m *MockQuizRepository) AtomicStartSelfPaced(quizID uint, startedAt time.Time) error {
	args := m.Called(quizID, startedAt)
	return args.Error(0)
}

func (m *MockQuizRepository) AtomicFinish(quizID uint) error {
	args := m.Called(quizID)
	return args.Error(0)
}

func (m *MockQuizRepository) ResetForRestart(quizID uint) error {
	args := m.Called(quizID)
	return args.Error(0)
}

func (m *MockQuizRepository) Delete(id uint) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockQuestionRepository - мок для repository.QuestionRepository
type MockQuestionRepository struct {
	mock.Mock
}

func (m *MockQuestionRepository) Create(question *entity.Question) error {
	args := m.Called(question)
	return args.Error(0)
}

func (m *MockQuestionRepository) GetByQuizAndIndex(quizID uint, index int) (*entity.Question, error) {
	args := m.Called(quizID, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Question), args.Error(1)
}

func (m *MockQuestionRepository) GetByQuizID(quizID uint) ([]entity.Question, error) {
	args := m.Called(quizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Question), args.Error(1)
}

func (m *MockQuestionRepository) Update(question *entity.Question) error {
	args := m.Called(question)
	return args.Error(0)
}

func (m *MockQuestionRepository) DeleteAndReindex(quizID uint, index int) error {
	args := m.Called(quizID, index)
	return args.Error(0)
}

func (m *MockQuestionRepository) CountByQuiz(quizID uint) (int64, error) {
	args := m.Called(quizID)
	return args.Get(0).(int64), args.Error(1)
}

// MockParticipantRepository - мок для repository.ParticipantRepository
type MockParticipantRepository struct {
	mock.Mock
}

func (m *MockParticipantRepository) Create(participant *entity.Participant) error {
	args := m.Called(participant)
	return args.Error(0)
}

func (m *MockParticipantRepository) GetByQuizAndUser(quizID uint, userID string) (*entity.Participant, error) {
	args := m.Called(quizID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Participant), args.Error(1)
}

func (m *MockParticipantRepository) ListByQuiz(quizID uint, limit, offset int) ([]entity.Participant, int64, error) {
	args := m.Called(quizID, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]entity.Participant), args.Get(1).(int64), args.Error(2)
}

func (m *MockParticipantRepository) CountByQuiz(quizID uint) (int64, error) {
	args := m.Called(quizID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockParticipantRepository) ApplyAnswer(response *entity.Response) error {
	args := m.Called(response)
	return args.Error(0)
}

// MockResponseRepository - мок для repository.ResponseRepository
type MockResponseRepository struct {
	mock.Mock
}

func (m *MockResponseRepository) GetByQuizAndUser(quizID uint, userID string) ([]entity.Response, error) {
	args := m.Called(quizID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Response), args.Error(1)
}

func (m *MockResponseRepository) GetByQuiz(quizID uint) ([]entity.Response, error) {
	args := m.Called(quizID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Response), args.Error(1)
}

func (m *MockResponseRepository) CountByOption(quizID uint, questionIndex int) ([]repository.OptionCount, error) {
	args := m.Called(quizID, questionIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.OptionCount), args.Error(1)
}

func (m *MockResponseRepository) CountByQuiz(quizID uint) (int64, error) {
	args := m.Called(quizID)
	return args.Get(0).(int64), args.Error(1)
}

// MockCacheRepository - мок для repository.CacheRepository
type MockCacheRepository struct {
	mock.Mock
}

func (m *MockCacheRepository) Set(key string, value interface{}, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *MockCacheRepository) Get(key string) (string, error) {
	args := m.Called(key)
	return args.String(0), args.Error(1)
}

func (m *MockCacheRepository) Delete(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockCacheRepository) Increment(key string) (int64, error) {
	args := m.Called(key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCacheRepository) SetJSON(key string, value interface{}, expiration time.Duration) error {
	args := m.Called(key, value, expiration)
	return args.Error(0)
}

func (m *MockCacheRepository) GetJSON(key string, dest interface{}) error {
	args := m.Called(key, dest)
	return args.Error(0)
}

func (m *MockCacheRepository) Exists(key string) (bool, error) {
	args := m.Called(key)
	return args.Bool(0), args.Error(1)
}

func (m *MockCacheRepository) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	args := m.Called(key, value, expiration)
	return args.Bool(0), args.Error(1)
}

// recordingBroker собирает опубликованные события, чтобы тесты могли
// проверять их состав и порядок
type recordingBroker struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroker) Publish(quizID uint, event realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroker) Subscribe(quizID uint) (<-chan realtime.Event, func()) {
	ch := make(chan realtime.Event)
	close(ch)
	return ch, func() {}
}

func (b *recordingBroker) Events() []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]realtime.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *recordingBroker) EventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	types := make([]string, 0, len(b.events))
	for _, e := range b.events {
		types = append(types, e.Type)
	}
	return types
}

// stubClock возвращает фиксированное время
type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time {
	return c.now
}
