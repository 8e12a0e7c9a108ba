package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// recordingInviteSender записывает адреса, на которые просили отправить
// приглашения
type recordingInviteSender struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingInviteSender) SendQuizInvites(ctx context.Context, quiz *entity.Quiz, emails []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, emails)
	return r.err
}

func createTestAccessServiceWithMocks(quizRepo *MockQuizRepository, roster *AdminRoster, inviter QuizInviteSender) *AccessService {
	if roster == nil {
		roster = NewAdminRoster(nil)
	}
	return &AccessService{
		quizRepo: quizRepo,
		roster:   roster,
		inviter:  inviter,
	}
}

func openQuiz() *entity.Quiz {
	return &entity.Quiz{
		ID:           1,
		Code:         "ACCS01",
		Title:        "Викторина с допуском",
		CreatorEmail: "creator@example.com",
		Status:       entity.QuizStatusDraft,
	}
}

// ============================================================================
// Тесты пополнения списка допуска
// ============================================================================

func TestAccessService_AddAllowed_NormalizesAndDeduplicates(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), true, entity.StringArray{"a@example.com", "b@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act: дубликат, мусорная строка и разный регистр в одном запросе
	added, err := accessService.AddAllowed(context.Background(), 1, "creator@example.com",
		[]string{" A@Example.com ", "b@example.com", "a@example.com", ""}, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, added, "Должны засчитаться только уникальные нормализованные адреса")
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_AddAllowed_SkipsAlreadyListed(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.IsRestricted = true
	quiz.AllowedParticipants = entity.StringArray{"a@example.com"}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), true, entity.StringArray{"a@example.com", "c@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	added, err := accessService.AddAllowed(context.Background(), 1, "creator@example.com",
		[]string{"a@example.com", "c@example.com"}, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, added, "Уже допущенный адрес не считается добавленным")
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_AddAllowed_OnlyDuplicatesStillReassertRestriction(t *testing.T) {
	// Arrange: запрос из одних дубликатов все равно закрепляет ограничение
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.IsRestricted = true
	quiz.AllowedParticipants = entity.StringArray{"a@example.com"}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), true, entity.StringArray{"a@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	added, err := accessService.AddAllowed(context.Background(), 1, "creator@example.com",
		[]string{"A@example.com"}, false)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_AddAllowed_Forbidden(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockQuizRepo.On("GetByID", uint(1)).Return(openQuiz(), nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	added, err := accessService.AddAllowed(context.Background(), 1, "stranger@example.com",
		[]string{"x@example.com"}, false)

	// Assert
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Zero(t, added)
	mockQuizRepo.AssertNotCalled(t, "UpdateAccess")
}

func TestAccessService_AddAllowed_InvitesOnlyNewAddresses(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.IsRestricted = true
	quiz.AllowedParticipants = entity.StringArray{"a@example.com"}
	inviter := &recordingInviteSender{}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), true, entity.StringArray{"a@example.com", "new@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, inviter)

	// Act
	added, err := accessService.AddAllowed(context.Background(), 1, "creator@example.com",
		[]string{"a@example.com", "new@example.com"}, true)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	require.Len(t, inviter.calls, 1, "Приглашения должны уйти одним вызовом")
	assert.Equal(t, []string{"new@example.com"}, inviter.calls[0], "Приглашаются только новые адреса")
}

func TestAccessService_AddAllowed_InviteFailureIsNotFatal(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	inviter := &recordingInviteSender{err: errors.New("smtp down")}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), true, entity.StringArray{"new@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, inviter)

	// Act
	added, err := accessService.AddAllowed(context.Background(), 1, "creator@example.com",
		[]string{"new@example.com"}, true)

	// Assert
	require.NoError(t, err, "Сбой почты не должен отменять изменение списка")
	assert.Equal(t, 1, added)
}

// ============================================================================
// Тесты удаления из списка допуска
// ============================================================================

func TestAccessService_RemoveAllowed_LastRemovalLiftsRestriction(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.IsRestricted = true
	quiz.AllowedParticipants = entity.StringArray{"a@example.com"}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), false, entity.StringArray{}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.RemoveAllowed(context.Background(), 1, "creator@example.com", "A@example.com")

	// Assert
	require.NoError(t, err, "Опустевший список должен снимать ограничение")
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_RemoveAllowed_KeepsRestrictionWhileNonEmpty(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.IsRestricted = true
	quiz.AllowedParticipants = entity.StringArray{"a@example.com", "b@example.com"}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateAccess", uint(1), true, entity.StringArray{"b@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.RemoveAllowed(context.Background(), 1, "creator@example.com", "a@example.com")

	// Assert
	require.NoError(t, err)
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_RemoveAllowed_AbsentIsSilent(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.IsRestricted = true
	quiz.AllowedParticipants = entity.StringArray{"a@example.com"}
	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.RemoveAllowed(context.Background(), 1, "creator@example.com", "ghost@example.com")

	// Assert
	require.NoError(t, err, "Удаление отсутствующего адреса не ошибка")
	mockQuizRepo.AssertNotCalled(t, "UpdateAccess")
}

// ============================================================================
// Тесты совместного администрирования
// ============================================================================

func TestAccessService_Share_AddsCoAdmin(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateSharedWith", uint(1), entity.StringArray{"helper@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.Share(context.Background(), 1, "creator@example.com", " Helper@Example.com ")

	// Assert
	require.NoError(t, err)
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_Share_CreatorIsNoop(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockQuizRepo.On("GetByID", uint(1)).Return(openQuiz(), nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.Share(context.Background(), 1, "creator@example.com", "Creator@example.com")

	// Assert
	require.NoError(t, err, "Создатель управляет викториной и без shared_with")
	mockQuizRepo.AssertNotCalled(t, "UpdateSharedWith")
}

func TestAccessService_Share_DuplicateIsNoop(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.SharedWith = entity.StringArray{"helper@example.com"}
	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.Share(context.Background(), 1, "creator@example.com", "helper@example.com")

	// Assert
	require.NoError(t, err)
	mockQuizRepo.AssertNotCalled(t, "UpdateSharedWith")
}

func TestAccessService_Unshare_RemovesCoAdmin(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	quiz := openQuiz()
	quiz.SharedWith = entity.StringArray{"helper@example.com", "other@example.com"}

	mockQuizRepo.On("GetByID", uint(1)).Return(quiz, nil)
	mockQuizRepo.On("UpdateSharedWith", uint(1), entity.StringArray{"other@example.com"}).Return(nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.Unshare(context.Background(), 1, "creator@example.com", "helper@example.com")

	// Assert
	require.NoError(t, err)
	mockQuizRepo.AssertExpectations(t)
}

func TestAccessService_Unshare_AbsentIsSilent(t *testing.T) {
	// Arrange
	mockQuizRepo := new(MockQuizRepository)
	mockQuizRepo.On("GetByID", uint(1)).Return(openQuiz(), nil)

	accessService := createTestAccessServiceWithMocks(mockQuizRepo, nil, nil)

	// Act
	err := accessService.Unshare(context.Background(), 1, "creator@example.com", "ghost@example.com")

	// Assert
	require.NoError(t, err, "Отзыв несуществующих прав не ошибка")
	mockQuizRepo.AssertNotCalled(t, "UpdateSharedWith")
}

// ============================================================================
// Тесты проверок доступа
// ============================================================================

func TestAccessService_CanJoin(t *testing.T) {
	// Arrange
	accessService := createTestAccessServiceWithMocks(nil, nil, nil)

	unrestricted := openQuiz()
	restricted := openQuiz()
	restricted.IsRestricted = true
	restricted.AllowedParticipants = entity.StringArray{"vip@example.com"}

	// Act / Assert
	assert.True(t, accessService.CanJoin(unrestricted, "anyone@example.com"),
		"Без ограничения допущены все")
	assert.True(t, accessService.CanJoin(restricted, " VIP@Example.com "),
		"Сравнение со списком допуска регистронезависимо")
	assert.False(t, accessService.CanJoin(restricted, "other@example.com"))
	assert.False(t, accessService.CanJoin(nil, "anyone@example.com"))
}

func TestAccessService_CanManage(t *testing.T) {
	// Arrange
	roster := NewAdminRoster([]string{"root@example.com"})
	accessService := createTestAccessServiceWithMocks(nil, roster, nil)

	quiz := openQuiz()
	quiz.SharedWith = entity.StringArray{"helper@example.com"}

	// Act / Assert
	assert.True(t, accessService.CanManage(quiz, "Creator@example.com"), "Создатель управляет своей викториной")
	assert.True(t, accessService.CanManage(quiz, "helper@example.com"), "Соадминистратор управляет викториной")
	assert.True(t, accessService.CanManage(quiz, "ROOT@example.com"), "Платформенный администратор управляет любой викториной")
	assert.False(t, accessService.CanManage(quiz, "player@example.com"))
}
