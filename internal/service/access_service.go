package service

import (
	"context"
	"fmt"
	"log"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
	"github.com/yourusername/livequiz-api/internal/domain/repository"
	apperrors "github.com/yourusername/livequiz-api/internal/pkg/errors"
)

// AccessService управляет допуском участников к викторине и правами
// совместного администрирования
type AccessService struct {
	quizRepo repository.QuizRepository
	roster   *AdminRoster
	inviter  QuizInviteSender
}

// NewAccessService создает новый сервис управления доступом.
// inviter может быть nil, тогда приглашения не отправляются.
func NewAccessService(
	quizRepo repository.QuizRepository,
	roster *AdminRoster,
	inviter QuizInviteSender,
) *AccessService {
	return &AccessService{
		quizRepo: quizRepo,
		roster:   roster,
		inviter:  inviter,
	}
}

// canManageQuiz проверяет право управления викториной: создатель,
// соадминистратор из shared_with или платформенный администратор из реестра
func canManageQuiz(roster *AdminRoster, quiz *entity.Quiz, email string) bool {
	if quiz == nil {
		return false
	}
	if quiz.IsManagedBy(email) {
		return true
	}
	return roster != nil && roster.IsAdmin(email)
}

// CanManage сообщает, вправе ли адрес управлять викториной
func (s *AccessService) CanManage(quiz *entity.Quiz, email string) bool {
	return canManageQuiz(s.roster, quiz, email)
}

// CanJoin сообщает, допущен ли адрес к участию в викторине.
// Без ограничения допущены все; с ограничением адрес сверяется со списком
// допуска без учета регистра.
func (s *AccessService) CanJoin(quiz *entity.Quiz, email string) bool {
	if quiz == nil {
		return false
	}
	return quiz.AllowsParticipant(email)
}

// AddAllowed добавляет адреса в список допуска викторины. Адреса
// нормализуются, дубликаты (в запросе и относительно текущего списка)
// пропускаются. Непустой итоговый список автоматически включает режим
// ограниченного доступа. Возвращает число фактически добавленных адресов.
// При sendInvites добавленным адресам отправляются приглашения; сбой
// отправки не считается ошибкой операции.
func (s *AccessService) AddAllowed(ctx context.Context, quizID uint, actorEmail string, emails []string, sendInvites bool) (int, error) {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return 0, err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return 0, fmt.Errorf("%w: only quiz managers can edit the allow list", apperrors.ErrForbidden)
	}

	seen := make(map[string]struct{}, len(quiz.AllowedParticipants))
	list := make(entity.StringArray, len(quiz.AllowedParticipants))
	copy(list, quiz.AllowedParticipants)
	for _, e := range list {
		seen[e] = struct{}{}
	}

	var added []string
	for _, raw := range emails {
		n := entity.NormalizeEmail(raw)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		list = append(list, n)
		added = append(added, n)
	}

	// Ограничение действует ровно тогда, когда список непуст
	restricted := len(list) > 0
	if err := s.quizRepo.UpdateAccess(quizID, restricted, list); err != nil {
		return 0, fmt.Errorf("failed to update allow list: %w", err)
	}

	log.Printf("[AccessService] Викторина ID=%d: список допуска пополнен на %d адресов (всего %d)",
		quizID, len(added), len(list))

	if sendInvites && len(added) > 0 && s.inviter != nil {
		if err := s.inviter.SendQuizInvites(ctx, quiz, added); err != nil {
			log.Printf("[AccessService] Ошибка отправки приглашений для викторины ID=%d: %v", quizID, err)
		}
	}

	return len(added), nil
}

// RemoveAllowed удаляет один адрес из списка допуска. Когда список
// становится пустым, режим ограниченного доступа автоматически снимается.
// Удаление отсутствующего адреса не считается ошибкой.
func (s *AccessService) RemoveAllowed(ctx context.Context, quizID uint, actorEmail, email string) error {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return fmt.Errorf("%w: only quiz managers can edit the allow list", apperrors.ErrForbidden)
	}

	n := entity.NormalizeEmail(email)
	if n == "" {
		return fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}

	list := make(entity.StringArray, 0, len(quiz.AllowedParticipants))
	removed := false
	for _, e := range quiz.AllowedParticipants {
		if e == n {
			removed = true
			continue
		}
		list = append(list, e)
	}
	if !removed {
		return nil
	}

	restricted := len(list) > 0
	if err := s.quizRepo.UpdateAccess(quizID, restricted, list); err != nil {
		return fmt.Errorf("failed to update allow list: %w", err)
	}

	log.Printf("[AccessService] Викторина ID=%d: адрес удален из списка допуска, осталось %d (ограничение: %v)",
		quizID, len(list), restricted)
	return nil
}

// Share выдает адресу права соадминистратора викторины.
// Создатель управляет викториной и без этого, поэтому его адрес не дублируется.
func (s *AccessService) Share(ctx context.Context, quizID uint, actorEmail, email string) error {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return fmt.Errorf("%w: only quiz managers can share the quiz", apperrors.ErrForbidden)
	}

	n := entity.NormalizeEmail(email)
	if n == "" {
		return fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}
	if n == entity.NormalizeEmail(quiz.CreatorEmail) {
		return nil
	}
	for _, e := range quiz.SharedWith {
		if e == n {
			return nil
		}
	}

	shared := make(entity.StringArray, len(quiz.SharedWith), len(quiz.SharedWith)+1)
	copy(shared, quiz.SharedWith)
	shared = append(shared, n)

	if err := s.quizRepo.UpdateSharedWith(quizID, shared); err != nil {
		return fmt.Errorf("failed to share quiz: %w", err)
	}
	log.Printf("[AccessService] Викторина ID=%d теперь доступна соадминистратору %s", quizID, n)
	return nil
}

// Unshare отзывает права соадминистратора. Отзыв отсутствующего адреса
// не считается ошибкой.
func (s *AccessService) Unshare(ctx context.Context, quizID uint, actorEmail, email string) error {
	quiz, err := s.quizRepo.GetByID(quizID)
	if err != nil {
		return err
	}
	if !canManageQuiz(s.roster, quiz, actorEmail) {
		return fmt.Errorf("%w: only quiz managers can share the quiz", apperrors.ErrForbidden)
	}

	n := entity.NormalizeEmail(email)
	if n == "" {
		return fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}

	shared := make(entity.StringArray, 0, len(quiz.SharedWith))
	removed := false
	for _, e := range quiz.SharedWith {
		if e == n {
			removed = true
			continue
		}
		shared = append(shared, e)
	}
	if !removed {
		return nil
	}

	if err := s.quizRepo.UpdateSharedWith(quizID, shared); err != nil {
		return fmt.Errorf("failed to unshare quiz: %w", err)
	}
	log.Printf("[AccessService] Викторина ID=%d: права соадминистратора %s отозваны", quizID, n)
	return nil
}
