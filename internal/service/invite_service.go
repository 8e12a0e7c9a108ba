package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/resend/resend-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// QuizInviteSender отправляет приглашения на участие в викторине
type QuizInviteSender interface {
	SendQuizInvites(ctx context.Context, quiz *entity.Quiz, emails []string) error
}

// NoopInviteSender используется, когда отправка приглашений отключена
type NoopInviteSender struct{}

func (s *NoopInviteSender) SendQuizInvites(ctx context.Context, quiz *entity.Quiz, emails []string) error {
	log.Printf("[InviteSender] noop: приглашения для викторины ID=%d не отправлены (%d адресов)", quiz.ID, len(emails))
	return nil
}

// Количество одновременных запросов к Resend при рассылке приглашений
const inviteSendConcurrency = 4

// ResendInviteSender отправляет приглашения через Resend REST API.
// Адреса рассылаются параллельно; сбой по одному адресу логируется и не
// прерывает отправку остальным.
type ResendInviteSender struct {
	from    string
	joinURL string
	client  *resend.Client
}

// NewResendInviteSender создает отправитель приглашений.
// joinURL - базовый адрес страницы входа, к которому добавляется код викторины.
func NewResendInviteSender(apiKey, from, joinURL string) (*ResendInviteSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("invite from address is required")
	}
	return &ResendInviteSender{
		from:    from,
		joinURL: strings.TrimRight(joinURL, "/"),
		client:  resend.NewClient(apiKey),
	}, nil
}

func (s *ResendInviteSender) SendQuizInvites(ctx context.Context, quiz *entity.Quiz, emails []string) error {
	if quiz == nil || len(emails) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(inviteSendConcurrency)

	var failed atomic.Int32
	for _, to := range emails {
		g.Go(func() error {
			if err := s.sendInvite(ctx, quiz, to); err != nil {
				failed.Add(1)
				log.Printf("[InviteSender] Ошибка отправки приглашения %s для викторины ID=%d: %v", to, quiz.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("не удалось отправить %d из %d приглашений", n, len(emails))
	}
	log.Printf("[InviteSender] Отправлено %d приглашений для викторины ID=%d (код %s)", len(emails), quiz.ID, quiz.Code)
	return nil
}

func (s *ResendInviteSender) sendInvite(ctx context.Context, quiz *entity.Quiz, toEmail string) error {
	if toEmail == "" {
		return fmt.Errorf("toEmail is required")
	}

	link := s.joinURL
	if link != "" {
		link = fmt.Sprintf("%s/%s", s.joinURL, quiz.Code)
	}

	text := fmt.Sprintf("Вас пригласили на викторину %q. Код входа: %s.", quiz.Title, quiz.Code)
	html := fmt.Sprintf("<p>Вас пригласили на викторину <strong>%s</strong>.</p><p>Код входа: <strong>%s</strong></p>", quiz.Title, quiz.Code)
	if link != "" {
		text += fmt.Sprintf(" Присоединиться: %s", link)
		html += fmt.Sprintf("<p><a href=%q>Присоединиться</a></p>", link)
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: fmt.Sprintf("Приглашение на викторину: %s", quiz.Title),
		Text:    text,
		Html:    html,
	}

	// Ключ идемпотентности стабилен между ретраями одного приглашения
	options := &resend.SendEmailOptions{
		IdempotencyKey: fmt.Sprintf("quiz-invite/%d/%s", quiz.ID, toEmail),
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

// resendRetryDelay решает, стоит ли повторить отправку после ошибки,
// и возвращает задержку перед повтором
func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && (netErr.Timeout() || netErr.Temporary()) {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}
