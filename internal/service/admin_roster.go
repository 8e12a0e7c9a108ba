package service

import (
	"log"
	"sort"
	"sync"

	"github.com/yourusername/livequiz-api/internal/domain/entity"
)

// AdminRoster хранит список почтовых адресов платформенных администраторов.
// Список задается конфигурацией при старте и может быть заменен целиком
// без перезапуска (Replace); подписчики уведомляются о каждой замене.
// Все операции безопасны для конкурентного использования.
type AdminRoster struct {
	mu     sync.RWMutex
	emails map[string]struct{}
	subs   []func([]string)
}

// NewAdminRoster создает реестр администраторов из начального списка.
// Адреса нормализуются (trim + нижний регистр), дубликаты схлопываются.
func NewAdminRoster(emails []string) *AdminRoster {
	r := &AdminRoster{emails: make(map[string]struct{})}
	for _, e := range emails {
		if n := entity.NormalizeEmail(e); n != "" {
			r.emails[n] = struct{}{}
		}
	}
	return r
}

// IsAdmin проверяет, входит ли адрес в реестр администраторов
func (r *AdminRoster) IsAdmin(email string) bool {
	n := entity.NormalizeEmail(email)
	if n == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.emails[n]
	return ok
}

// List возвращает отсортированную копию реестра
func (r *AdminRoster) List() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.emails))
	for e := range r.emails {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Replace целиком заменяет реестр новым списком и уведомляет подписчиков.
// Пустой список допустим: в этом случае административных прав нет ни у кого,
// кроме создателей собственных викторин.
func (r *AdminRoster) Replace(emails []string) {
	next := make(map[string]struct{})
	for _, e := range emails {
		if n := entity.NormalizeEmail(e); n != "" {
			next[n] = struct{}{}
		}
	}

	r.mu.Lock()
	r.emails = next
	subs := make([]func([]string), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	log.Printf("[AdminRoster] Реестр администраторов заменен: %d адресов", len(next))

	snapshot := r.List()
	for _, fn := range subs {
		fn(snapshot)
	}
}

// Subscribe регистрирует функцию, вызываемую при каждой замене реестра.
// Подписчик получает отсортированный снимок нового списка.
func (r *AdminRoster) Subscribe(fn func([]string)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.subs = append(r.subs, fn)
	r.mu.Unlock()
}
