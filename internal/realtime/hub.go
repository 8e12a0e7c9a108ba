package realtime

import (
	"sync"
)

// Broker - явный интерфейс подписки на события викторины.
// Сервисы публикуют изменения, шлюзы (WebSocket) подписываются по ID викторины.
// Доставка негарантированная: медленный подписчик теряет события, клиент обязан
// уметь перечитать полное состояние.
type Broker interface {
	// Publish рассылает событие всем подписчикам викторины
	Publish(quizID uint, event Event)
	// Subscribe возвращает канал событий викторины и функцию отписки.
	// Канал закрывается при отписке.
	Subscribe(quizID uint) (<-chan Event, func())
}

// размер буфера канала подписчика; при переполнении событие сбрасывается
const subscriberBuffer = 16

// Hub - внутрипроцессная реализация Broker с подписчиками по викторинам
type Hub struct {
	mu   sync.RWMutex
	subs map[uint]map[chan Event]struct{}
}

// NewHub создает новый хаб событий
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uint]map[chan Event]struct{}),
	}
}

// Publish рассылает событие всем подписчикам викторины
func (h *Hub) Publish(quizID uint, event Event) {
	h.mu.RLock()
	for ch := range h.subs[quizID] {
		select {
		case ch <- event:
		default:
			// Медленный подписчик: событие сброшено
		}
	}
	h.mu.RUnlock()
}

// Subscribe возвращает канал событий викторины и функцию отписки
func (h *Hub) Subscribe(quizID uint) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[quizID] == nil {
		h.subs[quizID] = make(map[chan Event]struct{})
	}
	h.subs[quizID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[quizID], ch)
			if len(h.subs[quizID]) == 0 {
				delete(h.subs, quizID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

// SubscriberCount возвращает число подписчиков викторины
func (h *Hub) SubscriberCount(quizID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[quizID])
}
