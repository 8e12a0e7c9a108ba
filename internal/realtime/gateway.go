package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Время, которое разрешено писать сообщение клиенту
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения
	maxMessageSize = 512

	// TTL межинстансной блокировки сессии; продлевается на каждом pong
	sessionLockTTL = 60 * time.Second
)

// SessionLocker хранит межинстансные блокировки активных сессий.
// Реализуется репозиторием кеша поверх Redis.
type SessionLocker interface {
	Set(key string, value interface{}, expiration time.Duration) error
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(key string) error
}

// session - одно активное WebSocket соединение участника
type session struct {
	conn   *websocket.Conn
	cancel func() // отписка от брокера
}

// Gateway принимает WebSocket подключения и транслирует в них события
// брокера для выбранной викторины. Поток односторонний: входящие
// сообщения клиента игнорируются, состояние меняется только через HTTP API.
type Gateway struct {
	broker Broker
	locker SessionLocker

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session // ключ: "quizID:userID"
}

// NewGateway создает шлюз событий. allowedOrigins - список разрешенных
// Origin для браузерных клиентов, пустой список разрешает все.
// locker может быть nil: блокировка сессий тогда не выполняется.
func NewGateway(broker Broker, locker SessionLocker, allowedOrigins []string) *Gateway {
	g := &Gateway{
		broker:   broker,
		locker:   locker,
		sessions: make(map[string]*session),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Пустой Origin - не браузерный клиент (мобильное приложение, curl и т.д.)
			// Разрешаем такие подключения
			if origin == "" {
				return true
			}

			if len(allowedOrigins) == 0 {
				return true
			}

			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}

			log.Printf("[Gateway] Отклонен недоверенный origin: %s", origin)
			return false
		},
		EnableCompression: true,
	}
	return g
}

func sessionKey(quizID uint, userID string) string {
	return fmt.Sprintf("%d:%s", quizID, userID)
}

func lockKey(quizID uint, userID string) string {
	return fmt.Sprintf("ws:lock:%d:%s", quizID, userID)
}

// Serve обрабатывает подключение аутентифицированного участника к потоку
// событий викторины. Для пары (викторина, пользователь) допускается одна
// активная сессия: новое подключение вытесняет предыдущее.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, quizID uint, userID string) {
	if !g.claimSession(w, quizID, userID) {
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам отправляет HTTP ошибку клиенту
		log.Printf("[Gateway] Ошибка апгрейда соединения (quiz=%d, user=%s): %v", quizID, userID, err)
		g.releaseLock(quizID, userID)
		return
	}

	events, cancel := g.broker.Subscribe(quizID)
	s := &session{conn: conn, cancel: cancel}

	g.mu.Lock()
	g.sessions[sessionKey(quizID, userID)] = s
	g.mu.Unlock()

	log.Printf("[Gateway] Сессия открыта: quiz=%d, user=%s", quizID, userID)

	go g.writePump(s, events, quizID, userID)
	go g.readPump(s, quizID, userID)
}

// ActiveSessions возвращает число открытых сессий шлюза
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// claimSession захватывает блокировку сессии. Возвращает false, если
// сессия удерживается другим инстансом и вытеснить ее отсюда нельзя.
func (g *Gateway) claimSession(w http.ResponseWriter, quizID uint, userID string) bool {
	key := sessionKey(quizID, userID)

	// Локальную сессию вытесняем всегда
	g.mu.Lock()
	old, ok := g.sessions[key]
	if ok {
		delete(g.sessions, key)
	}
	g.mu.Unlock()
	if ok {
		log.Printf("[Gateway] Вытеснение предыдущей сессии: quiz=%d, user=%s", quizID, userID)
		deadline := time.Now().Add(writeWait)
		old.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "connection replaced"), deadline)
		old.conn.Close()
		g.releaseLock(quizID, userID)
	}

	if g.locker == nil {
		return true
	}

	acquired, err := g.locker.SetNX(lockKey(quizID, userID), "1", sessionLockTTL)
	if err != nil {
		// Redis недоступен: работаем без межинстансной блокировки
		log.Printf("[Gateway] Ошибка блокировки сессии (quiz=%d, user=%s): %v", quizID, userID, err)
		return true
	}
	if !acquired {
		http.Error(w, "connection already active on another instance", http.StatusConflict)
		return false
	}
	return true
}

// teardown закрывает сессию, отписывается от брокера и снимает блокировку,
// если сессия к этому моменту не была вытеснена новой
func (g *Gateway) teardown(s *session, quizID uint, userID string) {
	s.cancel()
	s.conn.Close()

	key := sessionKey(quizID, userID)
	g.mu.Lock()
	current := g.sessions[key] == s
	if current {
		delete(g.sessions, key)
	}
	g.mu.Unlock()

	// Вытесненная сессия блокировку не трогает: она уже перезахвачена
	if current {
		g.releaseLock(quizID, userID)
	}
	log.Printf("[Gateway] Сессия закрыта: quiz=%d, user=%s", quizID, userID)
}

// readPump читает сообщения клиента. Данные не обрабатываются, цикл нужен
// для ping/pong и обнаружения разрыва соединения.
func (g *Gateway) readPump(s *session, quizID uint, userID string) {
	defer g.teardown(s, quizID, userID)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		g.refreshLock(quizID, userID)
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("[Gateway] Ошибка чтения (quiz=%d, user=%s): %v", quizID, userID, err)
			}
			break
		}
	}
}

// writePump транслирует события брокера в соединение и шлет ping по таймеру
func (g *Gateway) writePump(s *session, events <-chan Event, quizID uint, userID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case event, ok := <-events:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Подписка закрыта
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(event)
			if err != nil {
				log.Printf("[Gateway] Ошибка сериализации события %s: %v", event.Type, err)
				continue
			}

			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				log.Printf("[Gateway] Ошибка записи события (quiz=%d, user=%s): %v", quizID, userID, err)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// refreshLock продлевает TTL блокировки сессии
func (g *Gateway) refreshLock(quizID uint, userID string) {
	if g.locker == nil {
		return
	}
	if err := g.locker.Set(lockKey(quizID, userID), "1", sessionLockTTL); err != nil {
		log.Printf("[Gateway] Ошибка продления блокировки сессии (quiz=%d, user=%s): %v", quizID, userID, err)
	}
}

// releaseLock снимает блокировку сессии
func (g *Gateway) releaseLock(quizID uint, userID string) {
	if g.locker == nil {
		return
	}
	if err := g.locker.Delete(lockKey(quizID, userID)); err != nil {
		log.Printf("[Gateway] Ошибка снятия блокировки сессии (quiz=%d, user=%s): %v", quizID, userID, err)
	}
}
