package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocker подменяет межинстансную блокировку сессий в тестах
type fakeLocker struct {
	mu         sync.Mutex
	setNXOK    bool
	setNXErr   error
	deleteKeys []string
}

func (f *fakeLocker) Set(key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (f *fakeLocker) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	return f.setNXOK, f.setNXErr
}

func (f *fakeLocker) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteKeys = append(f.deleteKeys, key)
	return nil
}

// newGatewayServer поднимает тестовый HTTP сервер, отдающий подключения шлюзу.
// Пользователь берется из query параметра user.
func newGatewayServer(t *testing.T, g *Gateway, quizID uint) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.Serve(w, r, quizID, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialGateway(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "WebSocket подключение должно установиться")
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ============================================================================
// Поток событий
// ============================================================================

func TestGateway_DeliversBrokerEvents(t *testing.T) {
	// Arrange
	hub := NewHub()
	g := NewGateway(hub, nil, nil)
	srv := newGatewayServer(t, g, 42)

	conn := dialGateway(t, srv, "user-1")
	require.Eventually(t, func() bool { return g.ActiveSessions() == 1 },
		time.Second, 10*time.Millisecond, "сессия должна зарегистрироваться")

	// Act
	hub.Publish(42, Event{Type: EventQuizStatus, Data: StatusData{QuizID: 42, Status: "live", CurrentQuestionIndex: 0}})

	// Assert
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, EventQuizStatus, ev.Type)

	var data StatusData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, uint(42), data.QuizID)
	assert.Equal(t, "live", data.Status)
}

func TestGateway_DisconnectCleansUp(t *testing.T) {
	// Arrange
	hub := NewHub()
	g := NewGateway(hub, nil, nil)
	srv := newGatewayServer(t, g, 42)

	conn := dialGateway(t, srv, "user-1")
	require.Eventually(t, func() bool { return g.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)
	require.Equal(t, 1, hub.SubscriberCount(42))

	// Act
	conn.Close()

	// Assert: сессия снята, подписка на брокер отменена
	assert.Eventually(t, func() bool { return g.ActiveSessions() == 0 },
		2*time.Second, 10*time.Millisecond, "сессия должна закрыться после разрыва")
	assert.Eventually(t, func() bool { return hub.SubscriberCount(42) == 0 },
		2*time.Second, 10*time.Millisecond, "подписка должна отмениться")
}

func TestGateway_ReplacesExistingSession(t *testing.T) {
	// Arrange: у пары (викторина, пользователь) может быть одна сессия
	hub := NewHub()
	g := NewGateway(hub, nil, nil)
	srv := newGatewayServer(t, g, 42)

	first := dialGateway(t, srv, "user-1")
	require.Eventually(t, func() bool { return g.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	// Act: повторное подключение того же пользователя
	second := dialGateway(t, srv, "user-1")

	// Assert: первое соединение закрывается с policy violation
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation),
		"Вытесненная сессия должна получить close 1008, получено: %v", err)

	// Новая сессия работает и получает события
	require.Eventually(t, func() bool { return g.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)
	hub.Publish(42, Event{Type: EventParticipantJoined, Data: ParticipantData{QuizID: 42, UserID: "user-2"}})

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), EventParticipantJoined)
}

// ============================================================================
// Межинстансная блокировка сессий
// ============================================================================

func TestGateway_ClaimSession_ConflictOnAnotherInstance(t *testing.T) {
	// Arrange: блокировка удерживается другим экземпляром API
	locker := &fakeLocker{setNXOK: false}
	g := NewGateway(NewHub(), locker, nil)
	w := httptest.NewRecorder()

	// Act
	ok := g.claimSession(w, 42, "user-1")

	// Assert
	assert.False(t, ok)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "another instance")
}

func TestGateway_ClaimSession_FailOpenOnLockerError(t *testing.T) {
	// Arrange: Redis недоступен, подключения продолжают приниматься
	locker := &fakeLocker{setNXErr: errors.New("connection refused")}
	g := NewGateway(NewHub(), locker, nil)
	w := httptest.NewRecorder()

	// Act
	ok := g.claimSession(w, 42, "user-1")

	// Assert
	assert.True(t, ok, "При ошибке блокировки подключение должно приниматься")
}

func TestGateway_ClaimSession_NilLocker(t *testing.T) {
	// Arrange
	g := NewGateway(NewHub(), nil, nil)
	w := httptest.NewRecorder()

	// Act & Assert
	assert.True(t, g.claimSession(w, 42, "user-1"))
}

func TestGateway_TeardownReleasesLock(t *testing.T) {
	// Arrange: подключение с захваченной блокировкой
	locker := &fakeLocker{setNXOK: true}
	hub := NewHub()
	g := NewGateway(hub, locker, nil)
	srv := newGatewayServer(t, g, 7)

	conn := dialGateway(t, srv, "user-9")
	require.Eventually(t, func() bool { return g.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	// Act
	conn.Close()

	// Assert: блокировка снята по ключу сессии
	assert.Eventually(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		for _, key := range locker.deleteKeys {
			if key == "ws:lock:7:user-9" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "блокировка должна сниматься при закрытии сессии")
}

// ============================================================================
// Проверка Origin
// ============================================================================

func TestGateway_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			allowed: []string{"https://app.example.com"},
			origin:  "",
			want:    true,
		},
		{
			name:    "empty allowlist allows all",
			allowed: nil,
			origin:  "https://anything.example.com",
			want:    true,
		},
		{
			name:    "listed origin",
			allowed: []string{"https://app.example.com", "http://localhost:5173"},
			origin:  "http://localhost:5173",
			want:    true,
		},
		{
			name:    "unlisted origin",
			allowed: []string{"https://app.example.com"},
			origin:  "https://evil.example.com",
			want:    false,
		},
		{
			name:    "scheme mismatch",
			allowed: []string{"https://app.example.com"},
			origin:  "http://app.example.com",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			g := NewGateway(NewHub(), nil, tt.allowed)
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			// Act & Assert
			assert.Equal(t, tt.want, g.upgrader.CheckOrigin(req))
		})
	}
}
