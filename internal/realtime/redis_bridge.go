package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// имя Redis-канала для межэкземплярной рассылки событий
const bridgeChannel = "livequiz:events"

// bridgeMessage - конверт события для передачи между экземплярами.
// InstanceID нужен для подавления эха: экземпляр игнорирует собственные сообщения.
type bridgeMessage struct {
	InstanceID string    `json:"instance_id"`
	QuizID     uint      `json:"quiz_id"`
	Event      Event     `json:"event"`
	Timestamp  time.Time `json:"timestamp"`
}

// RedisBridge расширяет локальный хаб рассылкой через Redis Pub/Sub,
// чтобы подписчики на разных экземплярах API получали одни и те же события.
// При недоступности Redis события продолжают доставляться локально.
type RedisBridge struct {
	local      *Hub
	client     redis.UniversalClient
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewRedisBridge создает мост поверх локального хаба, используя существующий клиент
func NewRedisBridge(local *Hub, client redis.UniversalClient) (*RedisBridge, error) {
	if local == nil {
		return nil, errors.New("local hub cannot be nil for RedisBridge")
	}
	if client == nil {
		return nil, errors.New("redis client cannot be nil for RedisBridge")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("provided redis client failed ping check: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBridge{
		local:      local,
		client:     client,
		instanceID: uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start подписывается на канал моста и пересылает чужие события в локальный хаб
func (b *RedisBridge) Start() error {
	pubsub := b.client.Subscribe(b.ctx, bridgeChannel)

	// Ждем подтверждения подписки
	if _, err := pubsub.Receive(b.ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to bridge channel %s: %w", bridgeChannel, err)
	}

	log.Printf("[RealtimeBridge] Подписка на канал %s установлена, instance %s", bridgeChannel, b.instanceID)

	go func() {
		defer pubsub.Close()
		redisCh := pubsub.Channel()
		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					log.Printf("[RealtimeBridge] Канал %s закрыт со стороны Redis", bridgeChannel)
					return
				}

				var envelope bridgeMessage
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					log.Printf("[RealtimeBridge] Ошибка десериализации сообщения моста: %v", err)
					continue
				}

				// Пропускаем сообщения от самого себя
				if envelope.InstanceID == b.instanceID {
					continue
				}

				b.local.Publish(envelope.QuizID, envelope.Event)
			}
		}
	}()

	return nil
}

// Stop останавливает пересылку событий
func (b *RedisBridge) Stop() {
	b.cancel()
}

// Publish рассылает событие локально и публикует его в канал моста
func (b *RedisBridge) Publish(quizID uint, event Event) {
	b.local.Publish(quizID, event)

	envelope := bridgeMessage{
		InstanceID: b.instanceID,
		QuizID:     quizID,
		Event:      event,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("[RealtimeBridge] Ошибка сериализации события %s: %v", event.Type, err)
		return
	}

	if err := b.client.Publish(b.ctx, bridgeChannel, data).Err(); err != nil {
		// Локальная доставка уже состоялась; рассылку в кластер только логируем
		log.Printf("[RealtimeBridge] Ошибка публикации события %s в Redis: %v", event.Type, err)
	}
}

// Subscribe делегирует подписку локальному хабу
func (b *RedisBridge) Subscribe(quizID uint) (<-chan Event, func()) {
	return b.local.Subscribe(quizID)
}
