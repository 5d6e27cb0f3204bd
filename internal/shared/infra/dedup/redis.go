package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
)

// RedisProcessedStore registra eventIds procesados con SETNX + TTL. El TTL
// acota la ventana de deduplicación: pasada la ventana, un duplicado muy
// tardío volvería a procesarse, por eso debe superar con margen el máximo
// de reintentos del outbox.
type RedisProcessedStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisProcessedStore(client *redis.Client, ttl time.Duration) *RedisProcessedStore {
	return &RedisProcessedStore{client: client, ttl: ttl}
}

func (s *RedisProcessedStore) SetIfAbsent(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("processed:%s:%s", consumer, eventID)
	return s.client.SetNX(ctx, key, 1, s.ttl).Result()
}

// Release borra la clave: el efecto que protegía la marca falló y la
// reentrega del evento debe volver a intentarlo.
func (s *RedisProcessedStore) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key := fmt.Sprintf("processed:%s:%s", consumer, eventID)
	return s.client.Del(ctx, key).Err()
}

// Verificación estática
var _ sharedDomain.ProcessedStore = (*RedisProcessedStore)(nil)
