package startup

import (
	"context"
	"time"

	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/typing"
	typingmemory "github.com/obcare/backend/internal/typing/memory"
	typingredis "github.com/obcare/backend/internal/typing/redis"
)

// ConnectTypingStore выбирает хранилище typing-статусов: Redis, если задан
// URL, иначе in-memory. Недоступный Redis — повод для fallback, не для
// падения: индикатор набора не стоит остановки сервиса.
func ConnectTypingStore(redisURL string, ttl time.Duration) typing.Store {
	if redisURL == "" {
		logger.Info("typing store: in-memory (no redis url)")
		return typingmemory.New(ttl)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := typingredis.New(ctx, redisURL, ttl)
	if err != nil {
		logger.Errorf("typing store: redis unavailable, falling back to in-memory: %v", err)
		return typingmemory.New(ttl)
	}
	logger.Info("typing store: redis")
	return store
}
