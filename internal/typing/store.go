// Package typing хранит эфемерные флаги «пользователь печатает» с TTL.
// Флаги не пишутся в БД: пропавший клиент просто перестаёт продлевать ключ,
// и индикатор гаснет сам. Реализации: redis.Client, memory.Client (для -dev).
package typing

import (
	"context"
	"time"
)

// DefaultTTL — срок жизни флага без продления. Клиент шлёт typing не чаще
// раза в пару секунд, так что шестисекундный запас покрывает потерю пакета.
const DefaultTTL = 6 * time.Second

// Store — TTL-хранилище флагов набора текста по комнатам.
type Store interface {
	// Set ставит (typing=true) или снимает (typing=false) флаг пользователя в комнате.
	Set(ctx context.Context, roomID, userID string, typing bool) error
	// List возвращает id пользователей, печатающих в комнате прямо сейчас.
	List(ctx context.Context, roomID string) ([]string, error)
	Close() error
}
