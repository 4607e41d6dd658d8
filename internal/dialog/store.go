package dialog

import (
	"sync"
	"time"
)

const (
	// DefaultInactivityReset через сколько простоя новое сообщение начинает диалог заново.
	DefaultInactivityReset = 3 * time.Minute
	// DefaultTTL через сколько простоя контекст удаляется из памяти целиком.
	DefaultTTL = 180 * time.Second
)

// contextData содержит историю пользователя и время последнего изменения.
type contextData struct {
	messages    []Turn
	lastUpdated time.Time
}

// Store потокобезопасное in-memory хранилище контекста диалогов, ключ: Telegram user id.
// Все изменения, включая очистку по TTL, выполняются под одной блокировкой,
// поэтому удалённая запись не может «воскреснуть» со старой историей.
type Store struct {
	mu              sync.RWMutex
	contexts        map[int64]*contextData
	inactivityReset time.Duration
	now             func() time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore создаёт хранилище контекста.
// inactivityReset: порог простоя, после которого Append очищает историю.
// Если inactivityReset == 0, история по простою не сбрасывается.
func NewStore(inactivityReset time.Duration, opts ...Option) *Store {
	s := &Store{
		contexts:        make(map[int64]*contextData),
		inactivityReset: inactivityReset,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append добавляет реплику в контекст пользователя.
// Если контекста нет или пользователь молчал дольше порога, история сначала очищается.
func (s *Store) Append(userID int64, role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	data, ok := s.contexts[userID]
	switch {
	case !ok:
		data = &contextData{}
		s.contexts[userID] = data
	case s.inactivityReset > 0 && now.Sub(data.lastUpdated) > s.inactivityReset:
		data.messages = nil
	}

	data.messages = append(data.messages, Turn{Role: role, Content: content})
	data.touch(now)
}

// Snapshot возвращает копию истории пользователя (oldest first).
// Для неизвестного пользователя возвращает nil.
func (s *Store) Snapshot(userID int64) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.contexts[userID]
	if !ok || len(data.messages) == 0 {
		return nil
	}

	turns := make([]Turn, len(data.messages))
	copy(turns, data.messages)
	return turns
}

// Reset очищает историю пользователя и обновляет время последнего изменения.
// Создаёт запись, если её не было. Идемпотентен.
func (s *Store) Reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.contexts[userID]
	if !ok {
		data = &contextData{}
		s.contexts[userID] = data
	}
	data.messages = nil
	data.touch(s.now())
}

// SweepExpired удаляет контексты, которые не менялись дольше ttl.
// Возвращает идентификаторы удалённых пользователей.
func (s *Store) SweepExpired(ttl time.Duration) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var evicted []int64
	for userID, data := range s.contexts {
		if now.Sub(data.lastUpdated) > ttl {
			delete(s.contexts, userID)
			evicted = append(evicted, userID)
		}
	}
	return evicted
}

// Len возвращает количество активных контекстов.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// touch обновляет lastUpdated, не допуская движения назад при сдвиге часов.
func (d *contextData) touch(now time.Time) {
	if now.After(d.lastUpdated) {
		d.lastUpdated = now
	}
}
