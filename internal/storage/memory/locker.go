package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker - блокировка по ключу ресурса в пределах процесса.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewKeyedLocker создаёт пустой набор блокировок.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*lockEntry)}
}

func (l *KeyedLocker) acquireEntry(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) releaseEntry(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock ждёт блокировку key до отмены ctx.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (domain.UnlockFunc, error) {
	e := l.acquireEntry(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseEntry(key, e)
		return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.releaseEntry(key, e)
		})
	}, nil
}

var _ domain.ResourceLocker = (*KeyedLocker)(nil)
